package wallpaper

import "errors"

var (
	// ErrInvalidSourcePath is returned when a wallpaper path does not exist.
	ErrInvalidSourcePath = errors.New("wallpaper source path does not exist")

	// ErrBackendUnavailable is returned by factories when a plugin cannot be
	// instantiated. Load turns it into a nil Backend.
	ErrBackendUnavailable = errors.New("wallpaper backend unavailable")

	// ErrNoRenderer is returned by Render when the delegate cannot produce pixels.
	ErrNoRenderer = errors.New("wallpaper delegate does not render")
)
