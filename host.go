package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/richardartoul/wallcache/config"
	"github.com/richardartoul/wallcache/wallpaper"
)

// Cmd is a host protocol command.
type Cmd string

const (
	CmdRestore          = Cmd("restore")
	CmdSave             = Cmd("save")
	CmdSetPath          = Cmd("set_path")
	CmdSetBoundingRect  = Cmd("set_bounding_rect")
	CmdSetTargetSize    = Cmd("set_target_size")
	CmdSetResizeMethod  = Cmd("set_resize_method")
	CmdSetRenderingMode = Cmd("set_rendering_mode")
	CmdSetFill          = Cmd("set_fill")
	CmdAddURLs          = Cmd("add_urls")
	CmdRender           = Cmd("render")
	CmdCacheKey         = Cmd("cache_key")
	CmdClose            = Cmd("close")
)

var knownCommands = []Cmd{
	CmdRestore, CmdSave, CmdSetPath, CmdSetBoundingRect, CmdSetTargetSize,
	CmdSetResizeMethod, CmdSetRenderingMode, CmdSetFill, CmdAddURLs,
	CmdRender, CmdCacheKey, CmdClose,
}

// Events sent with ID 0.
const (
	EventRenderHintsChanged    = "render_hints_changed"
	EventConfigurationRequired = "configuration_required"
)

// Request is one line sent by the host shell.
type Request struct {
	ID       int64
	Command  Cmd
	Settings map[string]string `json:",omitempty"`
	Path     string            `json:",omitempty"`
	Rect     *wallpaper.Rect   `json:",omitempty"`
	Size     *wallpaper.Size   `json:",omitempty"`
	Method   string            `json:",omitempty"`
	Mode     string            `json:",omitempty"`
	Color    string            `json:",omitempty"`
	URLs     []string          `json:",omitempty"`
}

// Response answers a Request, or carries an event when ID is 0.
type Response struct {
	ID            int64             `json:",omitempty"`
	Err           string            `json:",omitempty"`
	KnownCommands []Cmd             `json:",omitempty"`
	Event         string            `json:",omitempty"`
	NeedsConfig   *bool             `json:",omitempty"`
	Initialized   bool              `json:",omitempty"`
	Settings      map[string]string `json:",omitempty"`
	Key           string            `json:",omitempty"`
	DiskPath      string            `json:",omitempty"`
	Mode          string            `json:",omitempty"`
}

// Host drives one wallpaper Backend from a JSON-lines stream, the way a
// desktop shell drives the wallpaper of one screen.
type Host struct {
	backend *wallpaper.Backend
	group   *config.Group
	persist func() error
	logger  *slog.Logger

	scanner *bufio.Scanner
	writer  *bufio.Writer
	sendErr error
}

// NewHost creates a host protocol instance. group holds the wallpaper's
// settings; persist, if non-nil, runs after every save.
func NewHost(backend *wallpaper.Backend, group *config.Group, persist func() error, in io.Reader, out io.Writer, logger *slog.Logger) *Host {
	scanner := bufio.NewScanner(in)
	const maxScanTokenSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	h := &Host{
		backend: backend,
		group:   group,
		persist: persist,
		logger:  logger,
		scanner: scanner,
		writer:  bufio.NewWriter(out),
	}
	backend.OnRenderHintsChanged(func() {
		h.sendEvent(Response{Event: EventRenderHintsChanged})
	})
	backend.OnConfigurationRequired(func(needed bool) {
		h.sendEvent(Response{Event: EventConfigurationRequired, NeedsConfig: &needed})
	})
	return h
}

func (h *Host) sendEvent(resp Response) {
	if err := h.SendResponse(resp); err != nil && h.sendErr == nil {
		h.sendErr = err
	}
}

// SendResponse writes one response line.
func (h *Host) SendResponse(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	if _, err := h.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	if err := h.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return h.writer.Flush()
}

// ReadRequest reads the next non-empty request line.
func (h *Host) ReadRequest() (*Request, error) {
	var line string
	for {
		if !h.scanner.Scan() {
			if err := h.scanner.Err(); err != nil {
				return nil, fmt.Errorf("failed to read request: %w", err)
			}
			return nil, io.EOF
		}
		line = h.scanner.Text()
		if strings.TrimSpace(line) != "" {
			break
		}
	}

	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w (line: %q)", err, line)
	}
	return &req, nil
}

// HandleRequest applies req to the backend and answers it.
func (h *Host) HandleRequest(ctx context.Context, req *Request) error {
	resp := Response{ID: req.ID}
	if err := h.apply(ctx, req, &resp); err != nil {
		resp.Err = err.Error()
	}
	if err := h.SendResponse(resp); err != nil {
		return err
	}
	err := h.sendErr
	h.sendErr = nil
	return err
}

func (h *Host) apply(ctx context.Context, req *Request, resp *Response) error {
	b := h.backend

	switch req.Command {
	case CmdRestore:
		if req.Settings != nil {
			for _, k := range h.group.Keys() {
				h.group.Delete(k)
			}
			for _, k := range sortedKeys(req.Settings) {
				h.group.WriteString(k, req.Settings[k])
			}
		}
		if err := b.Restore(h.group); err != nil {
			return err
		}
		resp.Initialized = b.IsInitialized()
		needs := b.ConfigurationRequired()
		resp.NeedsConfig = &needs

	case CmdSave:
		if err := b.Save(h.group); err != nil {
			return err
		}
		if h.persist != nil {
			if err := h.persist(); err != nil {
				return err
			}
		}
		resp.Settings = make(map[string]string, h.group.Len())
		for _, k := range h.group.Keys() {
			resp.Settings[k] = h.group.ReadString(k, "")
		}

	case CmdSetPath:
		// Rejected paths leave the backend untouched; report and carry on.
		return b.SetWallpaperPath(req.Path)

	case CmdSetBoundingRect:
		if req.Rect == nil {
			return fmt.Errorf("missing Rect")
		}
		b.SetBoundingRect(*req.Rect)

	case CmdSetTargetSize:
		if req.Size == nil {
			return fmt.Errorf("missing Size")
		}
		b.SetTargetSizeHint(*req.Size)

	case CmdSetResizeMethod:
		m, err := wallpaper.ParseResizeMethod(req.Method)
		if err != nil {
			return err
		}
		b.SetResizeMethodHint(m)

	case CmdSetRenderingMode:
		b.SetRenderingMode(req.Mode)
		resp.Mode = b.RenderingMode().Name

	case CmdSetFill:
		c, err := wallpaper.ParseColor(req.Color)
		if err != nil {
			return err
		}
		b.SetFillColor(c)

	case CmdAddURLs:
		b.AddURLs(req.URLs)

	case CmdRender:
		if _, err := b.Render(ctx); err != nil {
			return err
		}
		rr := b.RenderRequest()
		resp.Key = rr.Key()
		if b.RendersThroughCache() {
			resp.DiskPath = b.CachePath(resp.Key)
		}

	case CmdCacheKey:
		rr := b.RenderRequest()
		if req.Path != "" {
			rr.SourcePath = req.Path
		}
		if req.Size != nil {
			rr.Size = req.Size.Point()
		}
		resp.Key = rr.Key()
		resp.DiskPath = b.CachePath(resp.Key)

	case CmdClose:
		return b.Close()

	default:
		return fmt.Errorf("unknown command: %s", req.Command)
	}
	return nil
}

// Run announces the known commands and then serves requests until EOF,
// close, or ctx is done.
func (h *Host) Run(ctx context.Context) error {
	if err := h.SendResponse(Response{KnownCommands: knownCommands}); err != nil {
		return fmt.Errorf("failed to send initial response: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		req, err := h.ReadRequest()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read request: %w", err)
		}

		h.logger.Debug("host request", "id", req.ID, "command", string(req.Command))
		if err := h.HandleRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to handle request: %w", err)
		}

		if req.Command == CmdClose {
			break
		}
	}
	return nil
}
