package locking

// NoOpGroup is a Group that performs no locking. Every call runs fn
// immediately. Useful in tests and for read-only caches.
type NoOpGroup struct{}

// NewNoOpGroup creates a new NoOpGroup.
func NewNoOpGroup() *NoOpGroup {
	return &NoOpGroup{}
}

func (n *NoOpGroup) DoWithLock(key string, fn func() error) error {
	return fn()
}
