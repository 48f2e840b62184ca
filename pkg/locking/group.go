package locking

// Group runs functions with mutual exclusion over string keys. The render
// cache uses it so that only one writer touches a given cache entry at a time.
type Group interface {
	// DoWithLock runs fn while holding the lock for key.
	DoWithLock(key string, fn func() error) error
}

// Pruner is implemented by groups that keep per-key state, such as lock
// files, after the lock is released.
type Pruner interface {
	// Prune drops the state of every key not locked right now.
	Prune() error
}
