package ports

// Watcher reports changes to program files so cached artifacts can be revalidated
// before the next request arrives.
//
//go:generate mockgen -source=watcher.go -destination=mocks/mock_watcher.go -package=mocks
type Watcher interface {
	// Watch starts reporting changes to the file at path. Watching a path twice is a no-op.
	Watch(path string) error
	// Close stops watching and releases all resources.
	Close() error
}

// WatcherFactory creates a Watcher that calls onChange with the changed paths.
type WatcherFactory func(onChange func(paths []string)) (Watcher, error)
