// Package metrics persists per-tool invocation counts and reports them to OpenTelemetry.
package metrics

import (
	"log"
	"sync"
)

var (
	mu          sync.Mutex
	globalStore *Store
	initOnce    sync.Once
	initErr     error
	storePath   string
	disabled    bool
)

// Configure sets the database path used by Init. An empty path means DefaultPath.
// It must be called before the first Init or RecordInvocation.
func Configure(path string, off bool) {
	mu.Lock()
	defer mu.Unlock()
	storePath = path
	disabled = off
}

// Init opens the global store. Subsequent calls are no-ops.
func Init() error {
	initOnce.Do(func() {
		mu.Lock()
		path, off := storePath, disabled
		mu.Unlock()
		if off {
			return
		}

		var store *Store
		if path == "" {
			store, initErr = NewStore()
		} else {
			store, initErr = NewStoreWithPath(path)
		}
		if initErr != nil {
			log.Printf("metrics: failed to initialize store: %v", initErr)
			return
		}
		mu.Lock()
		globalStore = store
		mu.Unlock()
	})
	return initErr
}

func current() *Store {
	mu.Lock()
	defer mu.Unlock()
	return globalStore
}

// RecordInvocation counts one call of app/tool. Recording never fails the caller.
func RecordInvocation(app, tool string, failed bool) {
	store := current()
	if store == nil {
		if err := Init(); err != nil {
			log.Printf("metrics: cannot record invocation, store not initialized: %v", err)
			return
		}
		if store = current(); store == nil {
			return
		}
	}

	if err := store.Increment(app, tool, failed); err != nil {
		log.Printf("metrics: failed to record invocation for %s/%s: %v", app, tool, err)
	}
}

// GetStats returns cumulative per-tool counts, or nil when the store is unavailable.
func GetStats() []ToolStat {
	store := current()
	if store == nil {
		return nil
	}

	stats, err := store.Totals()
	if err != nil {
		log.Printf("metrics: failed to get stats: %v", err)
		return nil
	}
	return stats
}

// Close closes the global store.
func Close() error {
	if store := current(); store != nil {
		return store.Close()
	}
	return nil
}

// SetStoreForTesting replaces the global store.
func SetStoreForTesting(store *Store) {
	mu.Lock()
	defer mu.Unlock()
	globalStore = store
}

// ResetForTesting clears the global state.
func ResetForTesting() {
	mu.Lock()
	store := globalStore
	globalStore = nil
	storePath = ""
	disabled = false
	mu.Unlock()

	if store != nil {
		_ = store.Close()
	}
	initOnce = sync.Once{}
	initErr = nil
}
