package blockstore

import (
	"fmt"
	"os"
)

// Open creates a store for the named backend. Disk backends create path if needed
// and hold an exclusive lock on it until Close.
func Open(backend, path string) (Writer, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryBlockStore(), nil
	case BackendLevelDB, BackendBadgerDB:
		if path == "" {
			return nil, fmt.Errorf("%s backend requires a path", backend)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		if backend == BackendLevelDB {
			return NewLevelDBBlockStore(path)
		}
		return NewBadgerDBBlockStore(path)
	default:
		return nil, fmt.Errorf("unknown blockstore backend %q", backend)
	}
}
