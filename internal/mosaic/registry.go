package mosaic

import (
	"context"
	"sync"
	"sync/atomic"
)

// Registry holds the current library snapshot. Reload installs a new
// snapshot atomically; renders keep the snapshot they started with.
type Registry struct {
	dir  string
	opts LibraryOptions

	current atomic.Pointer[Library]
	loadMu  sync.Mutex
}

// NewRegistry returns a registry that loads dir with opts on first use.
func NewRegistry(dir string, opts LibraryOptions) *Registry {
	return &Registry{dir: dir, opts: opts}
}

// Current returns the installed snapshot or nil before the first load.
func (r *Registry) Current() *Library {
	return r.current.Load()
}

// Get returns the installed snapshot, loading it if necessary.
func (r *Registry) Get(ctx context.Context) (*Library, error) {
	if lib := r.current.Load(); lib != nil {
		return lib, nil
	}

	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if lib := r.current.Load(); lib != nil {
		return lib, nil
	}
	return r.reloadLocked(ctx)
}

// Reload rescans the library directory and installs the result. On error
// the previous snapshot stays installed.
func (r *Registry) Reload(ctx context.Context) (*Library, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	return r.reloadLocked(ctx)
}

func (r *Registry) reloadLocked(ctx context.Context) (*Library, error) {
	lib, err := Load(ctx, r.dir, r.opts)
	if err != nil {
		return nil, err
	}
	r.current.Store(lib)
	return lib, nil
}

// Store installs lib directly.
func (r *Registry) Store(lib *Library) {
	r.current.Store(lib)
}
