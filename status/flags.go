package status

import (
	"sync/atomic"

	"github.com/blockberries/nodegate/blockstore"
)

// Flags reports the node lifecycle flags. Reads are cheap and never block.
type Flags interface {
	BootstrapEnded() bool
	PreloadEnded() bool
	IsMining() bool
}

// AtomicFlags is an in-process Flags the embedding node updates as its
// lifecycle progresses.
type AtomicFlags struct {
	bootstrapEnded atomic.Bool
	preloadEnded   atomic.Bool
	isMining       atomic.Bool
}

// NewAtomicFlags creates flags initialised from f.
func NewAtomicFlags(f blockstore.FlagSet) *AtomicFlags {
	a := &AtomicFlags{}
	a.Store(f)
	return a
}

func (a *AtomicFlags) BootstrapEnded() bool { return a.bootstrapEnded.Load() }
func (a *AtomicFlags) PreloadEnded() bool   { return a.preloadEnded.Load() }
func (a *AtomicFlags) IsMining() bool       { return a.isMining.Load() }

func (a *AtomicFlags) SetBootstrapEnded(v bool) { a.bootstrapEnded.Store(v) }
func (a *AtomicFlags) SetPreloadEnded(v bool)   { a.preloadEnded.Store(v) }
func (a *AtomicFlags) SetMining(v bool)         { a.isMining.Store(v) }

// Store replaces all three flags. Readers may observe a mix of old and new
// values while Store runs.
func (a *AtomicFlags) Store(f blockstore.FlagSet) {
	a.bootstrapEnded.Store(f.BootstrapEnded)
	a.preloadEnded.Store(f.PreloadEnded)
	a.isMining.Store(f.IsMining)
}

// Load returns the current flags.
func (a *AtomicFlags) Load() blockstore.FlagSet {
	return Snapshot(a)
}

// StoreFlags reads flags from a store on every call.
type StoreFlags struct {
	Store interface{ Flags() blockstore.FlagSet }
}

func (s StoreFlags) BootstrapEnded() bool { return s.Store.Flags().BootstrapEnded }
func (s StoreFlags) PreloadEnded() bool   { return s.Store.Flags().PreloadEnded }
func (s StoreFlags) IsMining() bool       { return s.Store.Flags().IsMining }

// Snapshot copies the current values of f.
func Snapshot(f Flags) blockstore.FlagSet {
	return blockstore.FlagSet{
		BootstrapEnded: f.BootstrapEnded(),
		PreloadEnded:   f.PreloadEnded(),
		IsMining:       f.IsMining(),
	}
}

var (
	_ Flags = (*AtomicFlags)(nil)
	_ Flags = StoreFlags{}
)
