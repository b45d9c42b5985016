package sds

import (
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
)

// Handle identifies an open stream. The upper 32 bits are the generation of
// the slot, the lower 32 bits the slot index. The zero handle is never valid.
type Handle uint64

func makeHandle(gen, slot uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(slot))
}

func (h Handle) slot() uint32 { return uint32(h) }
func (h Handle) gen() uint32  { return uint32(h >> 32) }

type streamKey struct {
	name string
	mode common.Mode
}

// registry maps handles to descriptors. Open and Close are serialized by mu,
// lookups go through the lock-free map only.
type registry struct {
	mu      sync.Mutex
	stopped bool
	gens    []uint32
	free    []uint32
	byKey   map[streamKey]Handle

	live *xsync.MapOf[Handle, *descriptor]
}

func newRegistry() *registry {
	return &registry{
		byKey: make(map[streamKey]Handle),
		live:  xsync.NewMapOf[Handle, *descriptor](),
	}
}

// reserve claims a handle for (name, mode). It fails with ErrConflict if the
// pair is already open or being opened.
func (r *registry) reserve(name string, mode common.Mode) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return 0, ErrNotInitialized
	}
	key := streamKey{name, mode}
	if _, ok := r.byKey[key]; ok {
		return 0, ErrConflict
	}

	var slot uint32
	if n := len(r.free); n > 0 {
		slot = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		slot = uint32(len(r.gens))
		r.gens = append(r.gens, 0)
	}
	r.gens[slot]++
	if r.gens[slot] == 0 {
		r.gens[slot] = 1
	}

	h := makeHandle(r.gens[slot], slot)
	r.byKey[key] = h
	return h, nil
}

// publish makes a reserved handle usable. It returns false once the registry
// is stopped, the caller then owns d and must release it.
func (r *registry) publish(d *descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.live.Store(d.handle, d)
	return true
}

// release returns a handle to the free list, used for reservations that
// never got published and by remove
func (r *registry) release(h Handle, name string, mode common.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := streamKey{name, mode}
	if r.byKey[key] == h {
		delete(r.byKey, key)
	}
	r.live.Delete(h)
	r.free = append(r.free, h.slot())
}

// get returns the descriptor of a live handle
func (r *registry) get(h Handle) (*descriptor, bool) {
	if h == 0 {
		return nil, false
	}
	return r.live.Load(h)
}

// remove invalidates the handle of d
func (r *registry) remove(d *descriptor) {
	r.release(d.handle, d.name, d.mode)
}

// hasKey reports whether (name, mode) is open or being opened
func (r *registry) hasKey(name string, mode common.Mode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byKey[streamKey{name, mode}]
	return ok
}

// all returns every live descriptor
func (r *registry) all() []*descriptor {
	var ds []*descriptor
	r.live.Range(func(_ Handle, d *descriptor) bool {
		ds = append(ds, d)
		return true
	})
	return ds
}

// stop refuses further reservations and publications and returns every live
// descriptor
func (r *registry) stop() []*descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return r.all()
}

func (r *registry) count() int {
	return r.live.Size()
}
