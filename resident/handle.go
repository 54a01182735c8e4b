// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resident

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/types/timestamp"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrReleased is returned when accessing an allocation that was already freed by its owner.
var ErrReleased = errors.New("resident allocation already released")

var allocationIDs atomic.Uint64

// allocation is one block of device memory: a set of named device buffers.
type allocation struct {
	id     uint64
	device devices.Device
	arrays map[string]devices.Buffer

	mu        sync.Mutex
	borrowers int
	freed     bool
}

// free finalizes all the buffers of the allocation.
func (a *allocation) free() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		return
	}
	a.freed = true
	for name, buf := range a.arrays {
		if err := a.device.BufferFinalize(buf); err != nil {
			klog.Warningf("failed to free array %q of resident allocation #%d on device %q: %+v",
				name, a.id, a.device.Name(), err)
		}
	}
	a.arrays = nil
}

// Handle is an opaque reference to one resident allocation in device memory.
//
// A Handle is either the owning one (the only one that frees the allocation), or a borrowing one,
// created by a shallow copy, that shares access but never frees.
type Handle struct {
	alloc  *allocation
	owning bool
	kind   Kind
	mtime  timestamp.Time
}

// newOwningHandle creates a new allocation from the given device buffers, and returns its owning handle.
func newOwningHandle(device devices.Device, kind Kind, arrays map[string]devices.Buffer) *Handle {
	return &Handle{
		alloc: &allocation{
			id:     allocationIDs.Add(1),
			device: device,
			arrays: arrays,
		},
		owning: true,
		kind:   kind,
		mtime:  timestamp.Next(),
	}
}

// borrow returns a new borrowing handle to the same allocation.
func (h *Handle) borrow() *Handle {
	h.alloc.mu.Lock()
	h.alloc.borrowers++
	h.alloc.mu.Unlock()
	return &Handle{alloc: h.alloc, owning: false, kind: h.kind, mtime: h.mtime}
}

// release the handle: the allocation is freed only if h is the owning handle.
// It returns whether the allocation was freed.
func (h *Handle) release() bool {
	if h == nil || h.alloc == nil {
		return false
	}
	alloc := h.alloc
	h.alloc = nil
	if h.owning {
		alloc.free()
		return true
	}
	alloc.mu.Lock()
	alloc.borrowers--
	alloc.mu.Unlock()
	return false
}

// clone makes a deep copy of the allocation on the device, and returns the owning handle to the new copy.
func (h *Handle) clone() (*Handle, error) {
	h.alloc.mu.Lock()
	defer h.alloc.mu.Unlock()
	if h.alloc.freed {
		return nil, errors.WithMessagef(ErrReleased, "deep copy of allocation #%d", h.alloc.id)
	}
	device := h.alloc.device
	arrays := make(map[string]devices.Buffer, len(h.alloc.arrays))
	for _, name := range sortedNames(h.alloc.arrays) {
		buf, err := device.BufferClone(h.alloc.arrays[name])
		if err != nil {
			for _, done := range arrays {
				_ = device.BufferFinalize(done)
			}
			return nil, errors.WithMessagef(err, "deep copy of array %q", name)
		}
		arrays[name] = buf
	}
	return newOwningHandle(device, h.kind, arrays), nil
}

// Kind of the payload referenced.
func (h *Handle) Kind() Kind { return h.kind }

// MTime is the modification time of the payload referenced.
func (h *Handle) MTime() timestamp.Time { return h.mtime }

// IsOwning returns whether this is the owning handle of the allocation.
func (h *Handle) IsOwning() bool { return h.owning }

// Valid returns whether the allocation referenced is still alive.
func (h *Handle) Valid() bool {
	if h == nil || h.alloc == nil {
		return false
	}
	h.alloc.mu.Lock()
	defer h.alloc.mu.Unlock()
	return !h.alloc.freed
}

// Device where the allocation lives.
func (h *Handle) Device() devices.Device {
	if h == nil || h.alloc == nil {
		return nil
	}
	return h.alloc.device
}

// AllocationID identifies the allocation referenced: handles sharing an allocation have the same ID.
func (h *Handle) AllocationID() uint64 {
	if h == nil || h.alloc == nil {
		return 0
	}
	return h.alloc.id
}

// NumBorrowers returns the number of live borrowing handles of the allocation.
func (h *Handle) NumBorrowers() int {
	if h == nil || h.alloc == nil {
		return 0
	}
	h.alloc.mu.Lock()
	defer h.alloc.mu.Unlock()
	return h.alloc.borrowers
}

// Array returns the device buffer with the given name, to be used by kernels.
//
// The buffer remains owned by the allocation: it must not be finalized by the caller.
func (h *Handle) Array(name string) (devices.Buffer, error) {
	if h == nil || h.alloc == nil {
		return nil, errors.Errorf("no resident allocation to get array %q from", name)
	}
	h.alloc.mu.Lock()
	defer h.alloc.mu.Unlock()
	if h.alloc.freed {
		return nil, errors.WithMessagef(ErrReleased, "array %q of allocation #%d", name, h.alloc.id)
	}
	buf, found := h.alloc.arrays[name]
	if !found {
		return nil, errors.Errorf("allocation #%d (%s) has no array %q", h.alloc.id, h.kind, name)
	}
	return buf, nil
}

// ArrayNames returns the sorted names of the arrays in the allocation.
func (h *Handle) ArrayNames() []string {
	if h == nil || h.alloc == nil {
		return nil
	}
	h.alloc.mu.Lock()
	defer h.alloc.mu.Unlock()
	return sortedNames(h.alloc.arrays)
}

func sortedNames(arrays map[string]devices.Buffer) []string {
	names := make([]string, 0, len(arrays))
	for name := range arrays {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
