// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resident

import (
	"fmt"

	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/types/timestamp"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Object is the pipeline-visible wrapper around a resident Handle.
//
// It is created empty, and it gets a payload with SetPayload (taking ownership of freshly computed device
// buffers), ShallowCopy (borrowing another object's payload) or DeepCopy (owning a device-side copy of
// another object's payload).
type Object struct {
	handle *Handle
	meta   Metadata
	stamp  timestamp.Stamp
}

// NewObject returns an empty Object.
func NewObject() *Object {
	o := &Object{meta: EmptyMetadata()}
	o.stamp.Modified()
	return o
}

// String implements fmt.Stringer.
func (o *Object) String() string {
	if o.IsEmpty() {
		return "resident.Object(empty)"
	}
	ownership := "borrowed"
	if o.handle.owning {
		ownership = "owned"
	}
	return fmt.Sprintf("resident.Object(%s, #%d %s, %d points, %d triangles)",
		o.handle.kind, o.handle.AllocationID(), ownership, o.meta.NumPoints, o.meta.NumTriangles)
}

// IsEmpty returns whether the object has no payload, or its payload was released by its owner.
func (o *Object) IsEmpty() bool {
	return o == nil || !o.handle.Valid()
}

// Kind of the payload, KindNone if the object is empty.
func (o *Object) Kind() Kind {
	if o.IsEmpty() {
		return KindNone
	}
	return o.handle.kind
}

// Handle returns the current handle, or nil if empty.
func (o *Object) Handle() *Handle {
	if o.IsEmpty() {
		return nil
	}
	return o.handle
}

// IsOwner returns whether the object owns its payload (as opposed to borrowing it).
func (o *Object) IsOwner() bool {
	return !o.IsEmpty() && o.handle.owning
}

// Device where the payload lives, or nil if empty.
func (o *Object) Device() devices.Device {
	return o.Handle().Device()
}

// Array returns the named device buffer of the payload, see Handle.Array.
func (o *Object) Array(name string) (devices.Buffer, error) {
	if o.IsEmpty() {
		return nil, errors.Errorf("empty object has no array %q", name)
	}
	return o.handle.Array(name)
}

// MTime returns the time of the last change of payload or metadata.
func (o *Object) MTime() timestamp.Time { return o.stamp.Time() }

// Metadata returns a copy of the object metadata.
func (o *Object) Metadata() Metadata { return o.meta }

// SetMetadata replaces the object metadata.
func (o *Object) SetMetadata(meta Metadata) {
	o.meta = meta
	o.stamp.Modified()
}

// Bounds of the payload, answered from the metadata.
func (o *Object) Bounds() Bounds { return o.meta.Bounds }

// ScalarRange of the active scalar field, answered from the metadata.
func (o *Object) ScalarRange() [2]float64 { return o.meta.ScalarRange }

// NumPoints in the payload.
func (o *Object) NumPoints() int { return o.meta.NumPoints }

// NumTriangles in the payload.
func (o *Object) NumTriangles() int { return o.meta.NumTriangles }

// SetPayload releases the current payload (if owned) and takes ownership of the given device buffers.
//
// The arrays must be the ones required by kind (see Kind.RequiredArrays): if any is missing, all the
// given buffers are finalized and an error is returned, leaving the object empty.
func (o *Object) SetPayload(device devices.Device, kind Kind, arrays map[string]devices.Buffer, meta Metadata) error {
	o.Release()
	for _, name := range kind.RequiredArrays() {
		if _, found := arrays[name]; !found {
			for _, buf := range arrays {
				_ = device.BufferFinalize(buf)
			}
			return errors.Errorf("payload of kind %s requires array %q", kind, name)
		}
	}
	o.handle = newOwningHandle(device, kind, arrays)
	o.meta = meta
	o.stamp.Modified()
	if klog.V(3).Enabled() {
		klog.Infof("%s: new payload", o)
	}
	return nil
}

// ShallowCopy makes o borrow src's payload in O(1), regardless of the payload size.
//
// o first releases whatever it currently holds: if it owned an allocation, that allocation is freed.
// The exception is when o already owns the allocation src refers to (src borrowed it from o): then o
// keeps its ownership and only the metadata is copied, so there is always exactly one owner.
//
// src continues to be responsible for eventually freeing its allocation.
func (o *Object) ShallowCopy(src *Object) {
	if o == src {
		return
	}
	if src.IsEmpty() {
		o.Reset()
		return
	}
	if o.handle != nil && o.handle.alloc == src.handle.alloc {
		// Already sharing the allocation, either as its owner or as a borrower.
		o.meta = src.meta
		o.stamp.Modified()
		return
	}
	o.Release()
	o.handle = src.handle.borrow()
	o.meta = src.meta
	o.stamp.Modified()
}

// DeepCopy makes o the sole owner of a new device-side copy of src's payload.
//
// o first releases whatever it currently holds. The payload is copied on the device, never transferred
// to the host.
func (o *Object) DeepCopy(src *Object) error {
	if o == src {
		return nil
	}
	if src.IsEmpty() {
		o.Reset()
		return nil
	}
	clone, err := src.handle.clone()
	if err != nil {
		return err
	}
	o.Release()
	o.handle = clone
	o.meta = src.meta
	o.stamp.Modified()
	return nil
}

// Release the payload of the object: if o owns it, the device memory is freed; if it only borrows it,
// nothing is freed. The object becomes empty, but it keeps its metadata.
//
// It returns whether device memory was freed.
func (o *Object) Release() bool {
	if o == nil || o.handle == nil {
		return false
	}
	freed := o.handle.release()
	o.handle = nil
	o.stamp.Modified()
	return freed
}

// Reset releases the payload (see Release) and clears the metadata.
func (o *Object) Reset() {
	o.Release()
	o.meta = EmptyMetadata()
	o.stamp.Modified()
}
