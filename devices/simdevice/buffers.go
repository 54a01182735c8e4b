// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simdevice

import (
	"reflect"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/vizflow/devices"
	"github.com/pkg/errors"
)

// Buffer for the simulated device holds the dtype, length and a reference to the flat data.
type Buffer struct {
	dtype  dtypes.DType
	length int
	valid  bool
	shared bool

	// flat is always a slice of the underlying data type (dtype).
	flat any
}

func (b *Buffer) memory() uint64 {
	return uint64(b.length) * uint64(b.dtype.Size())
}

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// getBufferPool for given dtype/length.
func (d *Device) getBufferPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolInterface, ok := d.bufferPools.Load(key)
	if !ok {
		poolInterface, _ = d.bufferPools.LoadOrStore(key, &sync.Pool{
			New: func() interface{} {
				return &Buffer{
					dtype:  dtype,
					length: length,
					flat:   reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), length, length).Interface(),
				}
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// getBuffer from the device pool of buffers, zero-initialized.
func (d *Device) getBuffer(dtype dtypes.DType, length int) (*Buffer, error) {
	if dtype == dtypes.InvalidDType || dtype.GoType() == nil {
		return nil, errors.Errorf("%s: dtype %s not supported for buffers", d.Name(), dtype)
	}
	if length < 0 {
		return nil, errors.Errorf("%s: invalid buffer length %d", d.Name(), length)
	}
	memory := uint64(length) * uint64(dtype.Size())
	d.muStats.Lock()
	if d.finalized {
		d.muStats.Unlock()
		return nil, errors.Errorf("%s: device already finalized", d.Name())
	}
	if d.maxBytes > 0 && d.stats.LiveBytes+memory > d.maxBytes {
		live := d.stats.LiveBytes
		d.muStats.Unlock()
		return nil, errors.Errorf("%s: out of memory allocating %s (%s in use, limit %s)",
			d.Name(), humanize.Bytes(memory), humanize.Bytes(live), humanize.Bytes(d.maxBytes))
	}
	d.stats.LiveBuffers++
	d.stats.LiveBytes += memory
	d.stats.TotalAllocations++
	d.muStats.Unlock()

	buf := d.getBufferPool(dtype, length).Get().(*Buffer)
	reflect.ValueOf(buf.flat).Clear()
	buf.valid = true
	buf.shared = false
	return buf, nil
}

// putBuffer back into the device pool of buffers.
// After this any references to buffer should be dropped.
func (d *Device) putBuffer(buffer *Buffer) {
	buffer.valid = false
	d.muStats.Lock()
	d.stats.LiveBuffers--
	d.stats.LiveBytes -= buffer.memory()
	d.stats.TotalFrees++
	finalized := d.finalized
	d.muStats.Unlock()
	if !finalized && !buffer.shared {
		d.getBufferPool(buffer.dtype, buffer.length).Put(buffer)
	}
}

// castBuffer checks the buffer is a valid buffer of this device.
func (d *Device) castBuffer(buffer devices.Buffer) (*Buffer, error) {
	buf, ok := buffer.(*Buffer)
	if !ok || buf == nil {
		return nil, errors.Errorf("buffer (%T) is not a %q device buffer", buffer, DeviceName)
	}
	if !buf.valid || buf.flat == nil {
		var issues []string
		if buf.flat == nil {
			issues = append(issues, "buffer.flat was nil")
		}
		if !buf.valid {
			issues = append(issues, "buffer was marked as invalid")
		}
		return nil, errors.Errorf("buffer(%p): %s -- buffer was already finalized!?", buf, strings.Join(issues, ", "))
	}
	return buf, nil
}

// copyFlat assumes both flat slices are of the same underlying type.
func copyFlat(flatDst, flatSrc any) {
	reflect.Copy(reflect.ValueOf(flatDst), reflect.ValueOf(flatSrc))
}

// NewBuffer implements devices.DataInterface.
func (d *Device) NewBuffer(dtype dtypes.DType, length int) (devices.Buffer, error) {
	return d.getBuffer(dtype, length)
}

// BufferFinalize implements devices.DataInterface.
func (d *Device) BufferFinalize(buffer devices.Buffer) error {
	buf, err := d.castBuffer(buffer)
	if err != nil {
		return errors.WithMessage(err, "BufferFinalize")
	}
	d.putBuffer(buf)
	return nil
}

// BufferInfo implements devices.DataInterface.
func (d *Device) BufferInfo(buffer devices.Buffer) (dtypes.DType, int, error) {
	buf, err := d.castBuffer(buffer)
	if err != nil {
		return dtypes.InvalidDType, 0, err
	}
	return buf.dtype, buf.length, nil
}

// BufferToFlatData implements devices.DataInterface.
func (d *Device) BufferToFlatData(buffer devices.Buffer, flat any) error {
	buf, err := d.castBuffer(buffer)
	if err != nil {
		return err
	}
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice || flatV.Type().Elem() != buf.dtype.GoType() {
		return errors.Errorf("BufferToFlatData: flat (%T) is not a slice of %s", flat, buf.dtype.GoType())
	}
	if flatV.Len() != buf.length {
		return errors.Errorf("BufferToFlatData: flat has %d elements, buffer has %d", flatV.Len(), buf.length)
	}
	copyFlat(flat, buf.flat)
	return nil
}

// BufferFromFlatData implements devices.DataInterface.
func (d *Device) BufferFromFlatData(flat any) (devices.Buffer, error) {
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, errors.Errorf("BufferFromFlatData: flat (%T) must be a slice", flat)
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("BufferFromFlatData: unsupported slice type %T", flat)
	}
	buf, err := d.getBuffer(dtype, flatV.Len())
	if err != nil {
		return nil, err
	}
	copyFlat(buf.flat, flat)
	return buf, nil
}

// BufferClone implements devices.DataInterface.
func (d *Device) BufferClone(buffer devices.Buffer) (devices.Buffer, error) {
	buf, err := d.castBuffer(buffer)
	if err != nil {
		return nil, errors.WithMessage(err, "BufferClone")
	}
	newBuf, err := d.getBuffer(buf.dtype, buf.length)
	if err != nil {
		return nil, err
	}
	copyFlat(newBuf.flat, buf.flat)
	return newBuf, nil
}

// NewSharedBuffer implements devices.SharedBufferer.
//
// Shared buffers are never returned to the pool, since the host may still hold the returned slice.
func (d *Device) NewSharedBuffer(dtype dtypes.DType, length int) (devices.Buffer, any, error) {
	if !d.hasInterop {
		return nil, nil, errors.Errorf("%s: shared buffers disabled (nointerop)", d.Name())
	}
	buf, err := d.getBuffer(dtype, length)
	if err != nil {
		return nil, nil, err
	}
	buf.shared = true
	return buf, buf.flat, nil
}
