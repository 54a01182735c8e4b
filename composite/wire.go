// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package composite

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/gomlx/vizflow/filters"
	"github.com/gomlx/vizflow/present"
	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
)

// ErrCorrupt is returned when a message received from a peer can't be decoded.
var ErrCorrupt = errors.New("corrupt composite message")

var byteOrder = binary.LittleEndian

// writeAll writes the fixed-size values in order. Writes to a bytes.Buffer don't fail.
func writeAll(buf *bytes.Buffer, values ...any) {
	for _, v := range values {
		_ = binary.Write(buf, byteOrder, v)
	}
}

// readAll reads the fixed-size values in order, and checks nothing is left when last is true.
func readAll(r *bytes.Reader, last bool, values ...any) error {
	for _, v := range values {
		if err := binary.Read(r, byteOrder, v); err != nil {
			return errors.Wrapf(ErrCorrupt, "%v", err)
		}
	}
	if last && r.Len() != 0 {
		return errors.Wrapf(ErrCorrupt, "%d unexpected trailing bytes", r.Len())
	}
	return nil
}

func encodeFramebuffer(fb *present.Framebuffer) []byte {
	var buf bytes.Buffer
	buf.Grow(8 + len(fb.Color) + 4*len(fb.Depth))
	writeAll(&buf, [2]uint32{uint32(fb.Width), uint32(fb.Height)})
	buf.Write(fb.Color)
	writeAll(&buf, fb.Depth)
	return buf.Bytes()
}

func decodeFramebuffer(data []byte) (*present.Framebuffer, error) {
	r := bytes.NewReader(data)
	var dims [2]uint32
	if err := readAll(r, false, &dims); err != nil {
		return nil, err
	}
	numPixels := int(dims[0]) * int(dims[1])
	if r.Len() != 8*numPixels {
		return nil, errors.Wrapf(ErrCorrupt, "framebuffer %dx%d with %d bytes of pixels", dims[0], dims[1], r.Len())
	}
	fb := &present.Framebuffer{
		Width:  int(dims[0]),
		Height: int(dims[1]),
		Color:  make([]uint8, 4*numPixels),
		Depth:  make([]float32, numPixels),
	}
	if _, err := io.ReadFull(r, fb.Color); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "%v", err)
	}
	if err := readAll(r, true, fb.Depth); err != nil {
		return nil, err
	}
	return fb, nil
}

func encodeCamera(camera present.Camera) []byte {
	var buf bytes.Buffer
	writeAll(&buf, camera)
	return buf.Bytes()
}

func decodeCamera(data []byte) (camera present.Camera, err error) {
	err = readAll(bytes.NewReader(data), true, &camera)
	return
}

// summary is what each rank contributes to the global bounds and scalar range.
type summary struct {
	Bounds         resident.Bounds
	ScalarRange    [2]float64
	HasScalarRange uint8
}

func encodeSummary(s summary) []byte {
	var buf bytes.Buffer
	writeAll(&buf, s)
	return buf.Bytes()
}

func decodeSummary(data []byte) (s summary, err error) {
	err = readAll(bytes.NewReader(data), true, &s)
	return
}

// parameterRound is the argument of the parameter trigger of a GeometryGather.
type parameterRound struct {
	Round  uint64
	Params []float64
}

func encodeParameterRound(p parameterRound) []byte {
	var buf bytes.Buffer
	writeAll(&buf, p.Round, uint32(len(p.Params)), p.Params)
	return buf.Bytes()
}

func decodeParameterRound(data []byte) (p parameterRound, err error) {
	r := bytes.NewReader(data)
	var numParams uint32
	if err = readAll(r, false, &p.Round, &numParams); err != nil {
		return
	}
	if r.Len() != 8*int(numParams) {
		err = errors.Wrapf(ErrCorrupt, "round %d with %d parameters in %d bytes", p.Round, numParams, r.Len())
		return
	}
	p.Params = make([]float64, numParams)
	err = readAll(r, true, p.Params)
	return
}

// partialGeometry is the answer of a worker to a parameter round.
type partialGeometry struct {
	Round     uint64
	Triangles *filters.HostTriangles
}

func encodePartialGeometry(p partialGeometry) []byte {
	n := p.Triangles.NumTriangles()
	var buf bytes.Buffer
	buf.Grow(12 + 48*n)
	writeAll(&buf, p.Round, uint32(n))
	if n > 0 {
		writeAll(&buf, p.Triangles.Points, p.Triangles.Scalars)
	}
	return buf.Bytes()
}

func decodePartialGeometry(data []byte) (p partialGeometry, err error) {
	r := bytes.NewReader(data)
	var n uint32
	if err = readAll(r, false, &p.Round, &n); err != nil {
		return
	}
	if r.Len() != 48*int(n) {
		err = errors.Wrapf(ErrCorrupt, "round %d with %d triangles in %d bytes", p.Round, n, r.Len())
		return
	}
	p.Triangles = &filters.HostTriangles{
		Points:  make([]float32, 9*n),
		Scalars: make([]float32, 3*n),
	}
	err = readAll(r, true, p.Triangles.Points, p.Triangles.Scalars)
	return
}
