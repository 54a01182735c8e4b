// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simdevice implements a simulated foreign device for vizflow: buffers are held in a memory space
// private to the device, and kernels are run by a pool of goroutines.
//
// It is registered as "sim" and it is the default device, so a blank import is enough to use it:
//
//	import _ "github.com/gomlx/vizflow/devices/simdevice"
//
// Configuration options (comma separated), e.g. "sim:workers=4,nointerop":
//
//   - workers=N: maximum number of goroutines running kernel chunks. 0 disables parallelism, -1 is unlimited.
//   - nointerop: the device doesn't share buffers with the display, see package interop.
//   - maxbytes=N: fail allocations that would make the live memory exceed N bytes.
package simdevice

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/internal/workerspool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DeviceName to be used in the configuration to select the simulated device.
const DeviceName = "sim"

func init() {
	devices.Register(DeviceName, New)
}

// Device implements devices.Device.
type Device struct {
	config      string
	workers     *workerspool.Pool
	hasInterop  bool
	maxBytes    uint64
	bufferPools sync.Map

	muStats   sync.Mutex
	stats     devices.Stats
	finalized bool
}

// Compile-time check:
var (
	_ devices.Device         = (*Device)(nil)
	_ devices.SharedBufferer = (*Device)(nil)
)

// New constructs a new simulated Device, given its configuration string.
func New(config string) (devices.Device, error) {
	d := &Device{
		config:     config,
		workers:    workerspool.New(),
		hasInterop: true,
	}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "workers":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid value for %q in config %q", key, config)
			}
			d.workers.SetMaxParallelism(n)
		case "nointerop":
			d.hasInterop = false
		case "maxbytes":
			n, err := humanize.ParseBytes(value)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid value for %q in config %q", key, config)
			}
			d.maxBytes = n
		default:
			return nil, errors.Errorf("unknown option %q for device %q (config=%q)", key, DeviceName, config)
		}
	}
	klog.V(1).Infof("created %s", d.Description())
	return d, nil
}

// Name implements devices.Device.
func (d *Device) Name() string { return DeviceName }

// Description implements devices.Device.
func (d *Device) Description() string {
	interop := "with interop"
	if !d.hasInterop {
		interop = "without interop"
	}
	if d.maxBytes > 0 {
		return fmt.Sprintf("simulated device (%d workers, %s, limited to %s)",
			d.workers.MaxParallelism(), interop, humanize.Bytes(d.maxBytes))
	}
	return fmt.Sprintf("simulated device (%d workers, %s)", d.workers.MaxParallelism(), interop)
}

// Stats implements devices.Device.
func (d *Device) Stats() devices.Stats {
	d.muStats.Lock()
	defer d.muStats.Unlock()
	return d.stats
}

// Finalize implements devices.Device. Buffers still alive are simply dropped.
func (d *Device) Finalize() {
	d.muStats.Lock()
	defer d.muStats.Unlock()
	if d.finalized {
		return
	}
	d.finalized = true
	if d.stats.LiveBuffers > 0 {
		klog.Warningf("%s finalized with %d live buffers (%s)", d.Name(), d.stats.LiveBuffers, humanize.Bytes(d.stats.LiveBytes))
	}
	d.bufferPools.Clear()
}

// Launch implements devices.Device.
func (d *Device) Launch(name string, kernel devices.Kernel) error {
	if d.isFinalized() {
		return errors.Errorf("%s: cannot launch kernel %q on a finalized device", d.Name(), name)
	}
	start := time.Now()
	err := exceptions.TryCatch[error](func() {
		kernel(&memory{d: d})
	})
	if err != nil {
		return errors.WithMessagef(err, "kernel %q failed on device %q", name, d.Name())
	}
	if klog.V(2).Enabled() {
		klog.Infof("%s: kernel %q took %s", d.Name(), name, time.Since(start))
	}
	return nil
}

func (d *Device) isFinalized() bool {
	d.muStats.Lock()
	defer d.muStats.Unlock()
	return d.finalized
}

// HasSharedBuffers implements devices.SharedBufferer.
func (d *Device) HasSharedBuffers() bool {
	return d.hasInterop
}
