// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package devices defines the interface a foreign memory space ("device", e.g. a GPU) needs to implement
// to hold resident data and run kernels for vizflow.
//
// Data lives in opaque Buffer handles owned by the device. The host only reaches it through explicit
// transfers (BufferToFlatData / BufferFromFlatData) or from inside a Kernel launched with Device.Launch,
// which is handed a Memory view of the device buffers.
//
// Device implementations register themselves with Register, usually during the initialization of their
// package, and are created with New or NewWithConfig.
package devices

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Device is the API that needs to be implemented by a vizflow device.
type Device interface {
	// Name returns the short name of the device. E.g.: "sim" for the simulated device.
	Name() string

	// Description is a longer description of the Device that can be used to pretty-print.
	Description() string

	// DataInterface is the sub-interface that defines the API to transfer Buffer to/from the device.
	DataInterface

	// Launch runs the kernel with access to the device memory and waits for it to finish.
	//
	// Kernels report errors by panicking (see package github.com/gomlx/exceptions): Launch converts
	// the panic into the returned error.
	Launch(name string, kernel Kernel) error

	// Stats returns the current memory usage of the device.
	Stats() Stats

	// Finalize releases all the associated resources immediately, and makes the device invalid.
	Finalize()
}

// Stats about the memory in use by a Device.
type Stats struct {
	// LiveBuffers is the number of allocated buffers not yet finalized.
	LiveBuffers int

	// LiveBytes is the number of bytes held by LiveBuffers.
	LiveBytes uint64

	// TotalAllocations and TotalFrees count every buffer allocated and finalized since the device creation.
	TotalAllocations, TotalFrees uint64
}

// Constructor takes a config string (optionally empty) and returns a Device.
type Constructor func(config string) (Device, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register device with the given name, and a default constructor that takes as input a configuration string that
// is passed along to the device constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered devices, sorted.
func List() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultConfig is the name of the default device configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default device configuration to use.
//
// The format of config is "<device_name>:<device_configuration>".
// The "<device_name>" is the name of a registered device (e.g.: "sim") and
// "<device_configuration>" is device specific (e.g.: for "sim", "workers=4,nointerop").
const ConfigEnvVar = "VIZFLOW_DEVICE"

// New returns a new default Device.
//
// The default is:
//
// 1. The environment VIZFLOW_DEVICE is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered device is used with an empty configuration.
func New() (Device, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// MustNew returns a new default Device, or panics with an error if it fails.
func MustNew() Device {
	device, err := New()
	if err != nil {
		exceptions.Panicf("devices.MustNew(): %+v", err)
	}
	return device
}

// NewWithConfig takes a configurations string formated as "<device_name>:<device_configuration>".
//
// The "<device_name>" is the name of a registered device (e.g.: "sim") and
// "<device_configuration>" is device specific. If the name is omitted (no ":" in config) the
// first registered device is used, and the whole config is passed to it.
func NewWithConfig(config string) (Device, error) {
	muRegistry.Lock()
	if len(registeredConstructors) == 0 {
		muRegistry.Unlock()
		return nil, errors.New(`no registered devices for vizflow -- maybe import the simulated one with import _ "github.com/gomlx/vizflow/devices/simdevice"?`)
	}
	deviceName := firstRegistered
	deviceConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		deviceName = config[:idx]
		deviceConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		deviceName = config
		deviceConfig = ""
	}
	constructor, found := registeredConstructors[deviceName]
	muRegistry.Unlock()
	if !found {
		return nil, errors.Errorf("can't find device %q for configuration %q given", deviceName, config)
	}
	device, err := constructor(deviceConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create device %q with configuration %q", deviceName, deviceConfig)
	}
	return device, nil
}
