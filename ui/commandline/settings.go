// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Settings is an ordered set of named parameters with default values, that can be overridden from the
// command line. The type of the default value defines how overrides are parsed.
type Settings struct {
	keys   []string
	values map[string]any
}

// NewSettings returns an empty Settings.
func NewSettings() *Settings {
	return &Settings{values: make(map[string]any)}
}

// Set the value of a parameter, defining it if it doesn't exist yet.
func (s *Settings) Set(key string, value any) {
	if _, found := s.values[key]; !found {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Get the value of a parameter.
func (s *Settings) Get(key string) (value any, found bool) {
	value, found = s.values[key]
	return
}

// Keys returns the parameter names in the order they were defined.
func (s *Settings) Keys() []string { return slices.Clone(s.keys) }

// GetOr returns the value of the parameter if it is set with type T, or defaultValue otherwise.
func GetOr[T any](s *Settings, key string, defaultValue T) T {
	value, found := s.values[key]
	if !found {
		return defaultValue
	}
	typed, ok := value.(T)
	if !ok {
		return defaultValue
	}
	return typed
}

// ParseSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "param1=value1;param2=value2;...".
//
// All the parameters must be already set with default values in s, which also define the type to which
// the string values are parsed.
//
// An entry "file:<path>" reads settings from a file, one or more per line, and lines starting with "#" are
// comments.
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
func ParseSettings(s *Settings, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseSetting(s, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func replaceTilde(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrapf(err, "replacing ~ in %q", path)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func parseSetting(s *Settings, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		var filePath string
		filePath, err = replaceTilde(strings.TrimPrefix(setting, "file:"))
		if err != nil {
			return
		}
		var contents []byte
		contents, err = os.ReadFile(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read settings from file %q", filePath)
			return
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, lineSetting := range strings.Split(line, ";") {
				newParamsSet, err = parseSetting(s, lineSetting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	parts := strings.Split(setting, "=")
	if len(parts) != 2 {
		err = errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\"", setting)
		return
	}
	key, valueStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	value, found := s.values[key]
	if !found {
		err = errors.Errorf("can't set parameter %q: unknown parameter, valid ones are %q", key, s.keys)
		return
	}
	value, err = parseValue(value, valueStr)
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for parameter %q (default value is %#v)", valueStr, key, s.values[key])
		return
	}
	s.values[key] = value
	newParamsSet = append(newParamsSet, key)
	return
}

// parseValue parses valueStr to the type of defaultValue.
func parseValue(defaultValue any, valueStr string) (value any, err error) {
	switch v := defaultValue.(type) {
	case int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case int64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case uint64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case float64:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case float32:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case bool:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case string:
		value = valueStr
	case []string:
		value = strings.Split(valueStr, ",")
	case []float64:
		parts := strings.Split(valueStr, ",")
		values := make([]float64, len(parts))
		for ii, part := range parts {
			if err = json.Unmarshal([]byte(strings.TrimSpace(part)), &values[ii]); err != nil {
				break
			}
		}
		value = values
	default:
		err = fmt.Errorf("don't know how to parse type %T", defaultValue)
	}
	return
}

// CreateSettingsFlag create a string flag with the given flagName (if empty it will be named "set") and
// with a description of the parameters defined in s.
//
// The flag should be created before the call to `flags.Parse()`.
func CreateSettingsFlag(s *Settings, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Override parameters. ` +
			`It should be a list of elements "param=value" separated by ";". ` +
			`It can also be given an entry like: "file:settings_file.txt", in ` +
			`which case the file will be read and the settings will be parsed, ` +
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
			`Current available parameters that can be set:`,
	}
	for _, key := range s.keys {
		parts = append(parts, fmt.Sprintf("%q: default value is %v", key, s.values[key]))
	}
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintSettings pretty-print the current values of all the parameters.
func SprintSettings(s *Settings) string {
	parts := make([]string, 0, len(s.keys))
	for _, key := range s.keys {
		value := s.values[key]
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", key, value, value))
	}
	return strings.Join(parts, "\n")
}

// SprintModifiedSettings pretty-print the values of the parameters in paramsSet, as returned by ParseSettings.
func SprintModifiedSettings(s *Settings, paramsSet []string) string {
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	paramsSet = slices.Compact(paramsSet)
	var parts []string
	for _, key := range paramsSet {
		value, found := s.values[key]
		if !found {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", key, value, value))
	}
	return strings.Join(parts, "\n")
}
