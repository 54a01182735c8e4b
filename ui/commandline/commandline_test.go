// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestSettings() *Settings {
	s := NewSettings()
	s.Set("x", 11.0)
	s.Set("y", 7)
	s.Set("z", false)
	s.Set("s", "foo")
	s.Set("list_float", []float64{})
	s.Set("list_str", []string{})
	return s
}

func TestParseSettings(t *testing.T) {
	s := createTestSettings()
	assert.Equal(t, []string{"x", "y", "z", "s", "list_float", "list_str"}, s.Keys())

	paramsSet, err := ParseSettings(s, "x=13;y=1_000;z=true;s=bar;list_float=0.1,1.2,3e3;list_str=a,b;")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y", "z", "s", "list_float", "list_str"}, paramsSet)
	assert.Equal(t, 13.0, GetOr(s, "x", 0.0))
	assert.Equal(t, 1000, GetOr(s, "y", 0))
	assert.True(t, GetOr(s, "z", false))
	assert.Equal(t, "bar", GetOr(s, "s", ""))
	assert.Equal(t, []float64{0.1, 1.2, 3e3}, GetOr(s, "list_float", []float64{}))
	assert.Equal(t, []string{"a", "b"}, GetOr(s, "list_str", []string{}))

	// Wrong type or unknown keys fall back to the default.
	assert.Equal(t, 5, GetOr(s, "x", 5))
	assert.Equal(t, 5, GetOr(s, "q", 5))

	// Parameter "q" is unknown.
	_, err = ParseSettings(s, "q=3")
	require.Error(t, err)

	// Cannot set the wrong type of value.
	_, err = ParseSettings(s, "y=3.14")
	require.Error(t, err)

	// Missing "=".
	_, err = ParseSettings(s, "x")
	require.Error(t, err)

	modified := SprintModifiedSettings(s, []string{"y", "x", "y"})
	assert.Equal(t, "\t\"x\": (float64) 13\n\t\"y\": (int) 1000", modified)
	assert.Contains(t, SprintSettings(s), "\"list_str\": ([]string) [a b]")
}

func TestParseSettingsFile(t *testing.T) {
	s := createTestSettings()
	path := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(path, []byte("# Comment\nx=1.5;y=2\n\ns=from file\n"), 0o644))
	paramsSet, err := ParseSettings(s, "file:"+path+";z=true")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "s", "z"}, paramsSet)
	assert.Equal(t, "from file", GetOr(s, "s", ""))

	_, err = ParseSettings(s, "file:"+filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23s", FormatDuration(1234567890*time.Nanosecond))
	assert.Equal(t, "15.00ms", FormatDuration(15*time.Millisecond))
}

func TestReportTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ReportTable(&buf, "Summary", []string{"Rank", "Triangles"}, [][]string{{"0", "12"}, {"1", "7"}}))
	out := buf.String()
	assert.Contains(t, out, "Summary")
	assert.Contains(t, out, "Triangles")
	assert.Contains(t, out, "12")
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressWithWriter(&buf, 3, func() (string, string) { return "Device memory", "1 kB" })
	for round := 1; round <= 3; round++ {
		p.Update(RoundStats{Round: round, Triangles: 1234 * round, Duration: time.Millisecond})
	}
	p.Done()
	out := buf.String()
	assert.Contains(t, out, "Device memory")
	assert.Contains(t, out, "3 of 3")
}

func TestFormatDurationMultipleUnits(t *testing.T) {
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
	assert.Equal(t, "2.50µs", FormatDuration(2500*time.Nanosecond))
}
