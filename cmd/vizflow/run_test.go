// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gomlx/vizflow/filters"
	"github.com/gomlx/vizflow/present"
	"github.com/gomlx/vizflow/ui/commandline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.Processes = 3
	cfg.Device = "sim:workers=2"
	cfg.WholeExtent = [6]int{0, 16, 0, 16, 0, 16}
	cfg.Spacing = [3]float64{1.0 / 8, 1.0 / 8, 1.0 / 8}
	cfg.Values = []float64{0.6, 0.8}
	cfg.Width, cfg.Height = 48, 40
	cfg.Output = filepath.Join(t.TempDir(), "frames", "frame-{round}.png")
	return &cfg
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// collect returns a RoundFn that records the stats, and saves the frames as the command line does.
func collect(cfg *Config, stats *[]commandline.RoundStats) RoundFn {
	return func(s commandline.RoundStats, fb *present.Framebuffer) error {
		*stats = append(*stats, s)
		return SaveFrame(fb, cfg.OutputPath(s.Round), cfg.OutputScale)
	}
}

func TestRunImage(t *testing.T) {
	for _, strategy := range []string{"gather", "tree"} {
		for _, filter := range []string{FilterContour, FilterThreshold, FilterSlice} {
			t.Run(strategy+"-"+filter, func(t *testing.T) {
				cfg := testConfig(t)
				cfg.Strategy, cfg.Filter = strategy, filter
				if filter == FilterSlice {
					cfg.Values = []float64{-0.2, 0.3}
				}
				var stats []commandline.RoundStats
				require.NoError(t, Run(testContext(t), cfg, collect(cfg, &stats)))
				require.Len(t, stats, len(cfg.Values))
				for ii, s := range stats {
					assert.Equal(t, ii+1, s.Round)
					assert.Greater(t, s.CoveredPixels, 0, "round %d", s.Round)
					img, err := imaging.Open(cfg.OutputPath(s.Round))
					require.NoError(t, err)
					assert.Equal(t, cfg.Width, img.Bounds().Dx())
					assert.Equal(t, cfg.Height, img.Bounds().Dy())
				}
			})
		}
	}
}

func TestRunGeometry(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = ModeGeometry
	cfg.GhostLevel = 1
	cfg.OutputScale = 2
	var stats []commandline.RoundStats
	require.NoError(t, Run(testContext(t), cfg, collect(cfg, &stats)))
	require.Len(t, stats, 2)
	for _, s := range stats {
		assert.Greater(t, s.Triangles, 0)
		assert.Equal(t, 3*s.Triangles, s.Points)
		assert.Greater(t, s.CoveredPixels, 0)
		img, err := imaging.Open(cfg.OutputPath(s.Round))
		require.NoError(t, err)
		assert.Equal(t, 2*cfg.Width, img.Bounds().Dx())
	}
	// The smaller sphere has fewer triangles.
	assert.Less(t, stats[0].Triangles, stats[1].Triangles)
}

func TestRunErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "video"
	assert.Error(t, Run(testContext(t), cfg, collect(cfg, new([]commandline.RoundStats))))

	cfg = testConfig(t)
	cfg.Device = "unknown-device:"
	assert.Error(t, Run(testContext(t), cfg, collect(cfg, new([]commandline.RoundStats))))

	cfg = testConfig(t)
	cfg.Addresses = []string{"localhost:0"}
	assert.Error(t, RunNode(testContext(t), cfg, 1, collect(cfg, new([]commandline.RoundStats))))

	// Failures reporting a round stop the run.
	cfg = testConfig(t)
	err := Run(testContext(t), cfg, func(commandline.RoundStats, *present.Framebuffer) error {
		return os.ErrPermission
	})
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestHostSummary(t *testing.T) {
	bounds, scalarRange := hostSummary(&filters.HostTriangles{
		Points:  []float32{0, 1, 2, -1, 5, 0, 3, 0, 1},
		Scalars: []float32{0.5, 0.25, 0.75},
	})
	assert.Equal(t, [6]float64{-1, 3, 0, 5, 0, 2}, [6]float64(bounds))
	assert.Equal(t, [2]float64{0.25, 0.75}, scalarRange)

	bounds, scalarRange = hostSummary(&filters.HostTriangles{})
	assert.True(t, bounds.IsEmpty())
	assert.Equal(t, [2]float64{}, scalarRange)
}

func TestWatchConfig(t *testing.T) {
	path := writeFile(t, "run.yaml", "processes: 2\n")
	ctx := testContext(t)
	changes, err := WatchConfig(ctx, path)
	require.NoError(t, err)

	// Writes to other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x"), 0o644))
	select {
	case <-changes:
		t.Fatal("change reported for another file")
	case <-time.After(3 * debounceDelay):
	}

	for range 3 {
		require.NoError(t, os.WriteFile(path, []byte("processes: 3\n"), 0o644))
	}
	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("configuration change not reported")
	}
	// The burst is reported once.
	select {
	case <-changes:
		t.Fatal("burst of writes reported more than once")
	case <-time.After(3 * debounceDelay):
	}
}
