// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"math"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gomlx/vizflow/composite"
	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/filters"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/present"
	"github.com/gomlx/vizflow/resident"
	"github.com/gomlx/vizflow/transport"
	"github.com/gomlx/vizflow/transport/grpcnet"
	"github.com/gomlx/vizflow/transport/local"
	"github.com/gomlx/vizflow/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/vizflow/devices/simdevice"
)

// RoundFn is called on the leader after each round, with the stats and the composited frame.
type RoundFn func(stats commandline.RoundStats, fb *present.Framebuffer) error

// Run executes the configured rounds over an in-process group of cfg.Processes ranks.
func Run(ctx context.Context, cfg *Config, onRound RoundFn) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return local.Run(ctx, cfg.NumProcesses(), func(ctx context.Context, comm *local.Comm) error {
		return runRank(ctx, comm, cfg, onRound)
	})
}

// RunNode executes the configured rounds as the given rank of a gRPC group listening on cfg.Addresses.
func RunNode(ctx context.Context, cfg *Config, rank int, onRound RoundFn) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if rank < 0 || rank >= len(cfg.Addresses) {
		return errors.Errorf("rank %d out of range for %d addresses", rank, len(cfg.Addresses))
	}
	lis, err := net.Listen("tcp", cfg.Addresses[rank])
	if err != nil {
		return errors.Wrapf(err, "listening on %q", cfg.Addresses[rank])
	}
	node, err := grpcnet.Start(grpcnet.Config{Rank: rank, Addresses: cfg.Addresses}, lis)
	if err != nil {
		_ = lis.Close()
		return err
	}
	defer node.Close()
	if err := node.WaitPeers(ctx); err != nil {
		return err
	}
	return runRank(ctx, node, cfg, onRound)
}

// newDevice creates the device of one rank.
func newDevice(config string) (devices.Device, error) {
	if config == "" {
		return devices.New()
	}
	return devices.NewWithConfig(config)
}

// rankPipeline is the field source followed by the configured filter, and the presenter of the rank.
type rankPipeline struct {
	p         *pipeline.Pipeline
	source    *filters.FieldSource
	filter    pipeline.Stage
	apply     func(value float64)
	presenter *present.Presenter
}

func (c *Config) field() filters.Field {
	if c.Field.Kind == "plane" {
		return filters.PlaneField{Origin: c.Field.Center, Normal: c.Field.Normal}
	}
	return filters.DistanceField{Center: c.Field.Center}
}

func newRankPipeline(cfg *Config, device devices.Device, s *composite.Session) (*rankPipeline, error) {
	r := &rankPipeline{
		p:         pipeline.New(),
		source:    filters.NewFieldSource(device, cfg.field(), cfg.Whole(), cfg.Origin, cfg.Spacing),
		presenter: present.NewPresenter(s.Window()),
	}
	r.presenter.SetInteropScope(s.InteropScope())
	switch cfg.Filter {
	case FilterContour:
		contour := filters.NewContour(cfg.Values[0])
		r.filter, r.apply = contour, contour.SetIsoValue
	case FilterThreshold:
		threshold := filters.NewThreshold(cfg.Values[0], cfg.Values[0]+cfg.ThresholdWidth)
		r.filter = threshold
		r.apply = func(value float64) { threshold.SetRange(value, value+cfg.ThresholdWidth) }
	case FilterSlice:
		planeOrigin := func(value float64) [3]float64 {
			var origin [3]float64
			for axis := range origin {
				origin[axis] = cfg.Field.Center[axis] + value*cfg.Field.Normal[axis]
			}
			return origin
		}
		slice := filters.NewSlice(planeOrigin(cfg.Values[0]), cfg.Field.Normal)
		r.filter = slice
		r.apply = func(value float64) { slice.SetPlane(planeOrigin(value), cfg.Field.Normal) }
	}
	if err := r.p.Connect(r.source, 0, r.filter, 0); err != nil {
		return nil, err
	}
	if err := r.p.Connect(r.filter, 0, r.presenter, 0); err != nil {
		return nil, err
	}
	return r, nil
}

// runRank runs all rounds on one rank of the group.
func runRank(ctx context.Context, comm transport.Communicator, cfg *Config, onRound RoundFn) error {
	device, err := newDevice(cfg.Device)
	if err != nil {
		return err
	}
	defer device.Finalize()
	s, err := composite.NewSession(ctx, comm, device, present.NewWindow(cfg.Width, cfg.Height))
	if err != nil {
		return err
	}
	defer s.Close()
	r, err := newRankPipeline(cfg, device, s)
	if err != nil {
		return err
	}
	piece := pipeline.Piece{Index: s.Rank(), NumPieces: s.Size(), GhostLevel: cfg.GhostLevel}
	klog.V(1).Infof("session %s: rank %d of %d running %d rounds of %s on %s (interop=%v)",
		s.ID(), s.Rank(), s.Size(), len(cfg.Values), cfg.Filter, device.Name(), s.HasInterop())
	if cfg.Mode == ModeGeometry {
		return runGeometry(ctx, s, r, cfg, piece, onRound)
	}
	return runImage(ctx, s, r, cfg, piece, onRound)
}

// runImage renders the piece of every rank and composites the framebuffers on the leader.
func runImage(ctx context.Context, s *composite.Session, r *rankPipeline, cfg *Config, piece pipeline.Piece,
	onRound RoundFn) error {
	strategy, err := composite.ParseStrategy(cfg.Strategy)
	if err != nil {
		return err
	}
	for ii, value := range cfg.Values {
		start := time.Now()
		r.apply(value)
		var out *resident.Object
		if err := r.p.Update(ctx, r.filter, piece); err != nil {
			if !errors.Is(err, pipeline.ErrNoData) {
				return err
			}
			klog.Warningf("rank %d round %d: %v", s.Rank(), ii+1, err)
		} else {
			out = r.p.Output(r.filter, 0)
		}
		bounds, scalarRange, err := s.GlobalSummary(ctx, out)
		if err != nil {
			return err
		}
		camera := present.NewCamera()
		if !bounds.IsEmpty() {
			camera.ResetCamera(bounds)
		}
		if camera, err = s.BroadcastCamera(ctx, camera); err != nil {
			return err
		}
		r.presenter.SetCamera(camera)
		r.presenter.SetColorFunc(present.GrayRamp(scalarRange[0], scalarRange[1]))
		fb, err := s.RenderFrame(ctx, r.p, r.presenter, piece, strategy)
		if err != nil {
			return err
		}
		if !s.IsLeader() {
			continue
		}
		stats := commandline.RoundStats{Round: ii + 1, CoveredPixels: fb.CoveredPixels(), Duration: time.Since(start)}
		if err := onRound(stats, fb); err != nil {
			return err
		}
	}
	return nil
}

// runGeometry gathers the triangles of every rank on the leader, which presents them.
func runGeometry(ctx context.Context, s *composite.Session, r *rankPipeline, cfg *Config, piece pipeline.Piece,
	onRound RoundFn) error {
	produce := composite.PipelineProducer(r.p, r.filter, piece, func(params []float64) { r.apply(params[0]) })
	gather, err := composite.NewGeometryGather(s.Comm(), produce)
	if err != nil {
		return err
	}
	if !s.IsLeader() {
		return gather.Serve(ctx)
	}

	display := pipeline.New()
	polygons := filters.NewPolygonSource(s.Device(), "gathered")
	presenter := present.NewPresenter(s.Window())
	presenter.SetInteropScope(s.InteropScope())
	if err := display.Connect(polygons, 0, presenter, 0); err != nil {
		return err
	}
	runErr := func() error {
		for ii, value := range cfg.Values {
			start := time.Now()
			triangles, err := gather.Round(ctx, []float64{value})
			if err != nil {
				return err
			}
			if err := polygons.SetTriangles(triangles); err != nil {
				return err
			}
			camera := present.NewCamera()
			bounds, scalarRange := hostSummary(triangles)
			if !bounds.IsEmpty() {
				camera.ResetCamera(bounds)
			}
			presenter.SetCamera(camera)
			presenter.SetColorFunc(present.GrayRamp(scalarRange[0], scalarRange[1]))
			if err := display.Update(ctx, presenter, pipeline.WholePiece); err != nil {
				if !errors.Is(err, pipeline.ErrNoData) {
					return err
				}
				klog.Warningf("round %d: presenting %d gathered triangles: %v", ii+1, triangles.NumTriangles(), err)
				presenter.Clear()
			}
			fb := s.Window().Framebuffer()
			stats := commandline.RoundStats{
				Round:         ii + 1,
				Triangles:     triangles.NumTriangles(),
				Points:        len(triangles.Points) / 3,
				CoveredPixels: fb.CoveredPixels(),
				Duration:      time.Since(start),
			}
			if err := onRound(stats, fb); err != nil {
				return err
			}
		}
		return nil
	}()
	if err := gather.Stop(ctx); err != nil {
		if runErr == nil {
			return err
		}
		klog.Errorf("stopping workers: %+v", err)
	}
	return runErr
}

// hostSummary returns the bounds and the scalar range of triangles on the host.
func hostSummary(triangles *filters.HostTriangles) (bounds resident.Bounds, scalarRange [2]float64) {
	bounds = resident.EmptyBounds
	for ii := 0; ii+2 < len(triangles.Points); ii += 3 {
		for axis := range 3 {
			v := float64(triangles.Points[ii+axis])
			bounds[2*axis] = math.Min(bounds[2*axis], v)
			bounds[2*axis+1] = math.Max(bounds[2*axis+1], v)
		}
	}
	if len(triangles.Scalars) == 0 {
		return
	}
	scalarRange = [2]float64{math.Inf(1), math.Inf(-1)}
	for _, v := range triangles.Scalars {
		scalarRange[0] = math.Min(scalarRange[0], float64(v))
		scalarRange[1] = math.Max(scalarRange[1], float64(v))
	}
	return
}

// SaveFrame writes the framebuffer as an image to path, scaled by scale. The format is taken from the extension.
func SaveFrame(fb *present.Framebuffer, path string, scale float64) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating directory for %q", path)
		}
	}
	img := fb.Image()
	if scale != 1 {
		width := max(int(math.Round(float64(fb.Width)*scale)), 1)
		height := max(int(math.Round(float64(fb.Height)*scale)), 1)
		return errors.Wrapf(imaging.Save(imaging.Resize(img, width, height, imaging.Lanczos), path), "saving %q", path)
	}
	return errors.Wrapf(imaging.Save(img, path), "saving %q", path)
}
