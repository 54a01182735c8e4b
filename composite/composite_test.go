// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package composite

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/devices/interop"
	"github.com/gomlx/vizflow/devices/simdevice"
	"github.com/gomlx/vizflow/filters"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/present"
	"github.com/gomlx/vizflow/resident"
	"github.com/gomlx/vizflow/transport"
	"github.com/gomlx/vizflow/transport/local"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	return ctx
}

// rankFramebuffer returns a framebuffer with depths that tie often between ranks, and the rank in the
// color's red channel.
func rankFramebuffer(rank, width, height int) *present.Framebuffer {
	fb := present.NewFramebuffer(width, height)
	for pixel := range width * height {
		if (pixel+rank)%5 == 0 {
			continue // Background.
		}
		fb.Depth[pixel] = float32((pixel*7+rank*3)%4) / 4
		fb.Color[4*pixel] = uint8(rank)
		fb.Color[4*pixel+3] = 255
	}
	return fb
}

func TestMergeDepth(t *testing.T) {
	dst := present.NewFramebuffer(3, 1)
	src := present.NewFramebuffer(3, 1)
	dst.Depth = []float32{0.5, 0.5, 0.5}
	src.Depth = []float32{0.25, 0.5, 0.75}
	for pixel := range 3 {
		dst.Color[4*pixel] = 1
		src.Color[4*pixel] = 2
	}
	require.NoError(t, MergeDepth(dst, src))
	assert.Equal(t, []float32{0.25, 0.5, 0.5}, dst.Depth)
	// Strictly smaller depth wins, ties keep the destination (lower rank).
	assert.Equal(t, []uint8{2, 1, 1}, []uint8{dst.Color[0], dst.Color[4], dst.Color[8]})

	require.Error(t, MergeDepth(dst, present.NewFramebuffer(2, 1)))
}

func TestWire(t *testing.T) {
	fb := rankFramebuffer(3, 7, 5)
	decoded, err := decodeFramebuffer(encodeFramebuffer(fb))
	require.NoError(t, err)
	assert.True(t, fb.Equal(decoded))
	_, err = decodeFramebuffer(encodeFramebuffer(fb)[:20])
	require.ErrorIs(t, err, ErrCorrupt)

	camera := present.NewCamera()
	camera.ResetCamera(resident.Bounds{0, 1, 2, 3, 4, 5})
	gotCamera, err := decodeCamera(encodeCamera(camera))
	require.NoError(t, err)
	assert.Equal(t, camera, gotCamera)

	round := parameterRound{Round: 7, Params: []float64{0.5, -1}}
	gotRound, err := decodeParameterRound(encodeParameterRound(round))
	require.NoError(t, err)
	assert.Equal(t, round, gotRound)

	part := partialGeometry{Round: 3, Triangles: &filters.HostTriangles{
		Points:  []float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Scalars: []float32{1, 2, 3},
	}}
	gotPart, err := decodePartialGeometry(encodePartialGeometry(part))
	require.NoError(t, err)
	if diff := cmp.Diff(part, gotPart); diff != "" {
		t.Errorf("partial geometry mismatch (-want +got):\n%s", diff)
	}
	empty, err := decodePartialGeometry(encodePartialGeometry(partialGeometry{Round: 4, Triangles: &filters.HostTriangles{}}))
	require.NoError(t, err)
	assert.Zero(t, empty.Triangles.NumTriangles())
}

func TestCompositeImage(t *testing.T) {
	const width, height = 13, 11
	for _, size := range []int{1, 2, 3, 5, 8} {
		want := rankFramebuffer(0, width, height)
		for rank := 1; rank < size; rank++ {
			require.NoError(t, MergeDepth(want, rankFramebuffer(rank, width, height)))
		}
		for _, strategy := range []Strategy{GatherToLeader, ReduceTree} {
			t.Run(fmt.Sprintf("%s-%d", strategy, size), func(t *testing.T) {
				var got *present.Framebuffer
				err := local.Run(testContext(t), size, func(ctx context.Context, comm *local.Comm) error {
					fb := rankFramebuffer(comm.Rank(), width, height)
					merged, err := CompositeImage(ctx, comm, fb, strategy)
					if err != nil {
						return err
					}
					if comm.Rank() == LeaderRank {
						got = merged
					} else {
						assert.Nil(t, merged)
					}
					return nil
				})
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.True(t, want.Equal(got), "composited image differs from sequential merge")
			})
		}
	}

	strategy, err := ParseStrategy("tree")
	require.NoError(t, err)
	assert.Equal(t, ReduceTree, strategy)
	_, err = ParseStrategy("bogus")
	require.Error(t, err)
}

func TestSession(t *testing.T) {
	const size = 3
	ids := make([]uuid.UUID, size)
	cameras := make([]present.Camera, size)
	leaderCamera := present.NewCamera()
	leaderCamera.ResetCamera(resident.Bounds{-1, 1, -2, 2, -3, 3})

	err := local.Run(testContext(t), size, func(ctx context.Context, comm *local.Comm) error {
		d, err := simdevice.New("")
		if err != nil {
			return err
		}
		defer d.Finalize()
		s, err := NewSession(ctx, comm, d, present.NewWindow(8, 8))
		if err != nil {
			return err
		}
		defer s.Close()
		assert.True(t, s.HasInterop())
		ids[s.Rank()] = s.ID()

		camera := present.NewCamera()
		if s.IsLeader() {
			camera = leaderCamera
		}
		cameras[s.Rank()], err = s.BroadcastCamera(ctx, camera)
		return err
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, ids[0])
	for rank := range size {
		assert.Equal(t, ids[0], ids[rank], "rank %d", rank)
		assert.Equal(t, leaderCamera, cameras[rank], "rank %d", rank)
	}
}

// roundTriangle returns a single triangle whose scalars identify the rank and round.
func roundTriangle(rank int, params []float64) *filters.HostTriangles {
	value := float32(100*rank) + float32(params[0])
	return &filters.HostTriangles{
		Points:  []float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Scalars: []float32{value, value, value},
	}
}

func TestRoundSynchronization(t *testing.T) {
	const (
		size      = 4
		numRounds = 5
		failRank  = 2
		failRound = 3
	)
	var mu sync.Mutex
	produced := make([]int, size)
	var results []*filters.HostTriangles

	err := local.Run(testContext(t), size, func(ctx context.Context, comm *local.Comm) error {
		g, err := NewGeometryGather(comm, func(_ context.Context, params []float64) (*filters.HostTriangles, error) {
			mu.Lock()
			produced[comm.Rank()]++
			mu.Unlock()
			if comm.Rank() == failRank && params[0] == failRound {
				return nil, errors.New("pipeline failure")
			}
			return roundTriangle(comm.Rank(), params), nil
		})
		if err != nil {
			return err
		}
		if comm.Rank() != LeaderRank {
			if err := g.Serve(ctx); err != nil {
				return err
			}
			assert.Equal(t, uint64(numRounds), g.Rounds())
			return nil
		}
		for round := 1; round <= numRounds; round++ {
			merged, err := g.Round(ctx, []float64{float64(round)})
			if err != nil {
				return err
			}
			results = append(results, merged)
		}
		return g.Stop(ctx)
	})
	require.NoError(t, err)

	// Each rank produced exactly once per round: R broadcasts and R x N responses.
	assert.Equal(t, []int{numRounds, numRounds, numRounds, numRounds}, produced)
	require.Len(t, results, numRounds)
	for ii, merged := range results {
		round := ii + 1
		var want []float32
		for rank := range size {
			if rank == failRank && round == failRound {
				continue
			}
			v := float32(100*rank + round)
			want = append(want, v, v, v)
		}
		assert.Equal(t, want, merged.Scalars, "round %d", round)
		require.NoError(t, merged.Validate())
	}
}

func TestGeometryGatherMisuse(t *testing.T) {
	group, err := local.NewGroup(2)
	require.NoError(t, err)
	defer group.Close()
	ctx := testContext(t)
	noop := func(context.Context, []float64) (*filters.HostTriangles, error) { return nil, nil }
	_, err = NewGeometryGather(group.Comm(0), nil)
	require.Error(t, err)

	leader, err := NewGeometryGather(group.Comm(0), noop)
	require.NoError(t, err)
	worker, err := NewGeometryGather(group.Comm(1), noop)
	require.NoError(t, err)
	require.Error(t, leader.Serve(ctx))
	require.Error(t, worker.Stop(ctx))
	_, err = worker.Round(ctx, nil)
	require.Error(t, err)

	// An answer for the wrong round is detected.
	part := partialGeometry{Round: 41, Triangles: &filters.HostTriangles{}}
	require.NoError(t, group.Comm(1).Send(ctx, 0, TagPartialGeometry, encodePartialGeometry(part)))
	_, err = leader.Round(ctx, nil)
	require.Error(t, err)
}

func TestRoundAfterTimeout(t *testing.T) {
	const numRounds = 4
	var results []*filters.HostTriangles
	err := local.Run(testContext(t), 2, func(ctx context.Context, comm *local.Comm) error {
		g, err := NewGeometryGather(comm, func(ctx context.Context, params []float64) (*filters.HostTriangles, error) {
			if comm.Rank() == 1 && params[0] == 1 {
				time.Sleep(300 * time.Millisecond)
			}
			return roundTriangle(comm.Rank(), params), nil
		})
		if err != nil {
			return err
		}
		if comm.Rank() != LeaderRank {
			return g.Serve(ctx)
		}

		// The first round gives up before the slow rank answers.
		shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		_, err = g.Round(shortCtx, []float64{1})
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// The late answer of round 1 is discarded by the next rounds.
		for round := 2; round <= numRounds; round++ {
			merged, err := g.Round(ctx, []float64{float64(round)})
			if err != nil {
				return err
			}
			results = append(results, merged)
		}
		return g.Stop(ctx)
	})
	require.NoError(t, err)
	require.Len(t, results, numRounds-1)
	for ii, merged := range results {
		round := float32(ii + 2)
		assert.Equal(t, []float32{round, round, round, 100 + round, 100 + round, 100 + round}, merged.Scalars,
			"round %g", round)
	}
}

func TestCorruptParametersAnswered(t *testing.T) {
	group, err := local.NewGroup(2)
	require.NoError(t, err)
	defer group.Close()
	ctx := testContext(t)
	worker, err := NewGeometryGather(group.Comm(1), func(_ context.Context, params []float64) (*filters.HostTriangles, error) {
		return roundTriangle(1, params), nil
	})
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- worker.Serve(ctx) }()

	// Parameters that can't be decoded are answered with an empty part for the expected round.
	ctl := transport.NewController(group.Comm(0))
	require.NoError(t, ctl.Trigger(ctx, 1, TagParameter, []byte{1, 2, 3}))
	msg, err := group.Comm(0).Receive(ctx, 1, TagPartialGeometry)
	require.NoError(t, err)
	part, err := decodePartialGeometry(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), part.Round)
	assert.Equal(t, 0, part.Triangles.NumTriangles())

	// The worker keeps serving the following rounds.
	require.NoError(t, ctl.Trigger(ctx, 1, TagParameter, encodeParameterRound(parameterRound{Round: 2, Params: []float64{7}})))
	msg, err = group.Comm(0).Receive(ctx, 1, TagPartialGeometry)
	require.NoError(t, err)
	part, err = decodePartialGeometry(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), part.Round)
	assert.Equal(t, []float32{107, 107, 107}, part.Triangles.Scalars)

	require.NoError(t, ctl.TriggerStop(ctx, 1))
	require.NoError(t, <-served)
}

// rankPipeline builds the pipeline distance field -> last stage -> presenter of one rank.
type rankPipeline struct {
	p         *pipeline.Pipeline
	source    *filters.FieldSource
	contour   *filters.Contour
	threshold *filters.Threshold
	presenter *present.Presenter
}

var (
	e2eWhole   = resident.Extent{0, 24, 0, 20, 0, 16}
	e2eOrigin  = [3]float64{-1.2, -1, -0.8}
	e2eSpacing = [3]float64{0.1, 0.1, 0.1}
	e2eField   = filters.DistanceField{Center: [3]float64{0.1, -0.05, 0}}
)

const (
	e2eIso          = 0.65
	e2eWidth        = 80
	e2eHeight       = 64
	e2eNumProcesses = 4
)

func newRankPipeline(t *testing.T, d devices.Device, window *present.Window, scope interopScoper, points bool) *rankPipeline {
	r := &rankPipeline{
		p:         pipeline.New(),
		source:    filters.NewFieldSource(d, e2eField, e2eWhole, e2eOrigin, e2eSpacing),
		contour:   filters.NewContour(e2eIso),
		threshold: filters.NewThreshold(0.5, 0.7),
		presenter: present.NewPresenter(window),
	}
	var last pipeline.Stage = r.contour
	if points {
		last = r.threshold
	}
	if scope != nil {
		r.presenter.SetInteropScope(scope.InteropScope())
	}
	assert.NoError(t, r.p.Connect(r.source, 0, last, 0))
	assert.NoError(t, r.p.Connect(last, 0, r.presenter, 0))
	return r
}

type interopScoper interface {
	InteropScope() *interop.Scope
}

func (r *rankPipeline) last(points bool) pipeline.Stage {
	if points {
		return r.threshold
	}
	return r.contour
}

func TestEndToEndGeometryGather(t *testing.T) {
	// Reference: the whole domain in a single process.
	d := newDevice(t)
	reference := newRankPipeline(t, d, present.NewWindow(8, 8), nil, false)
	require.NoError(t, reference.p.Update(context.Background(), reference.contour, pipeline.WholePiece))
	wholeCount := reference.p.Output(reference.contour, 0).NumTriangles()
	require.Greater(t, wholeCount, 100)

	var mu sync.Mutex
	partCounts := make([]int, e2eNumProcesses)
	var merged *filters.HostTriangles
	err := local.Run(testContext(t), e2eNumProcesses, func(ctx context.Context, comm *local.Comm) error {
		rd, err := simdevice.New(fmt.Sprintf("workers=%d", comm.Rank()))
		if err != nil {
			return err
		}
		defer rd.Finalize()
		r := newRankPipeline(t, rd, present.NewWindow(8, 8), nil, false)
		piece := pipeline.Piece{Index: comm.Rank(), NumPieces: comm.Size(), GhostLevel: 1}
		produce := PipelineProducer(r.p, r.contour, piece, func(params []float64) {
			r.contour.SetIsoValue(params[0])
		})
		counting := func(ctx context.Context, params []float64) (*filters.HostTriangles, error) {
			part, err := produce(ctx, params)
			if err == nil {
				mu.Lock()
				partCounts[comm.Rank()] = part.NumTriangles()
				mu.Unlock()
			}
			return part, err
		}
		g, err := NewGeometryGather(comm, counting)
		if err != nil {
			return err
		}
		if comm.Rank() != LeaderRank {
			return g.Serve(ctx)
		}
		merged, err = g.Round(ctx, []float64{e2eIso})
		if err != nil {
			return err
		}
		return g.Stop(ctx)
	})
	require.NoError(t, err)
	require.NotNil(t, merged)
	sum := 0
	for rank, count := range partCounts {
		assert.Greater(t, count, 0, "rank %d", rank)
		sum += count
	}
	assert.Equal(t, sum, merged.NumTriangles())
	assert.Equal(t, wholeCount, merged.NumTriangles())

	// The gathered geometry can be presented on the leader.
	src := filters.NewPolygonSource(d, "gathered")
	require.NoError(t, src.SetTriangles(merged))
	presenter := present.NewPresenter(present.NewWindow(e2eWidth, e2eHeight))
	camera := present.NewCamera()
	camera.ResetCamera(reference.p.Output(reference.contour, 0).Bounds())
	presenter.SetCamera(camera)
	p := pipeline.New()
	require.NoError(t, p.Connect(src, 0, presenter, 0))
	require.NoError(t, p.Update(context.Background(), presenter, pipeline.WholePiece))
	assert.Greater(t, presenter.Window().Framebuffer().CoveredPixels(), 100)
}

func TestEndToEndImageCompositing(t *testing.T) {
	for _, points := range []bool{false, true} {
		for _, strategy := range []Strategy{GatherToLeader, ReduceTree} {
			name := fmt.Sprintf("%s-contour", strategy)
			if points {
				name = fmt.Sprintf("%s-threshold", strategy)
			}
			t.Run(name, func(t *testing.T) {
				var (
					merged      *present.Framebuffer
					camera      present.Camera
					scalarRange [2]float64
				)
				err := local.Run(testContext(t), e2eNumProcesses, func(ctx context.Context, comm *local.Comm) error {
					config := ""
					if comm.Rank() == 2 {
						config = "nointerop"
					}
					rd, err := simdevice.New(config)
					if err != nil {
						return err
					}
					defer rd.Finalize()
					s, err := NewSession(ctx, comm, rd, present.NewWindow(e2eWidth, e2eHeight))
					if err != nil {
						return err
					}
					defer s.Close()
					assert.Equal(t, comm.Rank() != 2, s.HasInterop())

					r := newRankPipeline(t, rd, s.Window(), s, points)
					piece := pipeline.Piece{Index: comm.Rank(), NumPieces: comm.Size()}
					if err := r.p.Update(ctx, r.last(points), piece); err != nil {
						return err
					}
					bounds, globalRange, err := s.GlobalSummary(ctx, r.p.Output(r.last(points), 0))
					if err != nil {
						return err
					}
					cam := present.NewCamera()
					cam.Position = [3]float64{1, 2, 3}
					cam.ResetCamera(bounds)
					if cam, err = s.BroadcastCamera(ctx, cam); err != nil {
						return err
					}
					r.presenter.SetCamera(cam)
					r.presenter.SetColorFunc(present.GrayRamp(globalRange[0], globalRange[1]))
					fb, err := s.RenderFrame(ctx, r.p, r.presenter, piece, strategy)
					if err != nil {
						return err
					}
					if s.IsLeader() {
						merged, camera, scalarRange = fb, cam, globalRange
					}
					return nil
				})
				require.NoError(t, err)
				require.NotNil(t, merged)

				// Reference: the whole domain rendered by a single process with the same camera and colors.
				d := newDevice(t)
				reference := newRankPipeline(t, d, present.NewWindow(e2eWidth, e2eHeight), nil, points)
				reference.presenter.SetInteropScope(interop.NewScope())
				reference.presenter.SetCamera(camera)
				reference.presenter.SetColorFunc(present.GrayRamp(scalarRange[0], scalarRange[1]))
				require.NoError(t, reference.p.Update(context.Background(), reference.presenter, pipeline.WholePiece))
				want := reference.presenter.Window().Framebuffer()
				assert.Equal(t, want.CoveredPixels(), merged.CoveredPixels())
				assert.Greater(t, merged.CoveredPixels(), 50)
				assert.True(t, slices.Equal(want.Depth, merged.Depth), "composited depth differs from single process")
				if !points {
					// Contour scalars are all equal to the iso value, so depth ties can't change colors.
					assert.True(t, want.Equal(merged), "composited image differs from single process")
				}
			})
		}
	}
}

func TestFailingRankContributesBackground(t *testing.T) {
	var merged *present.Framebuffer
	err := local.Run(testContext(t), 3, func(ctx context.Context, comm *local.Comm) error {
		rd, err := simdevice.New("")
		if err != nil {
			return err
		}
		defer rd.Finalize()
		s, err := NewSession(ctx, comm, rd, present.NewWindow(16, 16))
		if err != nil {
			return err
		}
		defer s.Close()
		r := newRankPipeline(t, rd, s.Window(), s, false)
		if comm.Rank() == 1 {
			// Multi-component input is rejected by the contour: the pipeline fails on this rank.
			src, err := filters.NewImageSource[float32](rd, "rgb", resident.Extent{0, 1, 0, 1, 0, 1},
				[3]float64{}, [3]float64{1, 1, 1}, 3, make([]float32, 3*8))
			if err != nil {
				return err
			}
			r.p = pipeline.New()
			assert.NoError(t, r.p.Connect(src, 0, r.contour, 0))
			assert.NoError(t, r.p.Connect(r.contour, 0, r.presenter, 0))
		}
		cam := present.NewCamera()
		cam.ResetCamera(resident.StructuredBounds(e2eWhole, e2eOrigin, e2eSpacing))
		r.presenter.SetCamera(cam)
		fb, err := s.RenderFrame(ctx, r.p, r.presenter, pipeline.Piece{Index: comm.Rank(), NumPieces: 3}, GatherToLeader)
		if s.IsLeader() {
			merged = fb
		}
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, merged)
	require.NoError(t, merged.Validate())
}

func newDevice(t *testing.T) devices.Device {
	d, err := simdevice.New("")
	require.NoError(t, err)
	t.Cleanup(d.Finalize)
	return d
}
