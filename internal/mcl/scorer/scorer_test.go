package scorer

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/overlap-mcl/internal/mcl/grid"
	"github.com/banshee-data/overlap-mcl/internal/mcl/volume"
)

// keyVolumes maps each key to a one-hot style volume so scores are
// predictable: a frame matches cell (X, 0) when X equals the frame index.
type keyVolumes struct {
	mu       sync.Mutex
	resolved [][]volume.Key
}

func volumeOf(k volume.Key) volume.Volume {
	data := make([]float32, 8)
	if k.Kind == volume.KindFrame {
		data[k.Frame%8] = 1
	} else {
		data[((k.Cell.X%8)+8)%8] = 1
	}
	return volume.Volume{Shape: []int{8}, Data: data}
}

func (r *keyVolumes) Resolve(ctx context.Context, keys []volume.Key) ([]volume.Volume, error) {
	r.mu.Lock()
	r.resolved = append(r.resolved, append([]volume.Key(nil), keys...))
	r.mu.Unlock()
	out := make([]volume.Volume, len(keys))
	for i, k := range keys {
		out[i] = volumeOf(k)
	}
	return out, nil
}

func (r *keyVolumes) Extract(ctx context.Context, keys []volume.Key) ([]volume.Volume, error) {
	return r.Resolve(ctx, keys)
}

// countingScorer wraps a scorer and records batch sizes.
type countingScorer struct {
	inner   Scorer
	batches []int
	drop    int
	dropYaw bool
}

func (s *countingScorer) Capabilities() Capabilities { return s.inner.Capabilities() }

func (s *countingScorer) Score(ctx context.Context, q volume.Volume, maps []volume.Volume) (Result, error) {
	s.batches = append(s.batches, len(maps))
	res, err := s.inner.Score(ctx, q, maps)
	if err != nil {
		return res, err
	}
	res.Overlaps = res.Overlaps[:len(res.Overlaps)-min(s.drop, len(res.Overlaps))]
	if s.dropYaw {
		res.YawHistograms = nil
	}
	return res, nil
}

func cells(xs ...int) []grid.Coord {
	out := make([]grid.Coord, len(xs))
	for i, x := range xs {
		out[i] = grid.Coord{X: x}
	}
	return out
}

func TestBatchClientInferChunksInOrder(t *testing.T) {
	res := &keyVolumes{}
	sc := &countingScorer{inner: CosineScorer{}}
	c, err := NewBatchClient(res, sc, 3)
	require.NoError(t, err)

	out, err := c.Infer(context.Background(), 2, cells(0, 1, 2, 3, 4, 5, 6, 10))
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 0, 1, 0, 0, 0, 0, 1}, out.Overlaps)
	assert.Nil(t, out.YawHistograms)
	assert.Equal(t, []int{3, 3, 2}, sc.batches)
	assert.Equal(t, ClientStats{Calls: 3, Scored: 8}, c.Stats())

	// Query volume leads a single resolve call.
	require.Len(t, res.resolved, 1)
	assert.Equal(t, volume.FrameKey(2), res.resolved[0][0])
	assert.Len(t, res.resolved[0], 9)
}

func TestBatchClientEmptyRequest(t *testing.T) {
	res := &keyVolumes{}
	c, err := NewBatchClient(res, CosineScorer{}, 4)
	require.NoError(t, err)
	out, err := c.Infer(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Overlaps)
	assert.Empty(t, res.resolved)
}

func TestBatchClientResponseMismatch(t *testing.T) {
	c, err := NewBatchClient(&keyVolumes{}, &countingScorer{inner: CosineScorer{}, drop: 1}, 4)
	require.NoError(t, err)
	_, err = c.Infer(context.Background(), 0, cells(0, 1))
	assert.ErrorIs(t, err, ErrResponseMismatch)

	c, err = NewBatchClient(&keyVolumes{}, &countingScorer{inner: CosineScorer{YawBins: 8}, dropYaw: true}, 4)
	require.NoError(t, err)
	_, err = c.Infer(context.Background(), 0, []grid.Coord{{X: 0}})
	// Shape [8] is not a valid yaw volume, so the scorer itself rejects it.
	assert.Error(t, err)
}

func TestBatchClientYawMismatch(t *testing.T) {
	vols := &yawVolumes{}
	c, err := NewBatchClient(vols, &countingScorer{inner: CosineScorer{YawBins: 4}, dropYaw: true}, 4)
	require.NoError(t, err)
	_, err = c.Infer(context.Background(), 0, cells(0))
	assert.ErrorIs(t, err, ErrResponseMismatch)
}

func TestNewBatchClientValidation(t *testing.T) {
	_, err := NewBatchClient(nil, CosineScorer{}, 1)
	assert.Error(t, err)
	_, err = NewBatchClient(&keyVolumes{}, CosineScorer{}, 0)
	assert.Error(t, err)
}

// yawVolumes returns 2x4 volumes whose single hot column is set by the
// cell X coordinate (frames use column 0).
type yawVolumes struct{}

func (yawVolumes) Resolve(ctx context.Context, keys []volume.Key) ([]volume.Volume, error) {
	out := make([]volume.Volume, len(keys))
	for i, k := range keys {
		col := 0
		if k.Kind == volume.KindCell {
			col = ((k.Cell.X % 4) + 4) % 4
		}
		data := make([]float32, 8)
		data[col] = 1
		data[4+col] = 1
		out[i] = volume.Volume{Shape: []int{2, 4}, Data: data}
	}
	return out, nil
}

func TestCosineScorerYawHistogram(t *testing.T) {
	c, err := NewBatchClient(yawVolumes{}, CosineScorer{YawBins: 4}, 8)
	require.NoError(t, err)
	assert.Equal(t, Capabilities{Yaw: true, YawBins: 4}, c.Capabilities())

	out, err := c.Infer(context.Background(), 0, cells(0, 1))
	require.NoError(t, err)
	require.Len(t, out.YawHistograms, 2)

	// Identical volumes peak at the zero-yaw slot.
	assert.InDelta(t, 1.0, out.Overlaps[0], 1e-6)
	assert.InDeltaSlice(t, []float64{0, 0, 1, 0}, out.YawHistograms[0], 1e-6)

	// A map volume one column ahead peaks one slot earlier.
	assert.Equal(t, 0.0, out.Overlaps[1])
	assert.InDeltaSlice(t, []float64{0, 1, 0, 0}, out.YawHistograms[1], 1e-6)
}

func TestCosineScorer(t *testing.T) {
	q := volume.Volume{Shape: []int{3}, Data: []float32{1, 0, 0}}
	maps := []volume.Volume{
		{Shape: []int{3}, Data: []float32{2, 0, 0}},
		{Shape: []int{3}, Data: []float32{-1, 0, 0}},
		{Shape: []int{3}, Data: []float32{0, 0, 0}},
		{Shape: []int{3}, Data: []float32{1, 1, 0}},
	}
	res, err := CosineScorer{}.Score(context.Background(), q, maps)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 0, 0, 0.70710678}, res.Overlaps, 1e-6)

	_, err = CosineScorer{}.Score(context.Background(), q, []volume.Volume{{Shape: []int{2}, Data: []float32{1, 0}}})
	assert.Error(t, err)
}

func TestRollColumns(t *testing.T) {
	src := []float32{1, 2, 3, 4, 5, 6}
	dst := make([]float32, 6)
	rollColumns(dst, src, 3, 1)
	assert.Equal(t, []float32{3, 1, 2, 6, 4, 5}, dst)
	rollColumns(dst, src, 3, -1)
	assert.Equal(t, []float32{2, 3, 1, 5, 6, 4}, dst)
}

func startBufconn(t *testing.T, sc Scorer, ex volume.Extractor) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(sc, ex)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCScorerRoundTrip(t *testing.T) {
	conn := startBufconn(t, CosineScorer{YawBins: 4}, &keyVolumes{})
	ctx := context.Background()

	remote, err := NewGRPCScorer(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, Capabilities{Yaw: true, YawBins: 4}, remote.Capabilities())

	vols, _ := yawVolumes{}.Resolve(ctx, []volume.Key{volume.FrameKey(0), volume.CellKey(grid.Coord{X: 1})})
	res, err := remote.Score(ctx, vols[0], vols[1:])
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, res.Overlaps)
	require.Len(t, res.YawHistograms, 1)
	assert.InDeltaSlice(t, []float64{0, 1, 0, 0}, res.YawHistograms[0], 1e-6)

	ex := NewGRPCExtractor(conn)
	got, err := ex.Extract(ctx, []volume.Key{volume.FrameKey(3), volume.CellKey(grid.Coord{X: 5, Y: 1})})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, volumeOf(volume.FrameKey(3)).Equal(got[0]))
	assert.True(t, volumeOf(volume.CellKey(grid.Coord{X: 5, Y: 1})).Equal(got[1]))
}

func TestGRPCScorerRemoteError(t *testing.T) {
	conn := startBufconn(t, CosineScorer{}, nil)
	ctx := context.Background()
	remote, err := NewGRPCScorer(ctx, conn)
	require.NoError(t, err)

	q := volume.Volume{Shape: []int{2}, Data: []float32{1, 0}}
	bad := volume.Volume{Shape: []int{3}, Data: []float32{1, 0, 0}}
	_, err = remote.Score(ctx, q, []volume.Volume{bad})
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))

	// No extractor registered on this server.
	_, err = NewGRPCExtractor(conn).Extract(ctx, []volume.Key{volume.FrameKey(0)})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestGRPCExtractorFeedsCache(t *testing.T) {
	conn := startBufconn(t, CosineScorer{}, &keyVolumes{})
	store, err := volume.OpenBadgerStore(volume.BadgerOptions{InMemory: true, Resolution: 0.2})
	require.NoError(t, err)
	defer store.Close()

	cache, err := volume.NewCache(volume.CacheConfig{Capacity: 32, BatchSize: 4, Workers: 2}, store, NewGRPCExtractor(conn))
	require.NoError(t, err)
	c, err := NewBatchClient(cache, CosineScorer{}, 4)
	require.NoError(t, err)

	out, err := c.Infer(context.Background(), 1, cells(0, 1, 9))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1}, out.Overlaps)
	assert.Equal(t, int64(4), cache.Stats().Computed)

	stored, err := store.ListCells()
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestCosineScorerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := volume.Volume{Shape: []int{1}, Data: []float32{1}}
	_, err := CosineScorer{}.Score(ctx, q, []volume.Volume{q})
	assert.True(t, errors.Is(err, context.Canceled))
}
