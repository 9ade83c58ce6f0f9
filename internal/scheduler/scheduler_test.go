package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-harvester/internal/harvest"
	"github.com/JakeFAU/report-harvester/internal/harvest/harvesttest"
)

// fakeAcquirer returns a fixed outcome per record id, panics for ids listed
// in panics, and tracks peak concurrency.
type fakeAcquirer struct {
	outcomes map[string]harvest.Outcome
	panics   map[string]bool
	delay    time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32

	mu    sync.Mutex
	order []string
}

func (f *fakeAcquirer) Acquire(ctx context.Context, rec harvest.Record, _ string) harvest.Outcome {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	f.mu.Lock()
	f.order = append(f.order, rec.ID)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if f.panics[rec.ID] {
		panic("boom " + rec.ID)
	}
	if out, ok := f.outcomes[rec.ID]; ok {
		return out
	}
	return harvest.OutcomeFailed
}

func batchOf(ids ...string) harvest.Batch {
	batch := make(harvest.Batch, len(ids))
	for i, id := range ids {
		batch[i] = harvest.Record{ID: id}
	}
	return batch
}

func pairs(results []harvest.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.RecordID + "=" + string(r.Outcome)
	}
	sort.Strings(out)
	return out
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{}
	_, err := New(nil, Config{OutputDir: "out"}, nil, nil)
	assert.Error(t, err)
	_, err = New(acq, Config{}, nil, nil)
	assert.Error(t, err)
	_, err = New(acq, Config{OutputDir: "out", Mode: "threads"}, nil, nil)
	assert.Error(t, err)
	_, err = New(acq, Config{OutputDir: "out", Workers: -1}, nil, nil)
	assert.Error(t, err)

	s, err := New(acq, Config{OutputDir: "out"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ModePool, s.cfg.Mode)
	assert.Positive(t, s.Workers())

	s, err = New(acq, Config{OutputDir: "out", Mode: ModeSequential, Workers: 8}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Workers())
}

func TestRunSequentialPreservesBatchOrder(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{outcomes: map[string]harvest.Outcome{
		"a": harvest.OutcomeDirect,
		"c": harvest.OutcomeFallback,
	}}
	s, err := New(acq, Config{Mode: ModeSequential, OutputDir: t.TempDir()}, nil, zap.NewNop())
	require.NoError(t, err)

	results, err := s.Run(context.Background(), batchOf("a", "b", "c", "d"))
	require.NoError(t, err)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.RecordID
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	assert.Equal(t, harvest.OutcomeDirect, results[0].Outcome)
	assert.Equal(t, harvest.OutcomeFailed, results[1].Outcome)
	assert.Equal(t, harvest.OutcomeFallback, results[2].Outcome)
	assert.Equal(t, int32(1), acq.peak.Load())
}

func TestRunPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{delay: 20 * time.Millisecond}
	obs := harvesttest.NewObserver()
	s, err := New(acq, Config{Mode: ModePool, Workers: 3, OutputDir: t.TempDir()}, obs, zap.NewNop())
	require.NoError(t, err)

	results, err := s.Run(context.Background(), batchOf("1", "2", "3", "4", "5", "6", "7", "8", "9"))
	require.NoError(t, err)
	assert.Len(t, results, 9)
	assert.LessOrEqual(t, acq.peak.Load(), int32(3))
	assert.Equal(t, 9, obs.Started)
	assert.Equal(t, 9, obs.Finished)
	assert.Equal(t, 9, obs.OutcomeCount(harvest.OutcomeFailed))
}

func TestModesProduceSameOutcomes(t *testing.T) {
	t.Parallel()

	outcomes := map[string]harvest.Outcome{
		"1": harvest.OutcomeDirect,
		"2": harvest.OutcomeFallback,
		"3": harvest.OutcomeFailed,
		"4": harvest.OutcomeDirect,
		"5": harvest.OutcomeFallback,
	}
	batch := batchOf("1", "2", "3", "4", "5")

	seq, err := New(&fakeAcquirer{outcomes: outcomes}, Config{Mode: ModeSequential, OutputDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)
	pool, err := New(&fakeAcquirer{outcomes: outcomes}, Config{Mode: ModePool, Workers: 4, OutputDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	seqResults, err := seq.Run(context.Background(), batch)
	require.NoError(t, err)
	poolResults, err := pool.Run(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, pairs(seqResults), pairs(poolResults))
}

func TestRunIsolatesWorkerPanics(t *testing.T) {
	t.Parallel()

	for _, mode := range []Mode{ModeSequential, ModePool} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()

			acq := &fakeAcquirer{
				outcomes: map[string]harvest.Outcome{"1": harvest.OutcomeDirect, "3": harvest.OutcomeDirect},
				panics:   map[string]bool{"2": true},
			}
			s, err := New(acq, Config{Mode: mode, Workers: 2, OutputDir: t.TempDir()}, nil, zap.NewNop())
			require.NoError(t, err)

			results, err := s.Run(context.Background(), batchOf("1", "2", "3"))
			require.NoError(t, err)
			require.Len(t, results, 3)

			byID := map[string]harvest.Result{}
			for _, r := range results {
				byID[r.RecordID] = r
			}
			assert.Equal(t, harvest.OutcomeDirect, byID["1"].Outcome)
			assert.Equal(t, harvest.OutcomeFailed, byID["2"].Outcome)
			assert.ErrorContains(t, byID["2"].Err, "boom 2")
			assert.Equal(t, harvest.OutcomeDirect, byID["3"].Outcome)
		})
	}
}

func TestStreamCancellationStillReportsEveryRecord(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{delay: 10 * time.Second}
	s, err := New(acq, Config{Mode: ModePool, Workers: 1, OutputDir: t.TempDir()}, nil, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := s.Stream(ctx, batchOf("1", "2", "3", "4"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	cancel()

	var results []harvest.Result
	for r := range stream {
		results = append(results, r)
	}
	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, harvest.OutcomeFailed, r.Outcome)
	}
	assert.Less(t, len(acq.order), 4, "canceled records must not all be dispatched")
}

func TestStreamCreatesOutputDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "downloads")
	s, err := New(&fakeAcquirer{}, Config{OutputDir: dir}, nil, nil)
	require.NoError(t, err)

	results, err := s.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.DirExists(t, dir)
	assert.NoFileExists(t, filepath.Join(dir, ".writable_test"))
}

func TestStreamFailsWhenOutputIsAFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "downloads")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	acq := &fakeAcquirer{}
	s, err := New(acq, Config{OutputDir: file}, nil, nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), batchOf("1"))
	require.Error(t, err)
	assert.Empty(t, acq.order, "no work may be dispatched after a setup failure")
}
