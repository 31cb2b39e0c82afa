package warmup

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-engine/internal/model"
)

func TestDeduplicatorFullCycleNoRepeats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := NewDeduplicator(newTestStore(t), testRand())

	const poolSize = 6
	seen := make(map[int]bool)
	for i := 0; i < poolSize; i++ {
		idx, err := d.Pop(ctx, "inbox-a", "inbox-b", model.TemplateOpener, poolSize)
		require.NoError(t, err)
		assert.False(t, seen[idx], "index %d repeated within one cycle", idx)
		seen[idx] = true
	}
	assert.Len(t, seen, poolSize)
}

func TestDeduplicatorReshufflesAfterExhaustion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := NewDeduplicator(newTestStore(t), testRand())

	const poolSize = 4
	for cycle := 0; cycle < 3; cycle++ {
		seen := make(map[int]bool)
		for i := 0; i < poolSize; i++ {
			idx, err := d.Pop(ctx, "a", "b", model.TemplateReply, poolSize)
			require.NoError(t, err)
			seen[idx] = true
		}
		assert.Len(t, seen, poolSize, "cycle %d covered the full pool", cycle)
	}
}

func TestDeduplicatorKeysAreIndependent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := NewDeduplicator(newTestStore(t), testRand())

	// Drain one key's cycle entirely, then check another key still covers
	// its own full pool.
	for i := 0; i < 5; i++ {
		_, err := d.Pop(ctx, "a", "b", model.TemplateOpener, 5)
		require.NoError(t, err)
	}
	seen := make(map[int]bool)
	for i := 0; i < 5; i++ {
		idx, err := d.Pop(ctx, "a", "c", model.TemplateOpener, 5)
		require.NoError(t, err)
		seen[idx] = true
	}
	assert.Len(t, seen, 5)
}

func TestDeduplicatorResetsOnPoolSizeChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := NewDeduplicator(newTestStore(t), testRand())

	for i := 0; i < 3; i++ {
		_, err := d.Pop(ctx, "a", "b", model.TemplateCloser, 4)
		require.NoError(t, err)
	}

	// The operator swapped in a larger template file mid-cycle.
	seen := make(map[int]bool)
	for i := 0; i < 7; i++ {
		idx, err := d.Pop(ctx, "a", "b", model.TemplateCloser, 7)
		require.NoError(t, err)
		assert.Less(t, idx, 7)
		seen[idx] = true
	}
	assert.Len(t, seen, 7)
}

func TestDeduplicatorRejectsEmptyPool(t *testing.T) {
	t.Parallel()
	d := NewDeduplicator(newTestStore(t), testRand())
	_, err := d.Pop(context.Background(), "a", "b", model.TemplateOpener, 0)
	assert.Error(t, err)
}

// Job handlers run with runner concurrency, so the shared random source and
// the sqlite kv writes both see simultaneous callers.
func TestDeduplicatorConcurrentPops(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := NewDeduplicator(newTestStore(t), NewRand(42, 1337))

	const poolSize = 8
	var g errgroup.Group
	for w := 0; w < 4; w++ {
		from := fmt.Sprintf("inbox-%d", w)
		g.Go(func() error {
			for i := 0; i < poolSize; i++ {
				idx, err := d.Pop(ctx, from, "partner", model.TemplateOpener, poolSize)
				if err != nil {
					return err
				}
				if idx < 0 || idx >= poolSize {
					return fmt.Errorf("index %d out of range", idx)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestNewRandConcurrentDraws(t *testing.T) {
	t.Parallel()
	r := NewRand(1, 2)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 1000; i++ {
				if v := r.Int64N(100); v < 0 || v >= 100 {
					return fmt.Errorf("draw %d out of range", v)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
