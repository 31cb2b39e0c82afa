package warmup

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// dedupTTL is rolling: every pop refreshes it, so only keys idle for a full
// week expire.
const dedupTTL = 7 * 24 * time.Hour

// Deduplicator hands out template indexes per (from, to, category) key with
// no repeats until a full cycle through the pool completes. The shuffled
// permutation is durable, so restarts continue the cycle instead of
// restarting it.
type Deduplicator struct {
	store store.Store
	rand  *rand.Rand
}

// NewDeduplicator builds a deduplicator. The random source is injected so
// selection tests are reproducible.
func NewDeduplicator(st store.Store, rnd *rand.Rand) *Deduplicator {
	return &Deduplicator{store: st, rand: rnd}
}

type dedupState struct {
	Perm []int `json:"perm"`
	Pos  int   `json:"pos"`
}

func dedupKey(fromInboxID, toInboxID string, category model.TemplateCategory) string {
	return fmt.Sprintf("warmup:dedup:%s:%s:%s", fromInboxID, toInboxID, category)
}

// Pop returns the next template index for the key's pool of size n. On
// exhaustion the permutation reshuffles and the cycle starts over.
func (d *Deduplicator) Pop(ctx context.Context, fromInboxID, toInboxID string, category model.TemplateCategory, n int) (int, error) {
	if n <= 0 {
		return 0, eris.New("warmup: dedup pool size must be positive")
	}

	key := dedupKey(fromInboxID, toInboxID, category)
	raw, err := d.store.GetKV(ctx, key)
	if err != nil {
		return 0, eris.Wrapf(err, "warmup: dedup read %s", key)
	}

	var state dedupState
	if raw != nil {
		if jerr := json.Unmarshal(raw, &state); jerr != nil {
			state = dedupState{}
		}
	}
	// A pool size change invalidates the stored permutation.
	if len(state.Perm) != n || state.Pos >= n {
		state.Perm = d.shuffled(n)
		state.Pos = 0
	}

	idx := state.Perm[state.Pos]
	state.Pos++
	if state.Pos == n {
		state.Perm = d.shuffled(n)
		state.Pos = 0
	}

	out, err := json.Marshal(state)
	if err != nil {
		return 0, eris.Wrap(err, "warmup: dedup encode")
	}
	if err := d.store.SetKV(ctx, key, out, dedupTTL); err != nil {
		return 0, eris.Wrapf(err, "warmup: dedup write %s", key)
	}
	return idx, nil
}

func (d *Deduplicator) shuffled(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	d.rand.Shuffle(n, func(i, j int) {
		perm[i], perm[j] = perm[j], perm[i]
	})
	return perm
}
