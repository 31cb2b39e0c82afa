// Package queue runs background jobs off the store's jobs table. Submission
// is idempotent on job ID, which is what makes scheduler ticks safe to rerun.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/store"
)

// Queue submits and inspects jobs.
type Queue struct {
	store store.Store
	clock clock.Clock
}

func New(st store.Store, clk clock.Clock) *Queue {
	if clk == nil {
		clk = clock.New()
	}
	return &Queue{store: st, clock: clk}
}

// SubmitOptions control scheduling of a single job.
type SubmitOptions struct {
	Delay       time.Duration
	MaxAttempts int
}

// Submit enqueues a job. A job with an ID already present in the table is
// silently skipped and reported via the returned bool.
func (q *Queue) Submit(ctx context.Context, id, jobType string, payload any, opts SubmitOptions) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, eris.Wrapf(err, "queue: marshal payload for %s", id)
	}

	job := &store.JobRecord{
		ID:          id,
		Type:        jobType,
		Payload:     body,
		RunAt:       q.clock.Now().UTC().Add(opts.Delay),
		MaxAttempts: opts.MaxAttempts,
	}
	err = q.store.InsertJob(ctx, job)
	if eris.Is(err, store.ErrDuplicateJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PendingFor counts waiting and delayed jobs of a type whose payload field
// matches the given value.
func (q *Queue) PendingFor(ctx context.Context, jobType, payloadField, value string) (int, error) {
	return q.store.CountPendingJobs(ctx, jobType, payloadField, value)
}

// Depth reports the number of jobs per status, for the status surfaces.
func (q *Queue) Depth(ctx context.Context) (map[store.JobStatus]int, error) {
	depths := make(map[store.JobStatus]int, 4)
	for _, status := range []store.JobStatus{
		store.JobStatusWaiting, store.JobStatusActive, store.JobStatusDone, store.JobStatusFailed,
	} {
		n, err := q.store.CountJobsByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		depths[status] = n
	}
	return depths, nil
}
