package dispatch

import (
	"context"
	"time"
)

// Reaper is an optional backstop: it moves jobs stuck in EXECUTING past
// startedAt+timeoutSeconds+grace back into a terminal FAILED(TIMEOUT) state
// (spec §4.4, §5). Neither the reaper nor a background sweeper is required
// for correctness — it uses the same idempotent SubmitResult path a real
// agent uses, so it always loses the race to a late, genuine result.
type Reaper struct {
	svc      *Service
	interval time.Duration
	grace    time.Duration
}

// NewReaper constructs a Reaper. It does nothing until Start is called.
func NewReaper(svc *Service, interval, grace time.Duration) *Reaper {
	return &Reaper{svc: svc, interval: interval, grace: grace}
}

// Start runs the sweep on a ticker until the returned stop function is
// called.
func (r *Reaper) Start() func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
	return cancel
}

func (r *Reaper) sweep(ctx context.Context) {
	now := r.svc.now().UTC()
	jobs, err := r.svc.store.ListJobs(ctx, "", 0)
	if err != nil {
		return
	}
	for _, j := range jobs {
		if j.State != StateExecuting || j.StartedAt == nil || j.AssignedAgentID == nil {
			continue
		}
		deadline := j.StartedAt.Add(time.Duration(j.TimeoutSeconds)*time.Second + r.grace)
		if now.Before(deadline) {
			continue
		}
		reason := FailureTimeout
		_, _ = r.svc.SubmitResult(ctx, *j.AssignedAgentID, j.ID, ResultFailed, &reason, nil)
	}
}
