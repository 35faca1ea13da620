package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
)

type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// Delay is the wait before retry attempt n (1-based): base * factor^(n-1), capped at MaxDelay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 || c.BaseDelay <= 0 {
		return 0
	}
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(c.BaseDelay) * math.Pow(factor, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// StageRunner processes the given sub-unit indices. On error it returns the
// indices that did succeed; on success every index is taken as done.
type StageRunner func(ctx context.Context, indices []int) (succeeded []int, err error)

// RetryFailedStage re-runs only the sub-units of stage that have not
// succeeded yet, with exponential backoff between attempts. Non-retryable
// errors stop immediately; exhaustion returns the last error.
func (t *PipelineTracker) RetryFailedStage(ctx context.Context, documentID string, stage model.Stage, cfg RetryConfig, run StageRunner) error {
	st, err := t.Status(ctx, documentID)
	if err != nil {
		return err
	}
	if st.Failure == nil || st.Failure.Stage != stage {
		return fmt.Errorf("%w: no recorded failure for %s at %s", domain.ErrNotFound, documentID, stage)
	}
	total := st.Failure.Total
	lastErr := fmt.Errorf("%s: %s", stage, st.Failure.Error)

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if d := cfg.Delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		remaining := t.Remaining(documentID, stage, total)
		if len(remaining) == 0 {
			return nil
		}

		t.log.Debug().Str("document_id", documentID).Str("stage", string(stage)).
			Int("attempt", attempt).Int("remaining", len(remaining)).Msg("retrying failed stage")
		succeeded, err := run(ctx, remaining)
		if err == nil {
			return nil
		}
		lastErr = err
		if ferr := t.HandlePipelineFailure(ctx, documentID, PipelineFailure{
			Stage: stage, Err: err, PartialResults: succeeded, Total: total,
		}); ferr != nil {
			return ferr
		}
		if !domain.IsRetryable(err) {
			return err
		}
	}
	return lastErr
}
