package payapi

import (
	"context"
	"time"
)

// Sleep waits for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poll calls verify up to opts.MaxAttempts times, opts.Interval apart, and
// returns the first completed status. Errors from individual attempts count
// as "not completed yet". Exhaustion yields nil, nil.
func Poll(ctx context.Context, verify func(ctx context.Context) (*PaymentStatus, error), opts PollOptions) (*PaymentStatus, error) {
	wait := opts.Wait
	if wait == nil {
		wait = Sleep
	}
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if opts.OnProgress != nil {
			opts.OnProgress(attempt, opts.MaxAttempts)
		}
		status, err := verify(ctx)
		if err == nil && status.Completed() {
			return status, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if attempt < opts.MaxAttempts {
			if err := wait(ctx, opts.Interval); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}
