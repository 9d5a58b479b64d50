package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Retrying wraps a Provider with a fixed number of attempts, a linear backoff
// (Backoff × attempt) and a per-attempt timeout.
type Retrying struct {
	Provider Provider
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
	Logger   *zerolog.Logger

	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// IsConfigured reports whether the wrapped provider is usable.
func (r *Retrying) IsConfigured() bool {
	return r.Provider != nil && r.Provider.IsConfigured()
}

// Classify calls the wrapped provider until it succeeds or the attempts are
// used up. The last error is returned wrapped with the attempt count.
func (r *Retrying) Classify(ctx context.Context, system, user string) (string, error) {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := r.once(ctx, system, user)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if r.Logger != nil {
			r.Logger.Warn().Err(err).Int("attempt", attempt).Int("of", attempts).Msg("classification call failed")
		}
		if attempt < attempts {
			if err := sleep(ctx, r.Backoff*time.Duration(attempt)); err != nil {
				break
			}
		}
	}
	return "", eris.Wrapf(lastErr, "classification failed after %d attempts", attempts)
}

func (r *Retrying) once(ctx context.Context, system, user string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	return r.Provider.Classify(ctx, system, user)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
