package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"DriveDecoder/internal/logger"
)

// DefaultConfig provides default configuration for retry operations
var DefaultConfig = Config{
	MaxAttempts:         4,
	InitialBackoff:      50 * time.Millisecond,
	MaxBackoff:          2 * time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.5,
}

// Config configures the retry behavior
type Config struct {
	// MaxAttempts counts the first try
	MaxAttempts int

	// InitialBackoff is the wait after the first failure
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after every failure
	BackoffFactor float64

	// RandomizationFactor spreads the wait by +/- this fraction
	RandomizationFactor float64
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn with DefaultConfig
func Do(ctx context.Context, operation string, fn func() error) error {
	return DoConfig(ctx, operation, DefaultConfig, fn)
}

// DoConfig runs fn until it succeeds, returns a Permanent error, the
// attempts are used up or ctx is done. The last error is returned unwrapped.
func DoConfig(ctx context.Context, operation string, config Config, fn func() error) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	var err error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return permanent.err
		}

		if attempt == config.MaxAttempts {
			logger.Error("Failed %s after %d attempts: %v", operation, attempt, err)
			return err
		}

		backoff := calculateBackoff(attempt, config, r)
		logger.Warn("Retrying %s (attempt %d/%d) after %v: %v",
			operation, attempt, config.MaxAttempts, backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// calculateBackoff grows InitialBackoff by BackoffFactor per attempt, jittered and capped at MaxBackoff
func calculateBackoff(attempt int, config Config, r *rand.Rand) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffFactor, float64(attempt-1))

	delta := config.RandomizationFactor * backoff
	low := backoff - delta
	high := backoff + delta
	backoff = low + (high-low)*r.Float64()

	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	return time.Duration(backoff)
}
