package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/reelyactive/barnowl/errors"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err must not be retried: it was marked
// with NonRetryable or classified fatal.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return stderrors.As(err, &nre) || errors.IsFatal(err)
}

// Config provides retry configuration. A MaxAttempts of zero retries
// forever, which is what a reel listener wants for an unplugged device.
type Config struct {
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	AddJitter    bool          `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

// DefaultConfig returns the listener reconnect policy
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  0,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 0:
		return fmt.Errorf("%w: max_attempts cannot be negative", errors.ErrInvalidConfig)
	case c.InitialDelay < 0:
		return fmt.Errorf("%w: initial_delay cannot be negative", errors.ErrInvalidConfig)
	case c.MaxDelay < 0:
		return fmt.Errorf("%w: max_delay cannot be negative", errors.ErrInvalidConfig)
	case c.Multiplier < 0:
		return fmt.Errorf("%w: multiplier cannot be negative", errors.ErrInvalidConfig)
	case c.MaxDelay > 0 && c.MaxDelay < c.InitialDelay:
		return fmt.Errorf("%w: max_delay must be >= initial_delay", errors.ErrInvalidConfig)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	// Prevent overflow with extremely large multipliers
	if c.Multiplier > 1000 {
		c.Multiplier = 1000
	}
	return c
}

// Backoff yields successive delays for a reconnect loop
type Backoff struct {
	cfg     Config
	attempt int
	delay   time.Duration
}

// NewBackoff returns a Backoff for cfg
func NewBackoff(cfg Config) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{cfg: cfg, delay: cfg.InitialDelay}
}

// Attempts returns the number of delays handed out since the last Reset
func (b *Backoff) Attempts() int { return b.attempt }

// Next returns the delay before the next attempt and false once MaxAttempts
// have been used. The first attempt needs no delay, so a sequence hands out
// MaxAttempts-1 delays.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.cfg.MaxAttempts > 0 && b.attempt+1 >= b.cfg.MaxAttempts {
		return 0, false
	}
	b.attempt++

	sleep := b.delay
	if b.cfg.AddJitter && b.delay >= 4 {
		// up to 25% jitter
		randMu.Lock()
		sleep += time.Duration(randSource.Int63n(int64(b.delay / 4)))
		randMu.Unlock()
	}

	next := float64(b.delay) * b.cfg.Multiplier
	if next > float64(b.cfg.MaxDelay) {
		b.delay = b.cfg.MaxDelay
	} else {
		b.delay = time.Duration(next)
	}
	return sleep, true
}

// Reset starts the sequence over, typically after a successful connection
func (b *Backoff) Reset() {
	b.attempt = 0
	b.delay = b.cfg.InitialDelay
}

// Wait sleeps for the next delay. It returns ErrMaxRetriesExceeded when the
// attempts are used up and the context error if ctx ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	d, ok := b.Next()
	if !ok {
		return errors.ErrMaxRetriesExceeded
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

// Do executes fn with exponential backoff retry. With MaxAttempts of zero fn
// is retried until it succeeds, fails non-retryably, or ctx ends.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if err := cfg.Validate(); err != nil {
		return errors.WrapFatal(err, "retry", "Do", "validate config")
	}

	backoff := NewBackoff(cfg)
	var lastErr error
	for {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after %d attempts: %w", backoff.Attempts()+1, ctx.Err())
		}

		if werr := backoff.Wait(ctx); werr != nil {
			if stderrors.Is(werr, errors.ErrMaxRetriesExceeded) {
				return fmt.Errorf("retry failed after %d attempts: %w: %w", backoff.Attempts()+1, werr, lastErr)
			}
			return fmt.Errorf("retry cancelled during backoff: %w", werr)
		}
	}
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

// Quick returns a config for fast bounded retries (useful during startup)
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}
