// Package loader renders prices in two phases: placeholders immediately,
// then the authoritative values once a background fetch returns.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds the background fetch.
	DefaultTimeout = 30 * time.Second
	// DefaultPulse is the placeholder animation interval.
	DefaultPulse = 500 * time.Millisecond
	// DefaultErrorMessage is shown when the refresh fails.
	DefaultErrorMessage = "We could not update the prices. Please reload the page to try again."
)

// ErrTimeout is returned when the background fetch exceeds its deadline.
var ErrTimeout = errors.New("price refresh timed out")

// View is the rendering surface driven by the loader. Calls are made from
// the goroutine running the loader, never concurrently.
type View interface {
	// ShowPlaceholders renders every id with a pending-price indicator.
	ShowPlaceholders(ids []string)
	// Pulse advances the placeholder animation by one frame.
	Pulse()
	// PatchPrice replaces the placeholder of one id with its final price.
	PatchPrice(id string, amount float64)
	// SetInteractive enables or disables actions that need final prices.
	SetInteractive(enabled bool)
	// ShowError surfaces a retryable failure to the visitor.
	ShowError(message string)
}

// Refinement is the authoritative data of phase 2.
type Refinement struct {
	AvailToken string
	Prices     map[string]float64
	Reinit     []string
}

// Fetch retrieves the refinement. It should honour ctx.
type Fetch func(ctx context.Context) (*Refinement, error)

// Outcome summarizes one run.
type Outcome struct {
	Refinement *Refinement
	Patched    int
	Err        error
}

// Options tunes a Loader. Zero values take the defaults; a negative Pulse
// disables the animation.
type Options struct {
	Timeout      time.Duration
	Pulse        time.Duration
	ErrorMessage string
	Registry     *Registry
	Logger       *slog.Logger
}

// Loader runs the two-phase refresh against a View.
type Loader struct {
	view View
	opts Options
}

// New creates a Loader.
func New(view View, opts Options) *Loader {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Pulse == 0 {
		opts.Pulse = DefaultPulse
	}
	if opts.ErrorMessage == "" {
		opts.ErrorMessage = DefaultErrorMessage
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loader{view: view, opts: opts}
}

// Run performs phase 1 and then blocks on phase 2. Interaction is
// re-enabled exactly once whatever the outcome; failures leave placeholders
// in place and show a single error. There is no retry.
func (l *Loader) Run(ctx context.Context, ids []string, fetch Fetch) Outcome {
	stopPulse := l.placeholders(ids)
	return l.refine(ctx, ids, fetch, stopPulse)
}

// Start performs phase 1 synchronously and phase 2 in the background. The
// channel receives exactly one Outcome.
func (l *Loader) Start(ctx context.Context, ids []string, fetch Fetch) <-chan Outcome {
	stopPulse := l.placeholders(ids)

	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		out <- l.refine(ctx, ids, fetch, stopPulse)
	}()
	return out
}

func (l *Loader) placeholders(ids []string) (stopPulse func()) {
	l.view.SetInteractive(false)
	l.view.ShowPlaceholders(ids)
	return l.startPulse()
}

func (l *Loader) refine(ctx context.Context, ids []string, fetch Fetch, stopPulse func()) Outcome {
	var enableOnce sync.Once
	enable := func() { enableOnce.Do(func() { l.view.SetInteractive(true) }) }
	defer enable()
	defer stopPulse()

	ref, err := l.fetch(ctx, fetch)
	stopPulse()

	if err != nil {
		l.opts.Logger.Warn("delayed price refresh failed", "error", err, "records", len(ids))
		l.view.ShowError(l.opts.ErrorMessage)
		return Outcome{Err: err}
	}

	patched := 0
	for _, id := range ids {
		if price, ok := ref.Prices[id]; ok {
			l.view.PatchPrice(id, price)
			patched++
		}
	}

	if l.opts.Registry != nil && len(ref.Reinit) > 0 {
		l.opts.Registry.Run(ref.Reinit)
	}

	return Outcome{Refinement: ref, Patched: patched}
}

// fetch runs f under the loader's deadline. A fetch that ignores its
// context is abandoned once the deadline passes.
func (l *Loader) fetch(ctx context.Context, f Fetch) (*Refinement, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	type result struct {
		ref *Refinement
		err error
	}
	done := make(chan result, 1)
	go func() {
		ref, err := f(ctx)
		done <- result{ref, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %w", ErrTimeout, r.err)
			}
			return nil, r.err
		}
		if r.ref == nil {
			return nil, errors.New("empty price refresh")
		}
		return r.ref, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, l.opts.Timeout)
		}
		return nil, context.Cause(ctx)
	}
}

// startPulse animates the placeholders until the returned stop is called.
// stop waits for the animation goroutine, so no Pulse happens after it.
func (l *Loader) startPulse() (stop func()) {
	if l.opts.Pulse < 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		ticker := time.NewTicker(l.opts.Pulse)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.view.Pulse()
			case <-done:
				return
			}
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
