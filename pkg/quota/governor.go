// Package quota gates outbound Alma API calls so the per-second request
// rate and the institutional call budget are respected.
//
// The governor is process-wide shared state: construct one instance at
// startup and share it by reference between all executors. It cycles
// between Ready and Throttled while the trailing per-second window fills
// and drains, and transitions terminally to Halted when the remote service
// reports that the remaining call budget dropped under the hard floor.
package quota

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ExitQuotaExhausted is the process exit status used by the default halt
// handler when the institutional call budget is exhausted.
const ExitQuotaExhausted = 4

// State of the governor.
type State int

const (
	// StateReady allows dispatch.
	StateReady State = iota

	// StateThrottled means the trailing window is full and callers are
	// being suspended. Cycles back to Ready once the window clears.
	StateThrottled

	// StateHalted is terminal: the remaining call budget dropped under
	// the floor and no further calls are issued.
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateThrottled:
		return "throttled"
	case StateHalted:
		return "halted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Metrics receives governor events. Implementations must be safe for
// concurrent use. See pkg/metrics for a Prometheus-backed collector.
type Metrics interface {
	ThrottleEngaged()
	QuotaRemaining(remaining int)
}

// Config configures a Governor.
type Config struct {
	// WindowLimit is the number of calls allowed within the trailing
	// window before callers are throttled (default: 25).
	WindowLimit int

	// Window is the trailing window duration (default: 1s).
	Window time.Duration

	// ThrottleDelay is how long a throttled caller is suspended before
	// re-checking the window (default: 3s).
	ThrottleDelay time.Duration

	// HaltThreshold is the remaining-call floor under which the governor
	// halts (default: 5000).
	HaltThreshold int

	// OnHalt is invoked once when the governor halts. The default
	// terminates the process with ExitQuotaExhausted: continuing to
	// spend the institution's quota risks locking out the API key.
	OnHalt func(remaining int)

	// Logger (optional).
	Logger hclog.Logger

	// Metrics (optional).
	Metrics Metrics
}

// DefaultConfig returns the governor limits enforced by the Alma API.
func DefaultConfig() Config {
	return Config{
		WindowLimit:   25,
		Window:        time.Second,
		ThrottleDelay: 3 * time.Second,
		HaltThreshold: 5000,
	}
}

// Governor tracks the trailing call window and the remaining call budget.
// All methods are safe for concurrent use. The throttle suspension never
// holds the internal lock, so callers already past the gate proceed and
// other throttled callers observe the window draining.
type Governor struct {
	cfg     Config
	logger  hclog.Logger
	metrics Metrics

	// Injectable for deterministic tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	calls     []time.Time // dispatch timestamps within the trailing window
	remaining int         // last remote-reported remaining calls, -1 unknown
	state     State
	halted    bool
}

// HaltError is returned by Acquire once the governor has halted. It is
// fatal: the call budget floor was breached and no further calls may be
// issued with this key.
type HaltError struct {
	Remaining int
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("quota: halted, %d remaining calls is under the floor", e.Remaining)
}

// New creates a Governor. Zero-value config fields fall back to
// DefaultConfig.
func New(cfg Config) *Governor {
	def := DefaultConfig()
	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = def.WindowLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.ThrottleDelay <= 0 {
		cfg.ThrottleDelay = def.ThrottleDelay
	}
	if cfg.HaltThreshold <= 0 {
		cfg.HaltThreshold = def.HaltThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.OnHalt == nil {
		cfg.OnHalt = func(int) { os.Exit(ExitQuotaExhausted) }
	}

	return &Governor{
		cfg:       cfg,
		logger:    cfg.Logger.Named("quota"),
		metrics:   cfg.Metrics,
		now:       time.Now,
		sleep:     sleepContext,
		remaining: -1,
	}
}

// Acquire blocks until the caller may dispatch one call, recording the
// dispatch in the trailing window. When the window is full the caller is
// suspended for ThrottleDelay and the check repeats until the window
// clears. Returns *HaltError without recording anything once the governor
// has halted, and the context error if the caller is cancelled while
// suspended.
func (g *Governor) Acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.state == StateHalted {
			remaining := g.remaining
			g.mu.Unlock()
			return &HaltError{Remaining: remaining}
		}

		now := g.now()
		g.prune(now)
		if len(g.calls) < g.cfg.WindowLimit {
			g.calls = append(g.calls, now)
			g.state = StateReady
			g.mu.Unlock()
			return nil
		}

		g.state = StateThrottled
		g.mu.Unlock()

		g.logger.Info("throttle engaged",
			"window_calls", g.cfg.WindowLimit,
			"delay", g.cfg.ThrottleDelay,
		)
		if g.metrics != nil {
			g.metrics.ThrottleEngaged()
		}

		if err := g.sleep(ctx, g.cfg.ThrottleDelay); err != nil {
			return err
		}
	}
}

// Suspend applies one throttle suspension without recording a dispatch.
// Used when the remote service itself reports the per-second rate was
// exceeded: the local window may disagree (other processes share the
// institutional limit), so the suspension is forced rather than derived
// from the window. Returns *HaltError once the governor has halted, and
// the context error if the caller is cancelled while suspended.
func (g *Governor) Suspend(ctx context.Context) error {
	g.mu.Lock()
	if g.state == StateHalted {
		remaining := g.remaining
		g.mu.Unlock()
		return &HaltError{Remaining: remaining}
	}
	g.state = StateThrottled
	g.mu.Unlock()

	g.logger.Info("throttle engaged by remote rate limit",
		"delay", g.cfg.ThrottleDelay,
	)
	if g.metrics != nil {
		g.metrics.ThrottleEngaged()
	}

	return g.sleep(ctx, g.cfg.ThrottleDelay)
}

// Observe feeds the remote-reported remaining call count back into the
// governor. The remote value is authoritative. Dropping under the halt
// threshold transitions the governor to Halted and invokes the configured
// halt handler; by default this terminates the process.
func (g *Governor) Observe(remaining int) {
	g.mu.Lock()
	g.remaining = remaining
	halt := remaining < g.cfg.HaltThreshold && !g.halted
	if halt {
		g.halted = true
		g.state = StateHalted
	}
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.QuotaRemaining(remaining)
	}

	if halt {
		g.logger.Error("quota halted: remaining calls under the floor",
			"remaining", remaining,
			"floor", g.cfg.HaltThreshold,
		)
		g.cfg.OnHalt(remaining)
	}
}

// State returns the current governor state.
func (g *Governor) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Remaining returns the last remote-reported remaining call count, or -1
// when no response has been observed yet.
func (g *Governor) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining
}

// prune drops window entries older than the trailing window. Callers must
// hold g.mu.
func (g *Governor) prune(now time.Time) {
	cutoff := now.Add(-g.cfg.Window)
	i := 0
	for i < len(g.calls) && !g.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.calls = append(g.calls[:0], g.calls[i:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
