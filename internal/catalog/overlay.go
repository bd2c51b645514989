package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshTTL is how long a switch snapshot is trusted.
	DefaultRefreshTTL = 30 * time.Second
	// DefaultRefreshTimeout bounds one call to the switch source.
	DefaultRefreshTimeout = 10 * time.Second
)

// Switch is one externally managed enable/disable flag.
type Switch struct {
	CommandCode string
	Enabled     bool
	UpdatedAt   time.Time
	UpdatedBy   string
	Note        string
}

// SwitchSource lists the current feature switches.
type SwitchSource interface {
	ListSwitches(ctx context.Context) ([]Switch, error)
}

// SwitchSourceFunc adapts a function to SwitchSource.
type SwitchSourceFunc func(ctx context.Context) ([]Switch, error)

// ListSwitches calls f.
func (f SwitchSourceFunc) ListSwitches(ctx context.Context) ([]Switch, error) { return f(ctx) }

type snapshot struct {
	enabled map[string]bool
}

// Overlay caches the switch source on a TTL. A failed refresh keeps the
// previous snapshot and still pushes the next refresh deadline forward.
type Overlay struct {
	source  SwitchSource
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger

	snap atomic.Pointer[snapshot]

	mu          sync.Mutex
	nextRefresh time.Time

	group singleflight.Group
}

// OverlayOpts holds parameters for creating an Overlay.
type OverlayOpts struct {
	Source  SwitchSource
	TTL     time.Duration    // defaults to DefaultRefreshTTL
	Timeout time.Duration    // per refresh; defaults to DefaultRefreshTimeout
	Clock   func() time.Time // defaults to time.Now
	Logger  *zap.Logger
}

// NewOverlay creates an Overlay. A nil Source yields an overlay that
// reports every command enabled.
func NewOverlay(opts OverlayOpts) *Overlay {
	o := &Overlay{
		source:  opts.Source,
		ttl:     opts.TTL,
		timeout: opts.Timeout,
		now:     opts.Clock,
		logger:  opts.Logger,
	}
	if o.ttl <= 0 {
		o.ttl = DefaultRefreshTTL
	}
	if o.timeout <= 0 {
		o.timeout = DefaultRefreshTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.snap.Store(&snapshot{enabled: map[string]bool{}})
	return o
}

// IsEnabled reports whether code is enabled. Codes the snapshot has no
// entry for are enabled.
func (o *Overlay) IsEnabled(ctx context.Context, code string) bool {
	o.maybeRefresh(ctx)
	enabled, ok := o.snap.Load().enabled[code]
	if !ok {
		return true
	}
	return enabled
}

// Snapshot returns a copy of the current switch states.
func (o *Overlay) Snapshot(ctx context.Context) map[string]bool {
	o.maybeRefresh(ctx)
	cur := o.snap.Load().enabled
	out := make(map[string]bool, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}

// Invalidate forces the next read to refresh.
func (o *Overlay) Invalidate() {
	o.mu.Lock()
	o.nextRefresh = time.Time{}
	o.mu.Unlock()
}

func (o *Overlay) maybeRefresh(ctx context.Context) {
	if o.source == nil {
		return
	}
	now := o.now()
	o.mu.Lock()
	due := !now.Before(o.nextRefresh)
	if due {
		o.nextRefresh = now.Add(o.ttl)
	}
	o.mu.Unlock()
	if !due {
		return
	}

	o.group.Do("refresh", func() (interface{}, error) {
		o.refresh(ctx)
		return nil, nil
	})
}

// refresh runs detached from the caller's cancellation, since other readers
// share its result, but keeps the caller's deadline when that is sooner
// than the refresh timeout.
func (o *Overlay) refresh(ctx context.Context) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()
	if d, ok := ctx.Deadline(); ok {
		var cancelCaller context.CancelFunc
		rctx, cancelCaller = context.WithDeadline(rctx, d)
		defer cancelCaller()
	}

	switches, err := o.source.ListSwitches(rctx)
	if err != nil {
		o.logger.Warn("catalog: switch refresh failed, keeping previous snapshot", zap.Error(err))
		return
	}
	next := &snapshot{enabled: make(map[string]bool, len(switches))}
	for _, s := range switches {
		next.enabled[s.CommandCode] = s.Enabled
	}
	o.snap.Store(next)
	o.logger.Debug("catalog: switch snapshot refreshed", zap.Int("switches", len(switches)))
}
