package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/denniswebb/natgate/internal/gateway"
)

// Source produces one audit of every registered route.
type Source interface {
	Audit(ctx context.Context) ([]gateway.RouteAudit, error)
}

// DriftRecorder receives the number of drifted routes after every pass.
type DriftRecorder interface {
	SetRoutesDrifted(count int)
}

// Observer receives the drifted public endpoints of every pass together with
// the route check failures of that pass. A pass that could not run at all is
// reported with nil drifted endpoints.
type Observer interface {
	ObserveAudit(drifted []string, err error)
}

// PollerConfig holds the dependencies and settings for the Poller.
type PollerConfig struct {
	Source   Source
	Interval time.Duration
	Recorder DriftRecorder
	Observer Observer
	Logger   *slog.Logger
}

// Poller periodically audits the live firewall and reports routes whose rules
// have drifted from the registry.
type Poller struct {
	cfg      PollerConfig
	logger   *slog.Logger
	mu       sync.RWMutex
	drifted  map[string]struct{}
	observed bool
}

// NewPoller validates the configuration and returns a Poller ready to run.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("audit source is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("audit interval must be positive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		cfg:     cfg,
		logger:  logger,
		drifted: map[string]struct{}{},
	}, nil
}

// Run executes the audit loop until the context is canceled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("starting drift audit", slog.String("interval", p.cfg.Interval.String()))

	ticker := time.NewTicker(p.cfg.Interval)
	defer func() {
		ticker.Stop()
		p.logger.Info("stopping drift audit")
	}()

	p.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// Drifted returns the public endpoints found out of sync by the last pass, sorted.
func (p *Poller) Drifted() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.drifted))
	for ep := range p.drifted {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

func (p *Poller) pollOnce(ctx context.Context) {
	audits, err := p.cfg.Source.Audit(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("drift audit failed", slog.Any("error", err))
		if p.cfg.Observer != nil {
			p.cfg.Observer.ObserveAudit(nil, err)
		}
		return
	}

	current := make(map[string]struct{})
	var routeErrs error
	for _, a := range audits {
		if !a.InSync() {
			current[a.Route.Public().String()] = struct{}{}
		}
		if a.Err != nil {
			routeErrs = multierr.Append(routeErrs, a.Err)
		}
	}

	p.mu.Lock()
	previous := p.drifted
	firstObservation := !p.observed
	p.drifted = current
	p.observed = true
	p.mu.Unlock()

	if p.cfg.Recorder != nil {
		p.cfg.Recorder.SetRoutesDrifted(len(current))
	}
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObserveAudit(p.Drifted(), routeErrs)
	}

	for ep := range current {
		if _, seen := previous[ep]; !seen {
			p.logger.Warn("route drift detected", slog.String("public", ep))
		}
	}
	for ep := range previous {
		if _, still := current[ep]; !still {
			p.logger.Info("route back in sync", slog.String("public", ep))
		}
	}

	if firstObservation {
		p.logger.Debug("initialized drift state",
			slog.Int("routes", len(audits)),
			slog.Int("drifted", len(current)),
		)
	}
}
