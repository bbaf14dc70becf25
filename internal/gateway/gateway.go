package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/asaskevich/govalidator"

	"github.com/denniswebb/natgate/internal/discovery"
	"github.com/denniswebb/natgate/internal/iptables"
	"github.com/denniswebb/natgate/internal/metrics"
	"github.com/denniswebb/natgate/internal/route"
)

var (
	// ErrRouteNotFound is returned by Remove when no route owns the public endpoint.
	ErrRouteNotFound = errors.New("route not found")
	// ErrInvalidRequest wraps every request validation failure.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAuditUnavailable is returned by Audit when rules are never applied.
	ErrAuditUnavailable = errors.New("audit requires live mode")
)

// DefaultProtocol is used when a create request leaves the protocol empty.
const DefaultProtocol = "tcp"

// BatchRunner executes an ordered batch of firewall mutations.
type BatchRunner interface {
	Run(ctx context.Context, mutations []iptables.Mutation) iptables.BatchResult
	Mode() iptables.Mode
}

// Resolver turns a Kubernetes Service reference into a concrete target.
type Resolver interface {
	Resolve(ctx context.Context, name string, port uint16, protocol string) (discovery.Target, error)
}

// Config holds the dependencies and settings for a Gateway.
type Config struct {
	PublicIP         string
	Registry         *route.Registry
	Runner           BatchRunner
	Executor         iptables.Executor
	Resolver         Resolver
	AllowedProtocols []string
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
}

// CreateRequest describes a forwarding route to add.
type CreateRequest struct {
	PublicPort   uint16
	InnerPort    uint16
	InnerIP      string
	InnerService string
	Protocol     string
}

// RemoveRequest identifies the route to delete by its public port.
type RemoveRequest struct {
	PublicPort uint16
}

// CreateResult reports what a create request changed.
type CreateResult struct {
	Route     route.Route
	Evicted   *route.Route
	Uninstall iptables.BatchResult
	Install   iptables.BatchResult
}

// RemoveResult reports what a remove request changed.
type RemoveResult struct {
	Route     route.Route
	Uninstall iptables.BatchResult
}

// RouteAudit compares one registered route against the live firewall.
type RouteAudit struct {
	Route route.Route
	Rules []iptables.RuleState
	Err   error
}

// InSync reports whether every rule of the route is present.
func (a RouteAudit) InSync() bool {
	if a.Err != nil {
		return false
	}
	for _, rule := range a.Rules {
		if !rule.Present {
			return false
		}
	}
	return true
}

// Gateway applies create and remove requests to the registry and firewall.
// Registry updates are serialized; firewall batches of concurrent requests are
// not, so under racing requests for the same public port the live rules can
// drift from the registry. Audit reports such drift.
type Gateway struct {
	publicIP  string
	registry  *route.Registry
	runner    BatchRunner
	executor  iptables.Executor
	resolver  Resolver
	protocols map[string]struct{}
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New validates the configuration and returns a Gateway.
func New(cfg Config) (*Gateway, error) {
	if !govalidator.IsIPv4(cfg.PublicIP) {
		return nil, fmt.Errorf("public IP %q must be an IPv4 address", cfg.PublicIP)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("route registry is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("batch runner is required")
	}
	if cfg.Runner.Mode() == iptables.Live && cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required in live mode")
	}

	protocols := make(map[string]struct{}, len(cfg.AllowedProtocols))
	for _, p := range cfg.AllowedProtocols {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			protocols[p] = struct{}{}
		}
	}
	if len(protocols) == 0 {
		protocols[DefaultProtocol] = struct{}{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		publicIP:  cfg.PublicIP,
		registry:  cfg.Registry,
		runner:    cfg.Runner,
		executor:  cfg.Executor,
		resolver:  cfg.Resolver,
		protocols: protocols,
		metrics:   cfg.Metrics,
		logger:    logger,
	}, nil
}

// PublicIP returns the address every route's public endpoint uses.
func (g *Gateway) PublicIP() string {
	return g.publicIP
}

// Mode reports whether mutations are applied or only rendered.
func (g *Gateway) Mode() iptables.Mode {
	return g.runner.Mode()
}

// Create registers a route for the request. A route already holding the same
// public endpoint is evicted and its rules removed before the new rules are
// installed. Mutation failures are reported in the result, never as an error.
func (g *Gateway) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	protocol, err := g.validateCreate(req)
	if err != nil {
		return CreateResult{}, err
	}

	dest, err := g.destination(ctx, req, protocol)
	if err != nil {
		return CreateResult{}, err
	}

	r := route.New(route.Endpoint{IP: g.publicIP, Port: req.PublicPort}, dest, protocol)
	logger := g.logger.With(
		slog.String("public", r.Public().String()),
		slog.String("destination", r.Destination().String()),
		slog.String("protocol", protocol),
	)

	evicted, replaced := g.registry.Add(r)
	g.recordRouteCount()

	result := CreateResult{Route: r}
	if replaced {
		logger.Warn("route already exists, replacing existing route",
			slog.String("evicted_destination", evicted.Destination().String()),
			slog.String("evicted_protocol", evicted.Protocol()),
		)
		if g.metrics != nil {
			g.metrics.IncrementEvictions()
		}
		result.Evicted = &evicted
		result.Uninstall = g.apply(ctx, logger, iptables.Uninstall(evicted))
	}

	result.Install = g.apply(ctx, logger, iptables.Install(r))

	logger.Info("created route",
		slog.Bool("replaced", replaced),
		slog.Int("failed_mutations", result.Uninstall.Failures()+result.Install.Failures()),
		slog.String("mode", g.runner.Mode().String()),
	)

	return result, nil
}

// Remove deletes the route at the configured public IP and requested port and
// tears down its rules. ErrRouteNotFound is returned, with no commands issued,
// when nothing is registered there.
func (g *Gateway) Remove(ctx context.Context, req RemoveRequest) (RemoveResult, error) {
	if req.PublicPort == 0 {
		return RemoveResult{}, fmt.Errorf("%w: public_port must be between 1 and 65535", ErrInvalidRequest)
	}

	public := route.Endpoint{IP: g.publicIP, Port: req.PublicPort}
	removed, ok := g.registry.Remove(public)
	if !ok {
		g.logger.Error("tried to remove non existing route", slog.String("public", public.String()))
		if g.metrics != nil {
			g.metrics.IncrementError("not_found")
		}
		return RemoveResult{}, fmt.Errorf("%w: %s", ErrRouteNotFound, public)
	}
	g.recordRouteCount()

	logger := g.logger.With(
		slog.String("public", removed.Public().String()),
		slog.String("destination", removed.Destination().String()),
		slog.String("protocol", removed.Protocol()),
	)

	result := RemoveResult{
		Route:     removed,
		Uninstall: g.apply(ctx, logger, iptables.Uninstall(removed)),
	}

	logger.Info("removed route",
		slog.Int("failed_mutations", result.Uninstall.Failures()),
		slog.String("mode", g.runner.Mode().String()),
	)

	return result, nil
}

// Routes returns a snapshot of the registered routes.
func (g *Gateway) Routes() []route.Route {
	return g.registry.List()
}

// Audit checks every registered route's install rules against the live
// firewall. A check failure is recorded on that route and does not stop the
// audit of the others.
func (g *Gateway) Audit(ctx context.Context) ([]RouteAudit, error) {
	if g.runner.Mode() != iptables.Live {
		return nil, ErrAuditUnavailable
	}

	routes := g.registry.List()
	audits := make([]RouteAudit, 0, len(routes))
	for _, r := range routes {
		if err := ctx.Err(); err != nil {
			return audits, err
		}

		states, err := iptables.CheckRules(ctx, g.executor, iptables.Install(r))
		audit := RouteAudit{Route: r, Rules: states, Err: err}
		if err != nil {
			g.logger.Warn("route audit failed", slog.String("public", r.Public().String()), slog.Any("error", err))
			if g.metrics != nil {
				g.metrics.IncrementError("audit")
			}
		} else if !audit.InSync() {
			g.logger.Warn("route rules drifted from registry", slog.String("public", r.Public().String()))
		}
		audits = append(audits, audit)
	}

	return audits, nil
}

func (g *Gateway) validateCreate(req CreateRequest) (string, error) {
	if req.PublicPort == 0 {
		return "", fmt.Errorf("%w: public_port must be between 1 and 65535", ErrInvalidRequest)
	}

	protocol := strings.ToLower(strings.TrimSpace(req.Protocol))
	if protocol == "" {
		protocol = DefaultProtocol
	}
	if _, ok := g.protocols[protocol]; !ok {
		return "", fmt.Errorf("%w: protocol %q is not allowed", ErrInvalidRequest, req.Protocol)
	}

	innerIP := strings.TrimSpace(req.InnerIP)
	service := strings.TrimSpace(req.InnerService)
	switch {
	case innerIP != "" && service != "":
		return "", fmt.Errorf("%w: inner_ip and inner_service are mutually exclusive", ErrInvalidRequest)
	case service != "":
		if g.resolver == nil {
			return "", fmt.Errorf("%w: inner_service requires kubernetes service resolution to be enabled", ErrInvalidRequest)
		}
	case innerIP == "":
		return "", fmt.Errorf("%w: inner_ip is required", ErrInvalidRequest)
	case !govalidator.IsIPv4(innerIP):
		return "", fmt.Errorf("%w: inner_ip %q must be an IPv4 address", ErrInvalidRequest, req.InnerIP)
	case req.InnerPort == 0:
		return "", fmt.Errorf("%w: inner_port must be between 1 and 65535", ErrInvalidRequest)
	}

	return protocol, nil
}

func (g *Gateway) destination(ctx context.Context, req CreateRequest, protocol string) (route.Endpoint, error) {
	service := strings.TrimSpace(req.InnerService)
	if service == "" {
		return route.Endpoint{IP: strings.TrimSpace(req.InnerIP), Port: req.InnerPort}, nil
	}

	target, err := g.resolver.Resolve(ctx, service, req.InnerPort, protocol)
	if err != nil {
		if errors.Is(err, discovery.ErrServiceNotFound) || errors.Is(err, discovery.ErrNoClusterIP) || errors.Is(err, discovery.ErrPortNotExposed) {
			return route.Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if g.metrics != nil {
			g.metrics.IncrementError("service_resolve")
		}
		return route.Endpoint{}, fmt.Errorf("resolve inner service %q: %w", service, err)
	}
	if !govalidator.IsIPv4(target.ClusterIP) {
		return route.Endpoint{}, fmt.Errorf("%w: service %q resolved to non-IPv4 address %s", ErrInvalidRequest, service, target.ClusterIP)
	}

	return route.Endpoint{IP: target.ClusterIP, Port: uint16(target.Port)}, nil
}

func (g *Gateway) apply(ctx context.Context, logger *slog.Logger, mutations []iptables.Mutation) iptables.BatchResult {
	result := g.runner.Run(ctx, mutations)

	if g.metrics != nil {
		for _, o := range result.Outcomes {
			g.metrics.ObserveMutation(o.Mutation.Action.Label(), outcomeLabel(result.Mode, o))
			if o.Failed() {
				g.metrics.IncrementError("iptables")
			}
		}
	}

	if err := result.Err(); err != nil {
		logger.Warn("firewall batch completed with failures",
			slog.Int("failed", result.Failures()),
			slog.Int("total", len(result.Outcomes)),
			slog.Any("error", err),
		)
	}

	return result
}

func (g *Gateway) recordRouteCount() {
	if g.metrics != nil {
		g.metrics.SetRoutesActive(g.registry.Len())
	}
}

func outcomeLabel(mode iptables.Mode, o iptables.Outcome) string {
	switch {
	case mode == iptables.DryRun:
		return metrics.ResultRendered
	case o.Failed():
		return metrics.ResultFailed
	case !o.Attempted:
		return metrics.ResultSkipped
	default:
		return metrics.ResultApplied
	}
}
