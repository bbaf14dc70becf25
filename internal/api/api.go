package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/denniswebb/natgate/internal/gateway"
	"github.com/denniswebb/natgate/internal/iptables"
	"github.com/denniswebb/natgate/internal/route"
)

// Gateway is the control surface the HTTP handlers drive.
type Gateway interface {
	Create(ctx context.Context, req gateway.CreateRequest) (gateway.CreateResult, error)
	Remove(ctx context.Context, req gateway.RemoveRequest) (gateway.RemoveResult, error)
	Routes() []route.Route
	Audit(ctx context.Context) ([]gateway.RouteAudit, error)
	Mode() iptables.Mode
}

type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

type Options struct {
	AccessLog bool
	Logger    *slog.Logger
	// Health and Metrics are mounted at /healthz and /metrics when set.
	Health  http.Handler
	Metrics http.Handler
}

// Register installs the control API routes on r.
func Register(r *gin.Engine, gw Gateway, opts *Options) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(gin.Recovery(), mwRequestID())
	if opts.AccessLog {
		r.Use(mwLogger(logger))
	}

	h := &handler{gw: gw, logger: logger}

	r.POST("/create", h.createRoute)
	r.POST("/remove", h.removeRoute)
	r.GET("/routes", h.getRouteList)
	r.GET("/audit", h.getAudit)

	if opts.Health != nil {
		r.GET("/healthz", gin.WrapH(opts.Health))
	}
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// NewHandler builds a gin engine serving the control API.
func NewHandler(gw Gateway, opts *Options) http.Handler {
	r := gin.New()
	Register(r, gw, opts)
	return r
}
