package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/denniswebb/natgate/internal/gateway"
	"github.com/denniswebb/natgate/internal/iptables"
	"github.com/denniswebb/natgate/internal/route"
)

type handler struct {
	gw     Gateway
	logger *slog.Logger
}

type createRouteRequest struct {
	PublicPort   uint16 `json:"public_port"`
	InnerPort    uint16 `json:"inner_port"`
	InnerIP      string `json:"inner_ip"`
	InnerService string `json:"inner_service"`
	Protocol     string `json:"protocol"`
}

type removeRouteRequest struct {
	PublicPort uint16 `json:"public_port"`
}

type routeView struct {
	PublicIP   string `json:"public_ip"`
	PublicPort uint16 `json:"public_port"`
	InnerIP    string `json:"inner_ip"`
	InnerPort  uint16 `json:"inner_port"`
	Protocol   string `json:"protocol"`
}

type outcomeView struct {
	Program   string `json:"program"`
	Args      string `json:"args"`
	Attempted bool   `json:"attempted"`
	Error     string `json:"error,omitempty"`
}

type createRouteResponse struct {
	Route     routeView     `json:"route"`
	Replaced  *routeView    `json:"replaced,omitempty"`
	Mode      string        `json:"mode"`
	Uninstall []outcomeView `json:"uninstall,omitempty"`
	Install   []outcomeView `json:"install"`
}

type removeRouteResponse struct {
	Route     routeView     `json:"route"`
	Mode      string        `json:"mode"`
	Uninstall []outcomeView `json:"uninstall"`
}

type routeList struct {
	Count int         `json:"count"`
	List  []routeView `json:"list"`
}

type ruleView struct {
	Args    string `json:"args"`
	Present bool   `json:"present"`
}

type routeAuditView struct {
	Route  routeView  `json:"route"`
	InSync bool       `json:"in_sync"`
	Rules  []ruleView `json:"rules,omitempty"`
	Error  string     `json:"error,omitempty"`
}

type auditReport struct {
	Count   int              `json:"count"`
	Drifted int              `json:"drifted"`
	List    []routeAuditView `json:"list"`
}

func (h *handler) createRoute(ctx *gin.Context) {
	var req createRouteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		requestLogger(ctx, h.logger).Debug("rejected create request", slog.Any("error", err))
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeInvalid, err.Error()))
		return
	}

	result, err := h.gw.Create(ctx.Request.Context(), gateway.CreateRequest{
		PublicPort:   req.PublicPort,
		InnerPort:    req.InnerPort,
		InnerIP:      req.InnerIP,
		InnerService: req.InnerService,
		Protocol:     req.Protocol,
	})
	if err != nil {
		requestLogger(ctx, h.logger).Debug("create request failed", slog.Any("error", err))
		writeError(ctx, fromGatewayError(err))
		return
	}

	resp := createRouteResponse{
		Route:     newRouteView(result.Route),
		Mode:      result.Install.Mode.String(),
		Uninstall: newOutcomeViews(result.Uninstall),
		Install:   newOutcomeViews(result.Install),
	}
	if result.Evicted != nil {
		replaced := newRouteView(*result.Evicted)
		resp.Replaced = &replaced
	}

	ctx.JSON(http.StatusOK, Response{Data: resp})
}

func (h *handler) removeRoute(ctx *gin.Context) {
	var req removeRouteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		requestLogger(ctx, h.logger).Debug("rejected remove request", slog.Any("error", err))
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeInvalid, err.Error()))
		return
	}

	result, err := h.gw.Remove(ctx.Request.Context(), gateway.RemoveRequest{PublicPort: req.PublicPort})
	if err != nil {
		writeError(ctx, fromGatewayError(err))
		return
	}

	ctx.JSON(http.StatusOK, Response{Data: removeRouteResponse{
		Route:     newRouteView(result.Route),
		Mode:      result.Uninstall.Mode.String(),
		Uninstall: newOutcomeViews(result.Uninstall),
	}})
}

func (h *handler) getRouteList(ctx *gin.Context) {
	routes := h.gw.Routes()

	list := routeList{
		Count: len(routes),
		List:  make([]routeView, 0, len(routes)),
	}
	for _, r := range routes {
		list.List = append(list.List, newRouteView(r))
	}

	ctx.JSON(http.StatusOK, Response{Data: list})
}

func (h *handler) getAudit(ctx *gin.Context) {
	audits, err := h.gw.Audit(ctx.Request.Context())
	if err != nil {
		writeError(ctx, fromGatewayError(err))
		return
	}

	report := auditReport{
		Count: len(audits),
		List:  make([]routeAuditView, 0, len(audits)),
	}
	for _, a := range audits {
		view := routeAuditView{
			Route:  newRouteView(a.Route),
			InSync: a.InSync(),
		}
		for _, rule := range a.Rules {
			view.Rules = append(view.Rules, ruleView{Args: rule.Mutation.WithAction(iptables.Check).String(), Present: rule.Present})
		}
		if a.Err != nil {
			view.Error = a.Err.Error()
		}
		if !view.InSync {
			report.Drifted++
		}
		report.List = append(report.List, view)
	}

	ctx.JSON(http.StatusOK, Response{Data: report})
}

func newRouteView(r route.Route) routeView {
	return routeView{
		PublicIP:   r.Public().IP,
		PublicPort: r.Public().Port,
		InnerIP:    r.Destination().IP,
		InnerPort:  r.Destination().Port,
		Protocol:   r.Protocol(),
	}
}

func newOutcomeViews(result iptables.BatchResult) []outcomeView {
	if len(result.Outcomes) == 0 {
		return nil
	}
	views := make([]outcomeView, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		view := outcomeView{
			Program:   o.Program,
			Args:      o.Command,
			Attempted: o.Attempted,
		}
		if o.Err != nil {
			view.Error = o.Err.Error()
		}
		views = append(views, view)
	}
	return views
}
