package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/faultgate/internal/failure"
	"github.com/loykin/faultgate/internal/health"
	"github.com/loykin/faultgate/internal/metrics"
	"github.com/loykin/faultgate/internal/supervisor"
	"github.com/loykin/faultgate/internal/timeout"
)

// Router provides embeddable HTTP handlers over a running supervisor.
// Endpoints:
//
//	GET  {basePath}/status          condensed supervisor stats
//	GET  {basePath}/stats?window=24h per-category database statistics
//	POST {basePath}/check           pre-flight: eligibility + timeout
//	GET  {basePath}/failures        failure taxonomy with hints
//	GET  {basePath}/healthz         health snapshot (503 when unhealthy)
//	GET  /metrics                   Prometheus metrics (outside basePath)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/api" results in /api/status, /api/check, ...
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/stats", r.handleStats)
	group.POST("/check", r.handleCheck)
	group.GET("/failures", r.handleFailures)
	group.GET("/healthz", r.handleHealthz)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) (*http.Server, error) {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.GetStats())
}

func (r *Router) handleStats(c *gin.Context) {
	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "invalid window: " + raw})
			return
		}
		window = d
	}
	stats, err := r.sup.GetDatabaseStats(c.Request.Context(), window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type checkRequest struct {
	Category string `json:"category"`
	Override string `json:"override,omitempty"` // duration string
}

type checkResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Timeout int64  `json:"timeout_ms,omitempty"`
	Rules   string `json:"rules,omitempty"`
}

// handleCheck is the dispatch layer's pre-flight call: eligibility plus
// the computed deadline in one round trip. A disallowed response must
// short-circuit before any external call is attempted.
func (r *Router) handleCheck(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	cat := timeout.Category(req.Category)
	if !cat.Valid() {
		c.JSON(http.StatusBadRequest, errorResp{Error: "unknown category: " + req.Category})
		return
	}
	var override time.Duration
	if req.Override != "" {
		d, err := time.ParseDuration(req.Override)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "invalid override: " + req.Override})
			return
		}
		override = d
	}
	decision := r.sup.CanExecute()
	resp := checkResponse{Allowed: decision.Allowed, Reason: decision.Reason}
	if decision.Allowed {
		td := r.sup.GetTimeout(cat, override)
		resp.Timeout = td.Timeout.Milliseconds()
		resp.Rules = td.Reason
	}
	c.JSON(http.StatusOK, resp)
}

type failureEntry struct {
	Kind      failure.Kind `json:"kind"`
	Retryable bool         `json:"retryable"`
	Hint      string       `json:"hint"`
}

func (r *Router) handleFailures(c *gin.Context) {
	out := make([]failureEntry, 0, len(failure.Kinds()))
	for _, k := range failure.Kinds() {
		out = append(out, failureEntry{Kind: k, Retryable: k.Retryable(), Hint: k.Hint()})
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleHealthz(c *gin.Context) {
	snap := r.sup.Health()
	code := http.StatusOK
	if snap.Status == health.Unhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, snap)
}
