// Package controlplane implements the proxy's control RPC surface as an
// HTTP/JSON admin API: UpdateConfig, ReloadBackends, DrainConnections, and
// StreamMetrics, plus a Prometheus /metrics route.
//
// The controller contract is defined by these four semantic operations,
// not by a particular wire schema; HTTP/JSON over gin is the concrete
// transport here.
package controlplane

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nivisproxy/l4proxy/internal/config"
	"github.com/nivisproxy/l4proxy/internal/metrics"
	"github.com/nivisproxy/l4proxy/internal/state"
)

// Server is the control-plane HTTP server.
type Server struct {
	state  *state.State
	log    *zap.Logger
	engine *gin.Engine
	http   *http.Server
}

// New builds a control-plane server bound to addr (not yet listening).
func New(st *state.State, log *zap.Logger, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{state: st, log: log, engine: r}

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewPrometheusExporter(st.Metrics()))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	r.POST("/v1/config", s.handleUpdateConfig)
	r.POST("/v1/backends", s.handleReloadBackends)
	r.POST("/v1/drain", s.handleDrainConnections)
	r.GET("/v1/metrics/stream", s.handleStreamMetrics)

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// Addr returns the address the control plane is configured to bind.
func (s *Server) Addr() string { return s.http.Addr }

// ListenAndServe blocks serving the control plane until Shutdown is called.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the control-plane HTTP server.
func (s *Server) Shutdown() error {
	ctx, cancel := timeoutCtx(5 * time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// updateConfigRequest is the full config document the controller may push.
type updateConfigRequest = config.Config

type updateConfigResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.Warn("update_config: malformed request", zap.Error(err))
		c.JSON(http.StatusBadRequest, updateConfigResponse{Success: false, Message: err.Error()})
		return
	}
	config.ApplyDefaults(&req)
	if err := config.Validate(&req); err != nil {
		s.log.Warn("update_config: rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, updateConfigResponse{Success: false, Message: err.Error()})
		return
	}
	s.state.UpdateConfig(&req)
	s.log.Info("config applied", zap.Int("backends", len(req.Backends)))
	c.JSON(http.StatusOK, updateConfigResponse{Success: true, Message: "config applied"})
}

type reloadBackendsRequest struct {
	Backends []config.Backend `json:"backends"`
}

type reloadBackendsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

func (s *Server) handleReloadBackends(c *gin.Context) {
	if !s.state.IsConfigured() {
		c.JSON(http.StatusConflict, reloadBackendsResponse{Success: false, Message: "not configured"})
		return
	}
	var req reloadBackendsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, reloadBackendsResponse{Success: false, Message: err.Error()})
		return
	}
	cfg := s.state.GetConfig().WithBackends(req.Backends)
	s.state.UpdateConfig(cfg)
	c.JSON(http.StatusOK, reloadBackendsResponse{Success: true, Message: "backends reloaded", Count: len(req.Backends)})
}

type drainResponse struct {
	Success bool `json:"success"`
	Drained int  `json:"drained"`
}

func (s *Server) handleDrainConnections(c *gin.Context) {
	timeoutSeconds := queryFloat(c, "timeout_seconds", 30)
	activeBefore := s.state.ActiveConnectionCount()

	done := make(chan struct{})
	go func() {
		s.state.DrainConnections()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Duration(timeoutSeconds * float64(time.Second))):
	}

	activeAfter := s.state.ActiveConnectionCount()
	c.JSON(http.StatusOK, drainResponse{
		Success: activeAfter == 0,
		Drained: activeBefore - activeAfter,
	})
}

type metricSample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type metricAck struct {
	Received bool `json:"received"`
}

// handleStreamMetrics reads newline-delimited JSON samples from the
// request body and writes one newline-delimited JSON ack per sample —
// the chunked-HTTP analogue of a bidirectional-streaming RPC. No
// interpretation of the samples happens in this version.
func (s *Server) handleStreamMetrics(c *gin.Context) {
	decoder := newLineDecoder(c.Request.Body)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	for {
		var sample metricSample
		ok, err := decoder.next(&sample)
		if err != nil {
			s.log.Warn("metrics stream: decode failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		if err := writeJSONLine(c.Writer, metricAck{Received: true}); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

func queryFloat(c *gin.Context, key string, def float64) float64 {
	v := c.Query(key)
	if v == "" {
		return def
	}
	f, err := parseFloat(v)
	if err != nil {
		return def
	}
	return f
}
