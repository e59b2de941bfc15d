//
//  Copyright © CWMS Data Project. All rights reserved.
//

// Package generic implements the REST enforcement point: a transparent
// reverse proxy for /cwms-data/* guarded by the authorization pipeline,
// plus a direct authorization endpoint, health/readiness probes, and the
// metrics exposition endpoint.
package generic

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwms-data/authorizer/internal/logging"
	"github.com/cwms-data/authorizer/internal/metrics"
	"github.com/cwms-data/authorizer/pkg/authorizer/pipeline"
	"github.com/cwms-data/authorizer/pkg/authorizer/types"
	"github.com/cwms-data/authorizer/pkg/enforcementpoint"
)

var logger = logging.GetLogger("enforcementpoint.generic")

const agent string = "generic"

const probeTimeout = 5 * time.Second

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Server is the REST enforcement point.
type Server struct {
	echo     *echo.Echo
	pipeline *pipeline.Pipeline
	gate     *pipeline.Gate
	upstream *url.URL
	probe    *http.Client
}

func newServer(p *pipeline.Pipeline, gate *pipeline.Gate, upstream string) (*Server, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing upstream url %q", upstream)
	}

	s := &Server{
		pipeline: p,
		gate:     gate,
		upstream: target,
		probe:    &http.Client{Timeout: probeTimeout},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/health", s.health)
	e.GET("/ready", s.ready)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	e.POST("/authorize", s.authorize)

	e.Group("/cwms-data", s.enforce, middleware.ProxyWithConfig(middleware.ProxyConfig{
		Balancer: middleware.NewRoundRobinBalancer([]*middleware.ProxyTarget{{URL: target}}),
		Rewrite:  map[string]string{"/cwms-data/*": "/$1"},
		ErrorHandler: func(c echo.Context, err error) error {
			logger.Errorf(agent, "proxy", "upstream error for %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
			return c.JSON(http.StatusBadGateway, errorBody{
				Error:   "Bad Gateway",
				Message: "Unable to reach downstream service",
			})
		},
	}))

	// Anything outside /cwms-data is not ours to serve.
	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, errorBody{
			Error:   "Not Found",
			Message: "This proxy only handles /cwms-data/* routes",
		})
	})

	s.echo = e
	return s, nil
}

// CreateServer creates and starts a new REST enforcement point listening
// on the given address, proxying to the given upstream base URL.
func CreateServer(p *pipeline.Pipeline, gate *pipeline.Gate, listen, upstream string) (enforcementpoint.Server, error) {
	s, err := newServer(p, gate, upstream)
	if err != nil {
		return nil, err
	}

	// Start server in goroutine since e.Start() blocks
	go func() {
		logger.Infof(agent, "start", "starting enforcement point on %s, proxying to %s", listen, upstream)
		if err := s.echo.Start(listen); err != nil && err != http.ErrServerClosed {
			logger.Fatalf(agent, "start", "failed to start server: %v", err)
		}
	}()

	return s, nil
}

// Stop gracefully stops the Server by shutting down the Echo HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// enforce is the authorization pre-middleware guarding the proxy. Paths
// outside the whitelist pass through untouched.
func (s *Server) enforce(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		if !s.gate.RequiresEnforcement(req.URL.Path) {
			logger.Debugf(agent, "enforce", "%s %s not in whitelist, bypassing authorization", req.Method, req.URL.Path)
			return next(c)
		}

		out := s.pipeline.Authorize(req.Context(), pipeline.Request{
			Method:       req.Method,
			Path:         req.URL.Path,
			Query:        flattenQuery(req.URL.Query()),
			Bearer:       req.Header.Get(echo.HeaderAuthorization),
			TestIdentity: req.Header.Get(pipeline.HeaderTestUser),
		})
		if out.Failure != nil {
			return c.JSON(out.Failure.Status, errorBody{Error: out.Failure.Code, Message: out.Failure.Message})
		}

		req.Header.Set(pipeline.HeaderAuthContext, out.Header)
		return next(c)
	}
}

// authorize is the direct authorization endpoint: a decision without a
// proxied request behind it.
func (s *Server) authorize(c echo.Context) error {
	var req types.AuthorizeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Bad Request", Message: "malformed request body"})
	}

	if req.Resource == "" || req.Action == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Bad Request", Message: "resource and action are required"})
	}
	if !pipeline.ValidAction(req.Action) {
		return c.JSON(http.StatusBadRequest, errorBody{
			Error:   "Bad Request",
			Message: "action must be one of read, create, update, delete",
		})
	}

	resp, herr := s.pipeline.Direct(c.Request().Context(), req)
	if herr != nil {
		return c.JSON(herr.Status, errorBody{Error: herr.Code, Message: herr.Message})
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "authorizer-proxy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ready probes the upstream data API so orchestrators only route traffic
// once the proxy can actually forward it.
func (s *Server) ready(c echo.Context) error {
	status := "ready"
	downstream := "available"

	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodHead, s.upstream.String()+"/", nil)
	if err != nil {
		status = "not-ready"
		downstream = "unavailable"
	} else if resp, perr := s.probe.Do(req); perr != nil {
		status = "not-ready"
		downstream = "unavailable"
	} else {
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			downstream = "unavailable"
		}
	}

	// The cache state is informational: resolution degrades to misses
	// when the store is down, so it never gates readiness.
	cacheState := "available"
	if !s.pipeline.CacheHealthy(c.Request().Context()) {
		cacheState = "degraded"
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     status,
		"downstream": downstream,
		"cache":      cacheState,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func flattenQuery(values url.Values) map[string]string {
	query := make(map[string]string, len(values))
	for key := range values {
		query[key] = values.Get(key)
	}
	return query
}
