// Package httpapi exposes the Command Handler over HTTP using gin, mirroring
// the teacher's embeddable-router shape but narrowed to the four supervisor
// verbs (status/start/stop/reload) plus a Prometheus scrape endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kael-dev/sentryd/internal/metrics"
	"github.com/kael-dev/sentryd/internal/supervisor"
)

// Router provides an embeddable http.Handler fronting a
// *supervisor.Handler. basePath may be empty or start with "/"; no
// trailing slash.
type Router struct {
	h        *supervisor.Handler
	basePath string
}

func NewRouter(h *supervisor.Handler, basePath string) *Router {
	return &Router{h: h, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
//
//	GET  {basePath}/status         query: name=... (single) or omitted (all)
//	POST {basePath}/start          query: name=...
//	POST {basePath}/stop           query: name=...&wait=1s
//	POST {basePath}/reload
//	GET  {basePath}/metrics        Prometheus exposition
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/reload", r.handleReload)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, h *supervisor.Handler) (*http.Server, error) {
	r := NewRouter(h, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	case <-time.After(100 * time.Millisecond):
	}
	return srv, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, r.h.Status())
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return
	}
	st, err := r.h.StatusOne(name)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Query("name")
	if name == "" || !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "valid name query param required"})
		return
	}
	if err := r.h.Start(name); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, supervisor.ErrUnknownProgram) {
			status = http.StatusNotFound
		}
		writeJSON(c, status, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	if name == "" || !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "valid name query param required"})
		return
	}
	wait := 2 * time.Second
	if ws := c.Query("wait"); ws != "" {
		if d, err := time.ParseDuration(ws); err == nil {
			wait = d
		}
	}
	if err := r.h.Stop(name, wait); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, supervisor.ErrUnknownProgram) {
			status = http.StatusNotFound
		}
		writeJSON(c, status, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleReload(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := r.h.Reload(ctx); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// isSafeName validates program names to avoid path traversal when they are
// later used in filenames (log paths, pid files).
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") || strings.ContainsAny(s, "/\\") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
