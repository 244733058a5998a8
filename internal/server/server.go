// Package server exposes the engine over HTTP. Every route checks the
// caller against the capability table before calling a service.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abhisek/pathwise/internal/engine"
	"github.com/abhisek/pathwise/internal/logger"
)

// Server is the HTTP front of an Engine.
type Server struct {
	engine *engine.Engine
	log    *logger.Logger
	router *gin.Engine
}

// New builds the router. Gin runs in release mode unless debug is set.
func New(e *engine.Engine, log *logger.Logger, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{engine: e, log: logger.OrNop(log).With("component", "http")}

	r := gin.New()
	r.Use(Recovery(s.log), Identify(), RequestLogger(s.log), Metrics())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.POST("/students", s.enroll)

		st := api.Group("/students/:student")
		st.GET("/access/:content", s.canAccess)
		st.POST("/progress", s.updateProgress)
		st.POST("/progress/:content/reset", s.resetProgress)
		st.POST("/blocks", s.block)
		st.DELETE("/blocks/:content", s.unblock)
		st.GET("/courses/:course", s.courseOverview)

		st.GET("/profile", s.profile)
		st.GET("/gaps", s.gaps)
		st.POST("/attempts/:attempt/analyze", s.analyzeAttempt)

		st.POST("/assessments/personalized", s.personalized)
		st.GET("/assessments/:assessment", s.getAssessment)
		st.POST("/attempts", s.submitAttempt)

		st.POST("/interactions", s.recordInteractions)
		st.GET("/engagement", s.engagement)

		st.POST("/recommendations", s.recommend)

		st.POST("/roadmap", s.generateRoadmap)
		st.GET("/roadmap", s.getRoadmap)
		st.PATCH("/roadmap", s.setRoadmapStatus)

		api.POST("/assessments/initial", s.createInitial)
		api.POST("/assessments/author", s.authorQuestions)
		api.POST("/attempts/:attempt/regrade", s.regrade)
		api.POST("/recommendations/:recommendation/feedback", s.feedback)
		api.GET("/recommendations/:recommendation/explanation", s.explain)
		api.POST("/analysis", s.analyzeContent)
	}

	s.router = r
	return s
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) health(c *gin.Context) {
	respondOK(c, gin.H{"status": "ok", "catalog_version": s.engine.Graph.Version()})
}
