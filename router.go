package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/choraleia/helpdesk/pkg/event"
	"github.com/choraleia/helpdesk/pkg/handler"
	"github.com/choraleia/helpdesk/pkg/models"
	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/gin-gonic/gin"
)

type Server struct {
	ginEngine *gin.Engine
	app       *App
	logger    *slog.Logger
	host      string
	port      int
}

func NewServer(app *App) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow common localhost origins for dashboards under development.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			if strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1") {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		app:       app,
		logger:    utils.GetLogger(),
		host:      app.cfg.Host(),
		port:      app.cfg.Port(),
	}

	server.SetupRoutes()

	return server
}

func (s *Server) Start(ctx context.Context) error {
	// HELPDESK_PORT overrides the configured port
	if v := os.Getenv("HELPDESK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			s.port = p
		} else {
			s.logger.Warn("Invalid HELPDESK_PORT value, using configured port", "value", v, "port", s.port)
		}
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	srv := &http.Server{Addr: addr, Handler: s.ginEngine, ReadHeaderTimeout: 10 * time.Second}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	// Record the actual port (useful with port 0).
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Listen for context cancellation for graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	// Non-blocking: if startup fails immediately return error; otherwise return nil to let main continue
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) SetupRoutes() {
	app := s.app

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	// Runtime info for clients discovering base URLs
	apiGroup.GET("/runtime", func(c *gin.Context) {
		c.JSON(http.StatusOK, models.RuntimeInfo{
			HTTPBaseURL: fmt.Sprintf("http://%s", net.JoinHostPort(s.host, strconv.Itoa(s.port))),
			WSBaseURL:   fmt.Sprintf("ws://%s", net.JoinHostPort(s.host, strconv.Itoa(s.port))),
			Port:        s.port,
			Workers:     app.cfg.Orchestration.Workers,
			Redis:       app.cfg.Redis.Addr != "",
			Knowledge:   app.knowledge.Enabled(),
		})
	})
	apiGroup.GET("/health", func(c *gin.Context) {
		sqlDB, err := app.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Orchestration event stream
	// /api/events/ws
	apiGroup.GET("/events/ws", event.NewWSHandler(event.Global()).Handle)

	// /api/organizations/:org/...
	handler.NewConversationHandler(app.ingest, app.engine).RegisterRoutes(apiGroup)
	handler.NewKnowledgeHandler(app.knowledge).RegisterRoutes(apiGroup)

	// /api/tools
	handler.NewToolHandler(app.tools).RegisterRoutes(apiGroup)

	// /api/models/...
	handler.NewModelHandler(app.models).RegisterRoutes(apiGroup)
}
