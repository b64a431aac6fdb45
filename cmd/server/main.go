package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	cidpkg "parlor/internal/cid"
	"parlor/internal/config"
	"parlor/internal/hub"
	"parlor/internal/metrics"
	"parlor/internal/otelutil"
	"parlor/internal/playback"
	"parlor/internal/relay"
	"parlor/internal/store"
)

// Server carries the entrypoint's collaborators so the router and middleware
// can be built and tested without global state.
type Server struct {
	cfg *config.Config
	hub *hub.Hub
}

// cidMiddleware guarantees every request has a correlation id: an incoming
// X-Parlor-CID is preserved, otherwise a fresh KSUID is minted. The id is
// echoed on the response and placed in the request context.
func (s *Server) cidMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(cidpkg.HeaderName)
		if cid == "" {
			cid = ksuid.New().String()
		}
		c.Writer.Header().Set(cidpkg.HeaderName, cid)
		c.Request = c.Request.WithContext(cidpkg.WithCID(c.Request.Context(), cid))
		c.Next()
	}
}

// otelMiddleware wraps each request in a span carrying the HTTP method,
// target, and correlation id.
func (s *Server) otelMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("parlor/server")
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), c.FullPath())
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.target", c.Request.URL.Path),
		)
		if cid := cidpkg.CIDFromContext(ctx); cid != "" {
			span.SetAttributes(attribute.String(cidpkg.AttributeName, cid))
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.End()
	}
}

func (s *Server) router() *gin.Engine {
	if !s.cfg.Server.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.cidMiddleware())
	r.Use(s.otelMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "parlor",
		})
	})

	r.GET("/api/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"connections":  s.hub.Registry().ConnectionCount(),
			"online_users": s.hub.Registry().OnlineCount(),
			"stations":     len(s.hub.Engine().Snapshot()),
		})
	})

	r.GET("/api/users", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"users": s.hub.Registry().OnlineUsers()})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	return r
}

func main() {
	cfg := config.Load()

	if err := otelutil.Init(); err != nil {
		log.Printf("otel disabled: %v", err)
	}
	defer otelutil.Flush()

	st, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	rl := relay.New(cfg.WebRTC.STUNServer, cfg.WebRTC.PublicIP, cfg.NegotiationTimeout())

	h := hub.New(cfg, st, rl, playback.RealClock{})
	s := &Server{cfg: cfg, hub: h}

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: s.router(),
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Printf("server forced to shutdown: %v", err)
		}
	}()

	log.Printf("starting parlor server on %s", cfg.Server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}
}
