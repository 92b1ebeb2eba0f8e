// Command server boots the streaming chat gateway core: it loads
// configuration and the model routing table, wires the provider registry
// and persistence store, and serves the WebSocket and plain-HTTP transport
// surfaces behind one gin.Engine. Bootstrap ordering is config -> auth
// validator -> services -> router -> http.Server -> signal-driven
// graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/iammarcin/streamgate/internal/auth"
	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/config"
	"github.com/iammarcin/streamgate/internal/httpapi"
	"github.com/iammarcin/streamgate/internal/logger"
	"github.com/iammarcin/streamgate/internal/persistence"
	"github.com/iammarcin/streamgate/internal/provider"
	"github.com/iammarcin/streamgate/internal/provider/blobstore"
	"github.com/iammarcin/streamgate/internal/provider/openaistream"
	"github.com/iammarcin/streamgate/internal/provider/ttsbuffered"
	"github.com/iammarcin/streamgate/internal/provider/ttsduplex"
	"github.com/iammarcin/streamgate/internal/session"
	"github.com/iammarcin/streamgate/internal/workflow"
	"github.com/iammarcin/streamgate/internal/wsapi"
)

func main() {
	cfg := config.Load()

	log := logger.New(logger.FromConfig(cfg.LogLevel, ""))
	slog.SetDefault(log.Logger)

	store, err := persistence.Open(cfg.DatabaseURL, persistence.Config{
		WorkerPoolSize: 4,
		BufferSize: 512,
		OpTimeout: 5 * time.Second,
	}, log)
	if err != nil {
		log.Error("failed to open persistence store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Shutdown()

	validator, err := auth.New(cfg.JWTValidatorType, cfg.AuthSecret, cfg.JWKSURL)
	if err != nil {
		log.Error("failed to build token validator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	authMW := auth.NewMiddleware(validator)

	routes, err := config.LoadModelRoutes(cfg.ModelRoutesFile)
	if err != nil {
		log.Error("failed to load model routes file", slog.String("error", err.Error()))
		os.Exit(1)
	}
	modelRegistry, err := config.BuildModelRegistry(routes)
	if err != nil {
		log.Error("failed to build model registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	blob := blobstore.New(cfg.BlobBucket)
	providerRegistry, err := buildProviderRegistry(routes, blob)
	if err != nil {
		log.Error("failed to build provider registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	metricsReg := prometheus.NewRegistry()
	busMetrics := bus.NewMetrics(metricsReg)

	resolve := buildResolver(modelRegistry, providerRegistry)
	newSession := func(connID string) *session.Session {
		return session.New(session.Config{
			ID: connID,
			Store: store,
			Log: log,
			Metrics: busMetrics,
			Resolve: resolve,
			QueueCapacity: cfg.QueueCapacity,
			AudioQueueSize: 64,
		})
	}

	wsHandler := wsapi.New(authMW, log, newSession, splitOrigins(cfg.CORSAllowedOrigins))
	httpHandlers := httpapi.New(newSession, blob, log)

	reaper := cron.New()
	if _, err := reaper.AddFunc("@every "+cfg.TTSCleanupInterval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := store.SweepExpiredSessions(ctx, cfg.TTSSessionTTL)
		if err != nil {
			log.Error("session reaper sweep failed", slog.String("error", err.Error()))
			return
		}
		if n > 0 {
			log.Info("session reaper swept idle sessions", slog.Int64("count", n))
		}
	}); err != nil {
		log.Error("failed to schedule session reaper", slog.String("error", err.Error()))
		os.Exit(1)
	}
	reaper.Start()
	defer reaper.Stop()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.CORSAllowedOrigins))

	router.GET("/chat/ws", wsHandler.ServeHTTP)

	protected := router.Group("/")
	protected.Use(authMW.RequireAuth())
	{
		protected.POST("/chat", httpHandlers.Chat)
		protected.POST("/chat/stream", httpHandlers.ChatStream)
		protected.POST("/storage/upload", httpHandlers.Upload)
	}

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	apiServer := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		log.Info("streamgate listening", slog.String("addr", cfg.ListenAddr), slog.String("instance", cfg.InstanceID))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Error("api server forced to shutdown", slog.String("error", err.Error()))
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Error("metrics server forced to shutdown", slog.String("error", err.Error()))
	}
	log.Info("shutdown complete")
}

// buildProviderRegistry constructs one reference adapter per entry in
// routes.Providers, keyed by its Name, and installs the single blob store
// shared by every /storage/upload request. STT and realtime providers have
// no reference adapter in this core (: provider wire formats are
// illustrative) — a model_routes.yaml entry that names one as a
// tts_provider still resolves fine; stt_provider/realtime simply stay unset
// and the audio/realtime workflows emit an error event (see
// runAudio, runRealtime).
func buildProviderRegistry(routes *config.ModelRoutesFile, blob provider.BlobStore) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	reg.SetBlobStore(blob)

	client := &http.Client{Timeout: 60 * time.Second}

	for _, p := range routes.Providers {
		switch p.Kind {
		case config.ProviderKindChatCompletions:
			adapter := openaistream.New(openaistream.Config{BaseURL: p.BaseURL, APIKey: p.APIKey, Name: p.Name}, client)
			if err := reg.RegisterText(p.Name, adapter); err != nil {
				return nil, err
			}
		case config.ProviderKindTTSBuffered:
			adapter := ttsbuffered.New(ttsbuffered.Config{BaseURL: p.BaseURL, APIKey: p.APIKey, Name: p.Name, Voices: p.Voices}, client)
			if err := reg.RegisterTTS(p.Name, adapter); err != nil {
				return nil, err
			}
		case config.ProviderKindTTSDuplex:
			adapter := ttsduplex.New(ttsduplex.Config{WSBaseURL: p.BaseURL, APIKey: p.APIKey, Name: p.Name, Voices: p.Voices})
			if err := reg.RegisterTTS(p.Name, adapter); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("provider %s: unhandled kind %q", p.Name, p.Kind)
		}
	}
	return reg, nil
}

// buildResolver bridges the model registry (alias -> capability config)
// and the provider registry (name -> adapter) into the session.ProviderResolver
// closure each Session is constructed with.
func buildResolver(models *provider.ModelRegistry, providers *provider.Registry) session.ProviderResolver {
	return func(alias string) (workflow.Providers, provider.ModelConfig, error) {
		cfg, err := models.Resolve(alias)
		if err != nil {
			return workflow.Providers{}, provider.ModelConfig{}, err
		}

		text, err := providers.Text(cfg.ProviderKey)
		if err != nil {
			return workflow.Providers{}, cfg, err
		}

		prov := workflow.Providers{Text: text}
		if mm, ok := text.(provider.MultimodalTextProvider); ok && cfg.Capabilities.SupportsAudioInput {
			prov.Multimodal = mm
		}
		if cfg.TTSProviderKey != "" {
			if t, err := providers.TTS(cfg.TTSProviderKey); err == nil {
				prov.TTS = t
			}
		}
		if cfg.STTProviderKey != "" {
			if s, err := providers.STT(cfg.STTProviderKey); err == nil {
				prov.STT = s
			}
		}
		if b, err := providers.BlobStore(); err == nil {
			prov.Blob = b
		}
		return prov, cfg, nil
	}
}

// corsMiddleware wraps rs/cors for gin via Cors.HandlerFunc — the same
// cors.New(cors.Options{...}) constructor shape used for a chi router,
// adapted to gin's middleware signature instead of chi's
// func(http.Handler) http.Handler.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	origins := splitOrigins(allowedOrigins)
	opts := cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Type"},
	}
	if len(origins) == 0 {
		opts.AllowOriginFunc = func(string) bool { return true }
	} else {
		opts.AllowedOrigins = origins
	}
	c := cors.New(opts)
	return func(ctx *gin.Context) {
		c.HandlerFunc(ctx.Writer, ctx.Request)
		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
		ctx.Next()
	}
}

// splitOrigins parses CORS_ALLOWED_ORIGINS as a comma-separated origin list.
func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

