// Package webhook serves the inbound HTTP surface: the Lark event callback,
// the Twilio voice callback, health and metrics.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zulandar/signalbox/internal/lark"
)

// maxBodyBytes caps inbound webhook payloads.
const maxBodyBytes = 1 << 20

// Enqueuer accepts decoded events for asynchronous processing.
type Enqueuer interface {
	Enqueue(env *lark.Envelope) bool
}

// Opts holds configuration for the webhook server.
type Opts struct {
	Port       int
	EncryptKey string
	Events     Enqueuer
	RateRPS    float64 // per client IP; <= 0 disables limiting
	RateBurst  int
	Logger     zerolog.Logger
}

// NewRouter builds the gin engine with middleware and routes registered.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Events == nil {
		return nil, fmt.Errorf("webhook: event queue is required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(RequestID(), Logger(opts.Logger), Recovery(opts.Logger), Metrics())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{encryptKey: opts.EncryptKey, events: opts.Events}
	ingress := router.Group("/")
	if opts.RateRPS > 0 {
		ingress.Use(NewRateLimiter(opts.RateRPS, opts.RateBurst).Handler())
	}
	ingress.POST("/lark/webhook", h.larkEvent)
	ingress.POST("/twilio/voice", h.twilioVoice)
	ingress.GET("/twilio/voice", h.twilioVoice)

	return router, nil
}

// Start launches the webhook server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	opts.Logger.Info().Int("port", opts.Port).Msg("webhook server listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}
