package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codedrop/internal/auth"
	"codedrop/internal/service/broker"
	"codedrop/internal/telegram"
	"codedrop/internal/worker"
)

const healthTimeout = 2 * time.Second

// UpdateQueue accepts decoded updates for background processing.
type UpdateQueue interface {
	Submit(update *telegram.Update) error
}

// StatsSource produces the reporting rollup.
type StatsSource interface {
	Stats(ctx context.Context) (*broker.Stats, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler wires HTTP routes to the dispatcher and the broker.
type Handler struct {
	updates     UpdateQueue
	stats       StatsSource
	store       Pinger
	adminSecret string
}

// NewHandler constructs a Handler instance.
func NewHandler(updates UpdateQueue, stats StatsSource, store Pinger, adminSecret string) *Handler {
	return &Handler{
		updates:     updates,
		stats:       stats,
		store:       store,
		adminSecret: adminSecret,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(metricsMiddleware())
	router.POST("/webhook", h.webhook)
	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/stats", auth.AdminSecret(h.adminSecret), h.getStats)
}

// webhook acknowledges every decodable update with 200 before any work is
// done, so the platform never redelivers. Only an unreadable body gets 500.
func (h *Handler) webhook(c *gin.Context) {
	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		log.Printf("webhook decode failed: %v", err)
		c.String(http.StatusInternalServerError, "Error")
		return
	}
	if err := h.updates.Submit(&update); err != nil {
		if errors.Is(err, worker.ErrDispatcherBusy) {
			log.Printf("webhook: dropping update %d, dispatcher busy", update.UpdateID)
		} else {
			log.Printf("webhook: submit update %d failed: %v", update.UpdateID, err)
		}
	}
	c.String(http.StatusOK, "OK")
}

func (h *Handler) getStats(c *gin.Context) {
	stats, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		log.Printf("stats query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
