package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nightfeed/mazeshow/config"
	"github.com/nightfeed/mazeshow/live"
	mw "github.com/nightfeed/mazeshow/middleware"
	"go.uber.org/zap"
)

const defaultKeepalive = 30 * time.Second

// Handler streams arena score updates to observers.
// Routes must be protected by the ObserverAuth middleware.
type Handler struct {
	pub       *live.Publisher
	origins   map[string]bool
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pub *live.Publisher, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]bool, len(sec.AllowedOrigins))
	for _, o := range sec.AllowedOrigins {
		origins[o] = true
	}
	return &Handler{pub: pub, origins: origins, keepalive: defaultKeepalive, logger: logger}
}

// SetKeepalive changes the keepalive comment interval.
func (h *Handler) SetKeepalive(d time.Duration) {
	if d > 0 {
		h.keepalive = d
	}
}

// ServeSSE handles GET /sse?token=<jwt>.
// It replays the arena's latest score as a "score" event, then forwards
// every update published on the arena channel until the arena finishes
// ("finished" event) or the client goes away.
func (h *Handler) ServeSSE(c *gin.Context) {
	if origin := c.GetHeader("Origin"); origin != "" && len(h.origins) > 0 && !h.origins[origin] {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}
	claims := mw.GetObserverClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	arenaID := claims.ArenaID
	log := h.logger.With(zap.String("arena", arenaID), zap.String("token", claims.ID))

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pub.Subscribe(subCtx, arenaID)
	if err != nil {
		log.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"arena\":%q}\n\n", arenaID)
	if latest, err := h.pub.Latest(subCtx, arenaID); err == nil {
		if payload, err := json.Marshal(latest); err == nil {
			h.write(c, latest, string(payload))
		}
		if latest.Finished {
			return
		}
	} else if !errors.Is(err, live.ErrNoScore) {
		log.Warn("sse latest score read failed", zap.Error(err))
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			var u live.Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				log.Warn("sse dropping malformed update", zap.Error(err))
				continue
			}
			h.write(c, &u, msg.Payload)
			if u.Finished {
				return
			}

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Handler) write(c *gin.Context, u *live.Update, payload string) {
	event := "score"
	if u.Finished {
		event = "finished"
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, payload)
	c.Writer.Flush()
}
