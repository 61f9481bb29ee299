// Package ws serves the live arena feed over WebSocket for overlays that
// cannot hold an EventSource open.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nightfeed/mazeshow/config"
	"github.com/nightfeed/mazeshow/live"
	mw "github.com/nightfeed/mazeshow/middleware"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	readDeadline = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Packet is the frame envelope. Type is "connected", "score" or "finished".
type Packet struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler streams arena score updates over WebSocket.
// Routes must be protected by the ObserverAuth middleware.
type Handler struct {
	pub      *live.Publisher
	upgrader websocket.Upgrader
	ping     time.Duration
	logger   *zap.Logger
}

// NewHandler creates a Handler. sec.AllowedOrigins restricts the Origin
// header; an empty list allows any origin.
func NewHandler(pub *live.Publisher, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(sec.AllowedOrigins))
	for _, o := range sec.AllowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		pub:    pub,
		ping:   pingInterval,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// SetPingInterval changes how often the server pings idle clients.
func (h *Handler) SetPingInterval(d time.Duration) {
	if d > 0 {
		h.ping = d
	}
}

// ServeWS handles GET /ws?token=<jwt>. It sends a "connected" packet, the
// latest cached score, then every update of the token's arena until the
// arena finishes or the client goes away. Client frames are ignored apart
// from pongs and close.
func (h *Handler) ServeWS(c *gin.Context) {
	claims := mw.GetObserverClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	arenaID := claims.ArenaID
	log := h.logger.With(zap.String("arena", arenaID), zap.String("token", claims.ID))

	// Subscribe before upgrading so a broken pub/sub still gets an HTTP error.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgCh, unsub, err := h.pub.Subscribe(ctx, arenaID)
	if err != nil {
		log.Error("ws subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}
	defer unsub()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already answered with an HTTP error.
		log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	go h.readPump(conn, cancel, log)

	hello, _ := json.Marshal(gin.H{"arena": arenaID})
	if err := h.send(conn, "connected", hello); err != nil {
		return
	}
	if latest, err := h.pub.Latest(ctx, arenaID); err == nil {
		payload, _ := json.Marshal(latest)
		if err := h.send(conn, eventOf(latest), payload); err != nil || latest.Finished {
			h.closeNormal(conn)
			return
		}
	} else if !errors.Is(err, live.ErrNoScore) {
		log.Warn("ws latest score read failed", zap.Error(err))
	}

	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				h.closeNormal(conn)
				return
			}
			var u live.Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				log.Warn("ws dropping malformed update", zap.Error(err))
				continue
			}
			if err := h.send(conn, eventOf(&u), json.RawMessage(msg.Payload)); err != nil {
				log.Debug("ws write failed", zap.Error(err))
				return
			}
			if u.Finished {
				h.closeNormal(conn)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readPump keeps the read deadline fresh on pongs and ends the stream when
// the client disconnects.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc, log *zap.Logger) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(max(readDeadline, 2*h.ping)))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(max(readDeadline, 2*h.ping)))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				log.Debug("ws unexpected close", zap.Error(err))
			}
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, typ string, payload json.RawMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(Packet{Type: typ, Payload: payload})
}

func (h *Handler) closeNormal(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "arena finished"),
		time.Now().Add(writeWait))
}

func eventOf(u *live.Update) string {
	if u.Finished {
		return "finished"
	}
	return "score"
}
