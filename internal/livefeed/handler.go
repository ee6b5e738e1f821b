package livefeed

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// DefaultAuthTimeout bounds the wait for the authorization frame
	DefaultAuthTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Authenticator turns a bearer token into the owner id it represents
type Authenticator func(token string) (ownerID string, err error)

// Handler upgrades GET /ws and runs the authorization handshake
type Handler struct {
	Hub          *Hub
	Authenticate Authenticator
	AuthTimeout  time.Duration
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ownerID, ok := h.authorize(conn)
	if !ok {
		conn.Close()
		return
	}

	client := newClient(uuid.New().String(), ownerID, conn)
	welcome, err := EncodeWelcome(client.ID)
	if err != nil {
		conn.Close()
		return
	}
	client.Send <- welcome
	h.Hub.Register(client)

	log.Info().Str("clientId", client.ID).Str("ownerId", ownerID).Msg("live client connected")

	go writePump(client)
	go readPump(h.Hub, client)
}

// authorize waits for the first frame, which must be a valid authorization
func (h *Handler) authorize(conn *websocket.Conn) (string, bool) {
	timeout := h.AuthTimeout
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}
	conn.SetReadDeadline(time.Now().Add(timeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Warn().Err(err).Msg("live client sent no authorization")
		return "", false
	}

	frame, err := Decode(data)
	if err != nil || frame.Type != FrameAuthorization {
		log.Warn().Err(err).Str("type", string(frame.Type)).Msg("live client first frame is not authorization")
		closeWith(conn, websocket.ClosePolicyViolation, "authorization required")
		return "", false
	}

	ownerID, err := h.Authenticate(frame.Token)
	if err != nil || ownerID == "" {
		log.Warn().Err(err).Msg("live client authorization rejected")
		closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
		return "", false
	}

	conn.SetReadDeadline(time.Time{})
	return ownerID, true
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// readPump keeps the read side alive for pongs and close frames.
// Inbound data frames after authorization are ignored.
func readPump(hub *Hub, c *Client) {
	defer hub.Unregister(c)

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("clientId", c.ID).Msg("live client read error")
			}
			log.Info().Str("clientId", c.ID).Msg("live client disconnected")
			return
		}
	}
}

// writePump drains the client's send buffer and keeps the connection pinged
func writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.Done:
			return
		}
	}
}
