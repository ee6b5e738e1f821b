package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/erauner12/productsync/internal/livefeed"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	liveHandshakeTimeout = 10 * time.Second
	liveWriteWait        = 10 * time.Second
)

// LiveDialer opens authorized connections to the live feed
type LiveDialer struct {
	URL    string
	Creds  Credentials
	Dialer *websocket.Dialer
	Logger zerolog.Logger
	// OnWelcome receives the client id the server assigned, typically
	// HTTPClient.SetLiveClient
	OnWelcome func(clientID string)
}

// LiveConn is an open live feed subscription
type LiveConn struct {
	ClientID string

	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open dials the feed, authorizes with the first frame and waits for the
// welcome. Record events are passed to onEvent from a single reader goroutine
// until the connection drops or Close is called.
func (d *LiveDialer) Open(ctx context.Context, onEvent func(livefeed.Event)) (*LiveConn, error) {
	logger := d.Logger.With().Str("component", "live").Logger()

	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: liveHandshakeTimeout, Proxy: http.ProxyFromEnvironment}
	}

	conn, _, err := dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("live dial failed: %w", err)
	}

	authFrame, err := livefeed.EncodeAuthorization(d.Creds.LiveToken())
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, authFrame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("live authorization failed: %w", err)
	}

	deadline := time.Now().Add(liveHandshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("live welcome not received: %w", err)
	}
	welcome, err := livefeed.Decode(data)
	if err != nil || welcome.Type != livefeed.FrameWelcome {
		conn.Close()
		return nil, fmt.Errorf("live handshake: expected welcome, got %q: %v", welcome.Type, err)
	}
	conn.SetReadDeadline(time.Time{})

	lc := &LiveConn{ClientID: welcome.ClientID, conn: conn, done: make(chan struct{})}
	if d.OnWelcome != nil {
		d.OnWelcome(welcome.ClientID)
	}
	logger.Info().Str("clientId", welcome.ClientID).Msg("live feed connected")

	lc.wg.Add(1)
	go lc.readLoop(logger, onEvent)
	return lc, nil
}

// Subscribe opens the feed authorized with token, or with the dialer's own
// credentials when token is empty
func (d *LiveDialer) Subscribe(ctx context.Context, token string, onEvent func(livefeed.Event)) (io.Closer, error) {
	dd := *d
	if token != "" {
		dd.Creds = Credentials{Token: token}
	}
	return dd.Open(ctx, onEvent)
}

func (lc *LiveConn) readLoop(logger zerolog.Logger, onEvent func(livefeed.Event)) {
	defer lc.wg.Done()
	defer lc.markDone()

	for {
		_, data, err := lc.conn.ReadMessage()
		if err != nil {
			select {
			case <-lc.done:
			default:
				logger.Warn().Err(err).Msg("live feed disconnected")
			}
			return
		}

		frame, err := livefeed.Decode(data)
		if err != nil {
			logger.Warn().Err(err).Msg("skipping invalid live frame")
			continue
		}
		if frame.Type == livefeed.FrameCreated || frame.Type == livefeed.FrameUpdated || frame.Type == livefeed.FrameDeleted {
			onEvent(frame.Event)
		}
	}
}

func (lc *LiveConn) markDone() {
	lc.closeOnce.Do(func() { close(lc.done) })
}

// Done is closed when the connection ends for any reason
func (lc *LiveConn) Done() <-chan struct{} {
	return lc.done
}

// Close ends the subscription and waits for the reader to exit.
// No callback runs after Close returns.
func (lc *LiveConn) Close() error {
	lc.markDone()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	lc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(liveWriteWait))
	err := lc.conn.Close()
	lc.wg.Wait()
	return err
}
