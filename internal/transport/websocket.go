package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 10 * time.Second

// Options configures a WebSocket connection.
type Options struct {
	// WriteTimeout bounds each write. Zero means DefaultWriteTimeout.
	WriteTimeout time.Duration
	// ReadLimit caps inbound frame size in bytes. Zero means no limit.
	ReadLimit int64
	// Header is sent with the dial handshake.
	Header http.Header
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) writeTimeout() time.Duration {
	if o.WriteTimeout <= 0 {
		return DefaultWriteTimeout
	}
	return o.WriteTimeout
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// WebSocket is a Transport over a gorilla websocket connection using text
// frames. Send is safe for concurrent use; Receive must have a single caller.
type WebSocket struct {
	id           ulid.ULID
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to a websocket endpoint.
func Dial(ctx context.Context, url string, opts Options) (*WebSocket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws := NewWebSocket(conn, opts)
	ws.logger.Info("transport connected", "url", url, "conn", ws.ID())
	return ws, nil
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn, opts Options) *WebSocket {
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	id := ulid.Make()
	return &WebSocket{
		id:           id,
		conn:         conn,
		writeTimeout: opts.writeTimeout(),
		logger:       opts.logger().With("conn", id.String()),
		closed:       make(chan struct{}),
	}
}

// ID returns the connection's ULID, used to correlate log lines.
func (w *WebSocket) ID() string {
	return w.id.String()
}

// Send writes frame as a text message.
func (w *WebSocket) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline := time.Now().Add(w.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if isClose(err) {
			return ErrClosed
		}
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive reads the next text or binary message. Cancelling ctx interrupts
// a blocked read; the connection cannot be read from afterwards.
func (w *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, message, err := w.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			select {
			case <-w.closed:
				return nil, ErrClosed
			default:
			}
			if isClose(err) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("read frame: %w", err)
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return message, nil
		default:
			w.logger.Debug("ignoring control frame", "type", messageType)
		}
	}
}

// Close sends a normal close frame and closes the connection.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)

		w.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.writeMu.Unlock()

		err = w.conn.Close()
		w.logger.Info("transport closed")
	})
	return err
}

func isClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, websocket.ErrCloseSent)
}

// Handler upgrades HTTP requests to websocket connections and hands each to
// serve. The connection is closed when serve returns.
func Handler(serve func(ctx context.Context, t *WebSocket), opts Options) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	logger := opts.logger()
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		ws := NewWebSocket(conn, opts)
		defer ws.Close()

		ws.logger.Info("client connected", "remote", r.RemoteAddr)
		serve(r.Context(), ws)
	})
}
