package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	chainerrors "github.com/mirkobrombin/go-chainlock/v1/errors"
)

const writeTimeout = 5 * time.Second

// BridgeError is an error reported by the bridge in a reply.
type BridgeError struct {
	Method  string
	Message string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("ledger: %s: %s", e.Method, e.Message)
}

type request struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Payload any    `json:"payload,omitempty"`
}

type reply struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Bridge talks to the hardware wallet bridge over a websocket. Calls may be
// issued concurrently; replies are matched by id.
type Bridge struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan reply
	closed  bool
	err     error
	done    chan struct{}
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the logger. The default is slog.Default().
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = l
	}
}

// DialBridge connects to the bridge at the websocket url.
func DialBridge(ctx context.Context, url string, header http.Header, opts ...BridgeOption) (*Bridge, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial bridge: %w", err)
	}
	return NewBridge(conn, opts...), nil
}

// NewBridge wraps an established websocket connection.
func NewBridge(conn *websocket.Conn, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		conn:    conn,
		logger:  slog.Default(),
		pending: make(map[string]chan reply),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.readLoop()
	return b
}

func (b *Bridge) readLoop() {
	var err error
	defer func() {
		b.mu.Lock()
		b.closed = true
		b.err = err
		for id, ch := range b.pending {
			close(ch)
			delete(b.pending, id)
		}
		b.mu.Unlock()
		close(b.done)
	}()
	for {
		var r reply
		if err = b.conn.ReadJSON(&r); err != nil {
			return
		}
		b.mu.Lock()
		ch, ok := b.pending[r.Type]
		if ok {
			delete(b.pending, r.Type)
		}
		b.mu.Unlock()
		if !ok {
			b.logger.Debug("ledger: unsolicited bridge message", "type", r.Type)
			continue
		}
		ch <- r
	}
}

// Call sends method with payload and waits for the matching reply. The raw
// reply payload is returned.
func (b *Bridge) Call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	id := uuid.NewString()
	key := ReplyType(id)
	ch := make(chan reply, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, chainerrors.ErrConnectionClosed
	}
	b.pending[key] = ch
	b.mu.Unlock()

	b.writeMu.Lock()
	_ = b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := b.conn.WriteJSON(request{ID: id, Method: method, Payload: payload})
	b.writeMu.Unlock()
	if err != nil {
		b.forget(key)
		return nil, fmt.Errorf("ledger: send %s: %w", method, err)
	}

	select {
	case r, ok := <-ch:
		if !ok {
			return nil, chainerrors.ErrConnectionClosed
		}
		if r.Error != "" {
			return nil, &BridgeError{Method: method, Message: r.Error}
		}
		return r.Payload, nil
	case <-ctx.Done():
		b.forget(key)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, chainerrors.ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (b *Bridge) forget(key string) {
	b.mu.Lock()
	delete(b.pending, key)
	b.mu.Unlock()
}

// Err returns the error that ended the read loop, if any.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Close closes the connection and fails pending calls.
func (b *Bridge) Close() error {
	b.writeMu.Lock()
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	b.writeMu.Unlock()
	err := b.conn.Close()
	<-b.done
	return err
}
