package realtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
)

// TokenQueryParam carries the session credential on the channel URL.
const TokenQueryParam = "token"

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// ErrMalformedFrame marks a frame that could not be decoded. The connection
// stays usable.
var ErrMalformedFrame = errors.New("realtime: malformed frame")

// Dialer opens one channel connection authenticated by token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// Conn is one open channel connection.
type Conn interface {
	// Read blocks until the next frame, a transport failure or ctx ends.
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// WebSocketDialerConfig configures the websocket transport.
type WebSocketDialerConfig struct {
	URL     string
	Header  http.Header
	Timeout time.Duration
}

// WebSocketDialer dials the channel over websocket text frames.
type WebSocketDialer struct {
	endpoint *url.URL
	header   http.Header
	timeout  time.Duration
}

// NewWebSocketDialer validates the endpoint.
func NewWebSocketDialer(cfg WebSocketDialerConfig) (*WebSocketDialer, error) {
	endpoint, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("realtime: parse socket url: %w", err)
	}
	switch endpoint.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("realtime: unsupported socket scheme %q", endpoint.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &WebSocketDialer{
		endpoint: endpoint,
		header:   cfg.Header.Clone(),
		timeout:  timeout,
	}, nil
}

// SocketURLFromBase maps an http(s) API base to the ws(s) channel endpoint.
func SocketURLFromBase(baseURL, path string) (string, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	default:
		return "", fmt.Errorf("realtime: unsupported base scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return parsed.String(), nil
}

func (d *WebSocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	endpoint := *d.endpoint
	query := endpoint.Query()
	query.Set(TokenQueryParam, token)
	endpoint.RawQuery = query.Encode()

	dialer := ws.Dialer{Timeout: d.timeout}
	if len(d.header) > 0 {
		dialer.Header = ws.HandshakeHeaderHTTP(d.header)
	}
	netConn, reader, _, err := dialer.Dial(ctx, endpoint.String())
	if err != nil {
		return nil, &errs.TransportError{Reason: "dial_failed", Err: err}
	}
	return newWebSocketConn(netConn, reader), nil
}

type webSocketConn struct {
	conn      net.Conn
	source    io.Reader
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWebSocketConn(conn net.Conn, buffered *bufio.Reader) *webSocketConn {
	var source io.Reader = conn
	if buffered != nil {
		source = buffered
	}
	return &webSocketConn{conn: conn, source: source}
}

func (c *webSocketConn) Read(ctx context.Context) (Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.Close()
	})
	defer stop()

	payload, err := c.readData()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return Frame{}, &errs.TransportError{Reason: "server_closed", Err: err}
		}
		return Frame{}, &errs.TransportError{Reason: "read_failed", Err: err}
	}
	frame, err := DecodeFrame(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return frame, nil
}

// readData returns the next text or binary message. Pings and close frames
// are answered under the write lock.
func (c *webSocketConn) readData() ([]byte, error) {
	control := wsutil.ControlFrameHandler(c.conn, ws.StateClientSide)
	reader := &wsutil.Reader{
		Source:    c.source,
		State:     ws.StateClientSide,
		CheckUTF8: true,
		OnIntermediate: func(header ws.Header, payload io.Reader) error {
			return c.answerControl(control, header, payload)
		},
	}
	for {
		header, err := reader.NextFrame()
		if err != nil {
			return nil, err
		}
		if header.OpCode.IsControl() {
			if err := c.answerControl(control, header, reader); err != nil {
				return nil, err
			}
			continue
		}
		if header.OpCode != ws.OpText && header.OpCode != ws.OpBinary {
			if err := reader.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(reader)
	}
}

func (c *webSocketConn) answerControl(control wsutil.FrameHandlerFunc, header ws.Header, payload io.Reader) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}
	return control(header, payload)
}

func (c *webSocketConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
