package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/realtime"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	socketWriteTimeout       = 10 * time.Second

	disconnectReasonShutdown = "io server disconnect"
)

var errClientGone = errors.New("websocket client went away")

// handleSocket authenticates the token query parameter, upgrades the request
// and streams the tenant's channel events until either side goes away.
func (h *httpHandler) handleSocket(c *gin.Context) {
	token := strings.TrimSpace(c.Query(realtime.TokenQueryParam))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	claims, err := h.sessions.ValidateToken(token)
	if err != nil {
		h.logTokenFailure(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	tenantID := requestTenant(c)
	if tenantID == "" {
		tenantID = strings.TrimSpace(c.Query("tenant"))
	}
	if tenantID != "" && tenantID != claims.TenantID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid_tenant"})
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("tenant_id", claims.TenantID), zap.String("user_id", claims.UserID))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, unsubscribe := h.realtime.Subscribe(ctx, claims.TenantID, claims.UserID)
	defer unsubscribe()

	socket := newSocketConn(conn)
	if err := socket.writeFrame(realtime.EventConnect, nil); err != nil {
		logger.Debug("websocket connect ack failed", zap.Error(err))
		return
	}
	logger.Debug("websocket connected")

	go func() {
		defer cancel()
		_ = socket.drainClient()
	}()

	if err := socket.pump(ctx, stream, h.heartbeatInterval); err != nil {
		logger.Debug("websocket closed", zap.Error(err))
	}
}

// socketConn serialises every write to one upgraded connection. Control
// replies from the read side take the same lock as pushed frames.
type socketConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func newSocketConn(conn net.Conn) *socketConn {
	return &socketConn{conn: conn}
}

// pump forwards stream to the client until ctx ends or the stream closes.
// A stream closed while ctx is still live means the hub shut down, and the
// client is told so before the close frame.
func (s *socketConn) pump(ctx context.Context, stream <-chan RealtimeMessage, heartbeatInterval time.Duration) error {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return errClientGone
		case message, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return errClientGone
				}
				_ = s.writeFrame(realtime.EventDisconnect, realtime.DisconnectData{Reason: disconnectReasonShutdown})
				_ = s.writeMessage(ws.OpClose, ws.NewCloseFrameBody(ws.StatusGoingAway, ""))
				return nil
			}
			if err := s.writeFrame(message.Event, message.Data); err != nil {
				return err
			}
		case <-heartbeat.C:
			if err := s.writeMessage(ws.OpPing, nil); err != nil {
				return err
			}
		}
	}
}

// drainClient reads client frames until the connection ends. Data frames are
// discarded; pings and close frames are answered under the write lock.
func (s *socketConn) drainClient() error {
	control := wsutil.ControlFrameHandler(s.conn, ws.StateServerSide)
	reader := &wsutil.Reader{
		Source:    s.conn,
		State:     ws.StateServerSide,
		CheckUTF8: true,
		OnIntermediate: func(header ws.Header, payload io.Reader) error {
			return s.answerControl(control, header, payload)
		},
	}
	for {
		header, err := reader.NextFrame()
		if err != nil {
			return err
		}
		if header.OpCode.IsControl() {
			if err := s.answerControl(control, header, reader); err != nil {
				return err
			}
			continue
		}
		if err := reader.Discard(); err != nil {
			return err
		}
	}
}

func (s *socketConn) answerControl(control wsutil.FrameHandlerFunc, header ws.Header, payload io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout)); err != nil {
		return err
	}
	return control(header, payload)
}

func (s *socketConn) writeFrame(event string, data any) error {
	payload, err := realtime.EncodeFrame(event, data)
	if err != nil {
		return err
	}
	return s.writeMessage(ws.OpText, payload)
}

func (s *socketConn) writeMessage(op ws.OpCode, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout)); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(s.conn, op, payload)
}
