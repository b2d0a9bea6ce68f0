package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/fleetmap/internal/adapters/engine"
	"github.com/samirrijal/fleetmap/internal/core/domain"
	"github.com/samirrijal/fleetmap/internal/core/usecases"
	"github.com/samirrijal/fleetmap/internal/pkg/metrics"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var errSocketClosed = errors.New("socket closed")

// socketChannel is a ports.Channel over one engine WebSocket. Writes are
// serialized; the bridge and the ping loop share the connection.
type socketChannel struct {
	conn    *websocket.Conn
	msgType int

	mu     sync.Mutex
	closed bool
}

func newSocketChannel(conn *websocket.Conn, binary bool) *socketChannel {
	msgType := websocket.TextMessage
	if binary {
		msgType = websocket.BinaryMessage
	}
	return &socketChannel{conn: conn, msgType: msgType}
}

func (s *socketChannel) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(s.msgType, data)
}

func (s *socketChannel) ping() error {
	return s.write(websocket.PingMessage, nil)
}

func (s *socketChannel) write(msgType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSocketClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(msgType, data)
}

// Close closes the connection; a blocked ReadMessage returns.
func (s *socketChannel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// engineMountRequest reads the session options from the upgrade query:
// restore, tracking, style, traffic, and lat/lon/lat_span/lon_span for the
// initial region.
func engineMountRequest(c *websocket.Conn) (usecases.MountRequest, error) {
	req := usecases.MountRequest{
		RestoreKey:    c.Query("restore"),
		FleetTracking: c.Query("tracking") == "true",
		Style:         c.Query("style"),
	}
	if v := c.Query("traffic"); v != "" {
		on := v == "true"
		req.ShowTraffic = &on
	}
	if c.Query("lat") != "" || c.Query("lon") != "" {
		var vals [4]float64
		for i, key := range []string{"lat", "lon", "lat_span", "lon_span"} {
			f, err := strconv.ParseFloat(c.Query(key), 64)
			if err != nil {
				return req, fmt.Errorf("%w: query %s: %v", domain.ErrInvalidRegion, key, err)
			}
			vals[i] = f
		}
		req.Region = &domain.Region{
			Center:        domain.Coordinate{Latitude: vals[0], Longitude: vals[1]},
			LatitudeSpan:  vals[2],
			LongitudeSpan: vals[3],
		}
	}
	return req, nil
}

// EngineSocketHandler serves /ws/engine. Each connection is one remote map
// engine: it gets its own bridge, receives commands as frames, and sends its
// events back on the same socket. The session is unmounted when the socket
// closes or the handshake times out.
func EngineSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		remoteAddr := c.RemoteAddr().String()
		ch := newSocketChannel(c, deps.Codec.Binary())
		defer ch.Close()

		req, err := engineMountRequest(c)
		if err != nil {
			slog.Warn("engine socket rejected", "remote", remoteAddr, "error", err)
			return
		}
		req.Engine = engine.NewChannelEngine(deps.Codec, ch)
		req.Callbacks.OnError = func(err error) {
			if errors.Is(err, domain.ErrSessionTimedOut) || errors.Is(err, domain.ErrChannel) {
				_ = ch.Close()
			}
		}

		bridge, err := deps.Maps.Mount(context.Background(), req)
		if err != nil {
			slog.Warn("engine mount failed", "remote", remoteAddr, "error", err)
			return
		}
		logger := slog.Default().With("session_id", bridge.ID(), "remote", remoteAddr)
		logger.Info("engine connected")
		metrics.ActiveWebSockets.Inc()

		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := ch.ping(); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}
			if err := bridge.HandleMessage(msg); err != nil {
				logger.Debug("engine frame rejected", "error_kind", domain.ErrorKind(err))
			}
		}

		close(done)
		metrics.ActiveWebSockets.Dec()
		if err := deps.Maps.Unmount(context.Background(), bridge.ID()); err != nil && !errors.Is(err, usecases.ErrSessionNotFound) {
			logger.Warn("unmount failed", "error", err)
		}
		logger.Info("engine disconnected")
	}
}
