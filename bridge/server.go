package bridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/logging"
	"github.com/m4xw311/cadlink/metrics"
)

// DefaultAddress is where the palette server listens when none is configured.
const DefaultAddress = "127.0.0.1:6001"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the palette websocket at /palette and Prometheus metrics at
// /metrics.
type Server struct {
	bridge  *Bridge
	metrics *metrics.Metrics
	log     *zap.Logger
	http    *http.Server
}

func NewServer(addr string, b *Bridge, m *metrics.Metrics, log *zap.Logger) *Server {
	if addr == "" {
		addr = DefaultAddress
	}
	s := &Server{bridge: b, metrics: m, log: logging.OrNop(log)}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/palette", s.handlePalette)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("palette server running", zap.String("address", "ws://"+l.Addr().String()+"/palette"))
	err := s.http.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.http.Addr)
	}
	return s.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handlePalette(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	p := &wsPalette{conn: conn}
	detach := s.bridge.Attach(p)
	defer detach()
	s.metrics.PaletteConnected()
	defer s.metrics.PaletteDisconnected()

	// Pipe WebSocket messages to the bridge
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("ws read error", zap.Error(err))
			}
			return
		}
		var a Action
		if err := json.Unmarshal(msg, &a); err != nil || a.Action == "" {
			_ = p.Send(Outbound{Event: OutError, Data: map[string]string{"error": "expected a JSON object with an action field"}})
			continue
		}
		s.bridge.Post(a)
	}
}

// wsPalette writes outbound events to one websocket. gorilla connections
// allow one concurrent writer.
type wsPalette struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
}

func (p *wsPalette) Send(o Outbound) error {
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	return p.conn.WriteJSON(o)
}
