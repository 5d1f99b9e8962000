package server

import (
	"net"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/draymonix/pathlens/internal/traceroute"
)

// StreamRegistrar mounts a websocket endpoint that streams traceroute hops
// to the client incrementally instead of waiting for the full sweep.
type StreamRegistrar struct {
	tracer *traceroute.Engine
	logger *zap.Logger
}

func NewStreamRegistrar(tracer *traceroute.Engine, logger *zap.Logger) *StreamRegistrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamRegistrar{tracer: tracer, logger: logger}
}

func (s *StreamRegistrar) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/stream/trace", s.handleTraceStream)
}

func (s *StreamRegistrar) handleTraceStream(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	dest := net.ParseIP(target).To4()
	if dest == nil {
		BadRequest(w, "target must be an ipv4 address", r.URL.Path)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	hops, errc := s.tracer.TraceStream(ctx, dest, traceroute.Options{})

	for hop := range hops {
		if err := wsjson.Write(ctx, conn, hop); err != nil {
			s.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}

	if err := <-errc; err != nil {
		_ = wsjson.Write(ctx, conn, map[string]string{"error": err.Error()})
		_ = conn.Close(websocket.StatusInternalError, "trace failed")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "trace complete")
}
