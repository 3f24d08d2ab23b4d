package server

import (
	"net/http"

	"go.uber.org/zap"

	"muxrpc/transport"
)

// DefaultRPCPath is where the RPC websocket endpoint is mounted by default.
const DefaultRPCPath = "/_rpc_"

// ServeHTTP upgrades the request to a websocket and serves calls over it
// until the connection ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "rpc endpoint expects a websocket upgrade", http.StatusMethodNotAllowed)
		return
	}
	conn, err := transport.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		s.opts.logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.ServeConn(conn)
}
