package httpapi

import (
	"io"
	"net/http"

	"github.com/park285/cheese-escrow/internal/rpcrelay"
)

// handleRPC always answers 200 with a JSON-RPC body; relay failures use the
// error envelope so wallet libraries can parse them.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(rpcrelay.ErrorEnvelope(nil, rpcrelay.CodeInvalidRequest, "read body"))
		return
	}
	out, _ := s.d.Relay.Forward(r.Context(), body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
