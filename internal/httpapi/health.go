package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-escrow/pkg/escrowdto"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := escrowdto.HealthResponse{
		Status:      "ok",
		CachedRooms: s.d.Reconciler.Cache().Len(),
		RoomStore:   s.d.RoomStore,
	}
	if s.d.Relay != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		var chainID string
		if err := s.d.Relay.Call(ctx, &chainID, "eth_chainId"); err != nil {
			s.logger.Warn("health_chain_error", zap.Error(err))
			resp.Status = "degraded"
		} else {
			resp.ChainID = chainID
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
