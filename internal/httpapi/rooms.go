package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/park285/cheese-escrow/internal/room"
	"github.com/park285/cheese-escrow/internal/roomauth"
	"github.com/park285/cheese-escrow/pkg/escrowdto"
)

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["shortHash"]
	rm, err := s.d.Rooms.Resolve(r.Context(), hash)
	switch {
	case errors.Is(err, room.ErrNotFound), errors.Is(err, room.ErrInvalidArgs):
		writeError(w, http.StatusNotFound, "room_not_found", s.msgs.Text("auth.room_not_found", nil), false)
		return
	case err != nil:
		s.logger.Error("room_resolve_error", zap.String("short_hash", hash), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup_failed", "room lookup failed", true)
		return
	}

	resp := escrowdto.ResolveResponse{Room: *roomDTO(rm)}
	if rm.GameStatus.Terminal() {
		resp.Completed = true
		resp.Message = s.msgs.Text("room.gone", map[string]any{"Status": string(rm.GameStatus)})
		writeJSON(w, http.StatusGone, resp)
		return
	}
	resp.NeedsVerification = true
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req escrowdto.ValidateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", false)
		return
	}
	action, _ := roomauth.ParseAction(req.Action)
	res := s.d.Auth.Authorize(r.Context(), roomauth.Request{
		RoomCode:        req.RoomCode,
		WalletAddress:   req.WalletAddress,
		Signature:       req.WalletSignature,
		SignatureTimeMs: req.SignatureTimestamp,
		Action:          action,
	})
	// the outcome is the payload; only infrastructure failures change the status
	status := http.StatusOK
	if res.Code == roomauth.CodeLookupFailed {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, validateDTO(res))
}

// handleCreateRoom requires a signature: the caller becomes white.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req escrowdto.CreateRoomRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", false)
		return
	}
	if res, ok := s.d.Auth.Identify(req.WalletAddress, req.WalletSignature, req.SignatureTimestamp); !ok {
		writeJSON(w, authStatus(res.Code), validateDTO(res))
		return
	}

	rm, err := s.d.Rooms.Create(r.Context(), room.CreateParams{
		RoomCode: req.RoomCode,
		Creator:  req.WalletAddress,
		Currency: req.GameCurrency,
		Size:     req.GameSize,
	})
	switch {
	case errors.Is(err, room.ErrExists):
		writeError(w, http.StatusConflict, roomauth.CodeRoomExists, s.msgs.Text("auth.room_exists", nil), false)
		return
	case errors.Is(err, room.ErrInvalidArgs):
		writeError(w, http.StatusBadRequest, roomauth.CodeInvalidArgs, s.msgs.Text("auth.invalid_args", nil), false)
		return
	case err != nil:
		s.logger.Error("room_create_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create_failed", "room could not be created", true)
		return
	}
	writeJSON(w, http.StatusCreated, roomDTO(rm))
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	var req escrowdto.JoinRoomRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", false)
		return
	}
	if strings.TrimSpace(req.WalletSignature) == "" {
		writeError(w, http.StatusUnauthorized, roomauth.CodeInvalidSignature, s.msgs.Text("auth.invalid_signature", nil), false)
		return
	}
	res := s.d.Auth.Authorize(r.Context(), roomauth.Request{
		RoomCode: code, WalletAddress: req.WalletAddress,
		Signature: req.WalletSignature, SignatureTimeMs: req.SignatureTimestamp,
		Action: roomauth.ActionJoin,
	})
	if !res.Valid {
		writeJSON(w, authStatus(res.Code), validateDTO(res))
		return
	}

	rm, err := s.d.Rooms.Join(r.Context(), code, req.WalletAddress)
	switch {
	case errors.Is(err, room.ErrNotFound):
		writeError(w, http.StatusNotFound, roomauth.CodeRoomNotFound, s.msgs.Text("auth.room_not_found", nil), false)
		return
	case errors.Is(err, room.ErrFull):
		writeError(w, http.StatusConflict, roomauth.CodeRoomHasJoiner, s.msgs.Text("auth.room_has_joiner", nil), false)
		return
	case errors.Is(err, room.ErrSelfJoin):
		writeError(w, http.StatusConflict, roomauth.CodeSelfJoin, s.msgs.Text("auth.self_join", nil), false)
		return
	case errors.Is(err, room.ErrInactive):
		writeError(w, http.StatusGone, roomauth.CodeRoomInactive, s.msgs.Text("auth.room_inactive", nil), false)
		return
	case err != nil:
		s.logger.Error("room_join_error", zap.String("room_code", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "join_failed", "room could not be joined", true)
		return
	}
	writeJSON(w, http.StatusOK, roomDTO(rm))
}

func authStatus(code string) int {
	switch code {
	case roomauth.CodeInvalidArgs, roomauth.CodeUnknownAction:
		return http.StatusBadRequest
	case roomauth.CodeInvalidSignature, roomauth.CodeExpiredSignature:
		return http.StatusUnauthorized
	case roomauth.CodeRoomNotFound:
		return http.StatusNotFound
	case roomauth.CodeRoomExists, roomauth.CodeRoomHasJoiner, roomauth.CodeSelfJoin:
		return http.StatusConflict
	case roomauth.CodeRoomInactive:
		return http.StatusGone
	case roomauth.CodeNotAuthorized, roomauth.CodeNotPlayer:
		return http.StatusForbidden
	case roomauth.CodeLookupFailed:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}
