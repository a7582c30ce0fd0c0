package httpapi

import (
	"errors"
	"math/big"
	"net/http"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/park285/cheese-escrow/internal/roomauth"
	"github.com/park285/cheese-escrow/internal/txlife"
	"github.com/park285/cheese-escrow/pkg/escrowdto"
)

// handleTx submits one escrow action with the server wallet. It returns once
// the transaction is broadcast; clients follow the slot or the order feed.
func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	action, ok := txlife.ParseAction(mux.Vars(r)["action"])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_action", s.msgs.Text("auth.unknown_action", nil), false)
		return
	}
	var req escrowdto.TxRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", false)
		return
	}
	code := strings.TrimSpace(req.RoomCode)
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_args", s.msgs.Text("auth.invalid_args", nil), false)
		return
	}
	if !s.authorizeTx(w, r, action, code, req) {
		return
	}

	esc := s.d.Escrow
	var (
		hash common.Hash
		err  error
	)
	switch action {
	case txlife.ActionApprove, txlife.ActionCreateOrder:
		token, amount, perr := parseFunding(req)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_args", perr.Error(), false)
			return
		}
		if action == txlife.ActionApprove {
			hash, err = esc.Approve(r.Context(), code, token, amount)
		} else {
			hash, err = esc.CreateOrder(r.Context(), code, token, amount)
		}
	case txlife.ActionAcceptOrder:
		hash, err = esc.AcceptOrder(r.Context(), code)
	case txlife.ActionCancelOrder:
		hash, err = esc.CancelOrder(r.Context(), code)
	case txlife.ActionCompleteGame:
		hash, err = esc.CompleteGame(r.Context(), code)
	}

	rec := txRecordDTO(esc.Controller().Record(code))
	if err != nil {
		if errors.Is(err, txlife.ErrBusy) {
			writeError(w, http.StatusConflict, "busy", s.msgs.Text("tx.error.busy", nil), true)
			return
		}
		var te *txlife.TxError
		if errors.As(err, &te) {
			writeError(w, txStatus(te.Kind), string(te.Kind), te.Error(), te.Kind.Retryable())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_args", err.Error(), false)
		return
	}
	writeJSON(w, http.StatusAccepted, escrowdto.TxResponse{Hash: hash.Hex(), Record: rec})
}

// authorizeTx admits signed players of a live room. Creating and cancelling
// the order is the creator's move, accepting is the joiner's, and completing
// needs a game in progress.
func (s *Server) authorizeTx(w http.ResponseWriter, r *http.Request, action txlife.Action, code string, req escrowdto.TxRequest) bool {
	if strings.TrimSpace(req.WalletSignature) == "" {
		writeError(w, http.StatusUnauthorized, roomauth.CodeInvalidSignature, s.msgs.Text("auth.invalid_signature", nil), false)
		return false
	}
	need := roomauth.ActionEscrow
	if action == txlife.ActionCompleteGame {
		need = roomauth.ActionPlay
	}
	res := s.d.Auth.Authorize(r.Context(), roomauth.Request{
		RoomCode: code, WalletAddress: req.WalletAddress,
		Signature: req.WalletSignature, SignatureTimeMs: req.SignatureTimestamp,
		Action: need,
	})
	if !res.Valid {
		writeJSON(w, authStatus(res.Code), validateDTO(res))
		return false
	}
	var allowed bool
	switch action {
	case txlife.ActionCreateOrder, txlife.ActionCancelOrder:
		allowed = res.IsCreator
	case txlife.ActionAcceptOrder:
		allowed = res.IsJoiner
	default:
		allowed = true
	}
	if !allowed {
		s.logger.Info("tx_denied", zap.String("room_code", code), zap.String("action", string(action)), zap.String("wallet", req.WalletAddress))
		writeError(w, http.StatusForbidden, roomauth.CodeNotPlayer, s.msgs.Text("auth.not_player", nil), false)
		return false
	}
	return true
}

// handleTxRecords lists every slot the controller has touched, by slot.
func (s *Server) handleTxRecords(w http.ResponseWriter, _ *http.Request) {
	recs := s.d.Escrow.Controller().Records()
	sort.Slice(recs, func(i, j int) bool { return recs[i].Slot < recs[j].Slot })
	out := make([]escrowdto.TxRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, txRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTxRecord(w http.ResponseWriter, r *http.Request) {
	rec := s.d.Escrow.Controller().Record(mux.Vars(r)["slot"])
	writeJSON(w, http.StatusOK, txRecordDTO(rec))
}

func parseFunding(req escrowdto.TxRequest) (common.Address, *big.Int, error) {
	if !common.IsHexAddress(req.Token) {
		return common.Address{}, nil, errors.New("token must be a hex address")
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok || amount.Sign() <= 0 {
		return common.Address{}, nil, errors.New("amount must be a positive integer")
	}
	return common.HexToAddress(req.Token), amount, nil
}

func txStatus(k txlife.ErrorKind) int {
	switch k {
	case txlife.KindNetwork:
		return http.StatusBadGateway
	case txlife.KindUnknown:
		return http.StatusInternalServerError
	case txlife.KindUserRejected:
		return http.StatusBadRequest
	}
	return http.StatusConflict
}
