package txlife

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/park285/cheese-escrow/internal/escrow"
)

// ErrorKind tags a classified write failure.
type ErrorKind string

const (
	KindUserRejected          ErrorKind = "user_rejected"
	KindInsufficientFunds     ErrorKind = "insufficient_funds"
	KindInsufficientAllowance ErrorKind = "insufficient_allowance"
	KindOrderNotOpen          ErrorKind = "order_not_open"
	KindOrderAlreadyAccepted  ErrorKind = "order_already_accepted"
	KindSelfAccept            ErrorKind = "self_accept"
	KindOrderExpired          ErrorKind = "order_expired"
	KindNotCreator            ErrorKind = "not_creator"
	KindNetwork               ErrorKind = "network"
	KindUnknown               ErrorKind = "unknown"
)

// MessageKey is the catalog key of the user-facing text.
func (k ErrorKind) MessageKey() string { return "tx.error." + string(k) }

// Retryable reports whether the same submission may succeed if tried again.
func (k ErrorKind) Retryable() bool {
	return k == KindNetwork || k == KindUnknown
}

// TxError is a classified write failure.
type TxError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *TxError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *TxError) Unwrap() error { return e.Cause }

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *TxError
	return errors.As(err, &te) && te.Kind == kind
}

// rpcCoder matches wallet and node errors carrying a JSON-RPC code.
type rpcCoder interface{ ErrorCode() int }

// EIP-1193 user rejection.
const codeUserRejected = 4001

type pattern struct {
	kind    ErrorKind
	needles []string
	// revertOnly patterns describe contract guards and only apply to revert reasons.
	revertOnly bool
}

// Order matters: allowance reverts often also mention "exceeds".
var patterns = []pattern{
	{kind: KindUserRejected, needles: []string{"user rejected", "user denied", "rejected the request", "action_rejected", "request rejected"}},
	{kind: KindInsufficientAllowance, needles: []string{"insufficient allowance", "exceeds allowance", "allowance too low"}},
	{kind: KindInsufficientFunds, needles: []string{"insufficient funds", "exceeds balance", "insufficient balance"}},
	{kind: KindOrderAlreadyAccepted, needles: []string{"already accepted"}, revertOnly: true},
	{kind: KindOrderNotOpen, needles: []string{"order not open", "order is not open", "order not active"}, revertOnly: true},
	{kind: KindSelfAccept, needles: []string{"cannot accept own order", "cannot accept your own", "self accept", "self-accept"}, revertOnly: true},
	{kind: KindOrderExpired, needles: []string{"order expired", "order has expired", "order is expired"}, revertOnly: true},
	{kind: KindNotCreator, needles: []string{"not the creator", "only creator", "not creator", "not order creator"}, revertOnly: true},
	{kind: KindNetwork, needles: []string{"timeout", "timed out", "deadline exceeded", "connection refused", "connection reset", "no such host", "network is unreachable", "too many requests", "service unavailable", "bad gateway"}},
}

// Classify maps a submission failure onto an ErrorKind. It is the only place
// revert reasons are interpreted.
func Classify(err error) *TxError {
	if err == nil {
		return nil
	}
	var te *TxError
	if errors.As(err, &te) {
		return te
	}
	var coder rpcCoder
	if errors.As(err, &coder) && coder.ErrorCode() == codeUserRejected {
		return &TxError{Kind: KindUserRejected, Cause: err}
	}
	if transient(err) {
		return &TxError{Kind: KindNetwork, Cause: err}
	}

	// read failures carry the room code in their text; match the cause only
	target := err
	var re *escrow.ReadError
	if errors.As(err, &re) && re.Err != nil {
		target = re.Err
	}
	text := strings.ToLower(escrow.RevertReason(target))
	reverted := isRevert(target)
	for _, p := range patterns {
		if p.revertOnly && !reverted {
			continue
		}
		for _, n := range p.needles {
			if strings.Contains(text, n) {
				return &TxError{Kind: p.kind, Cause: err}
			}
		}
	}
	return &TxError{Kind: KindUnknown, Cause: err}
}

func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var he rpc.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= http.StatusInternalServerError
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isRevert reports whether err came back from the EVM rather than the
// transport or the wallet.
func isRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) && de.ErrorData() != nil {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}
