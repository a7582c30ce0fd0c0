// Package identity proves that a caller controls a wallet address using a
// personal_sign signature over a fixed application message.
package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrExpiredSignature is distinct so callers can ask for a fresh signature
	// instead of treating the wallet as unverified.
	ErrExpiredSignature = errors.New("signature expired")
)

const (
	DefaultMaxAge = 5 * time.Minute
	maxClockSkew  = 30 * time.Second
)

type Verifier struct {
	message string
	maxAge  time.Duration
	now     func() time.Time
}

type Option func(*Verifier)

func WithMaxAge(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.maxAge = d
		}
	}
}

// WithClock replaces time.Now; tests use it to pin freshness checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

func NewVerifier(message string, opts ...Option) *Verifier {
	v := &Verifier{message: message, maxAge: DefaultMaxAge, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Message is the exact text wallets must sign. It does not include the room
// code or the timestamp, so one signature is valid for every room.
func (v *Verifier) Message() string { return v.message }

// Verify checks signature freshness first, then recovers the signer of
// Message() and compares it to claimed. timestampMs is unix milliseconds.
func (v *Verifier) Verify(signature, claimed string, timestampMs int64) error {
	if err := v.CheckFresh(timestampMs); err != nil {
		return err
	}
	return VerifyMessage(v.message, signature, claimed)
}

// CheckFresh rejects timestamps older than the max age.
func (v *Verifier) CheckFresh(timestampMs int64) error {
	if timestampMs <= 0 {
		return ErrInvalidSignature
	}
	signedAt := time.UnixMilli(timestampMs)
	now := v.now()
	if signedAt.After(now.Add(maxClockSkew)) {
		return ErrInvalidSignature
	}
	if now.Sub(signedAt) > v.maxAge {
		return ErrExpiredSignature
	}
	return nil
}

// VerifyMessage recovers the address that produced signature over the
// EIP-191 hash of message and compares it to claimed, ignoring case.
func VerifyMessage(message, signature, claimed string) error {
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if !SameAddress(recovered.Hex(), claimed) {
		return ErrInvalidSignature
	}
	return nil
}

func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return common.Address{}, err
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.New("signature must be 65 bytes")
	}
	// wallets emit V as 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SameAddress compares two wallet addresses case-insensitively. Malformed
// input never matches.
func SameAddress(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return false
	}
	return strings.EqualFold(a, b)
}
