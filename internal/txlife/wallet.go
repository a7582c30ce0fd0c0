package txlife

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet signs and broadcasts calls on behalf of one address.
type Wallet interface {
	Address() common.Address
	Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// Backend is the node surface KeyWallet needs; *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeyWallet signs legacy transactions with a local private key.
type KeyWallet struct {
	backend Backend
	key     *ecdsa.PrivateKey
	addr    common.Address
	signer  types.Signer

	mu sync.Mutex // serializes nonce use
}

func NewKeyWallet(backend Backend, hexKey string, chainID int64) (*KeyWallet, error) {
	if backend == nil {
		return nil, errors.New("txlife: nil backend")
	}
	if chainID <= 0 {
		return nil, errors.New("txlife: chain id required for signing")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	return &KeyWallet{
		backend: backend,
		key:     key,
		addr:    crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(big.NewInt(chainID)),
	}, nil
}

func (w *KeyWallet) Address() common.Address { return w.addr }

// Send estimates gas, which surfaces contract reverts before broadcast, then
// signs and submits.
func (w *KeyWallet) Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{From: w.addr, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	nonce, err := w.backend.PendingNonceAt(ctx, w.addr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	price, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas + gas/5,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, w.signer, w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}
