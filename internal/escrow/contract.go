package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Reader is the read surface of the escrow contract.
type Reader interface {
	// OrderIDByRoomCode returns 0 when no order references the room.
	OrderIDByRoomCode(ctx context.Context, roomCode string) (uint64, error)
	// OrderByID merges getOrderDetails and gameOrders into one record.
	OrderByID(ctx context.Context, id uint64) (*Order, error)
	ActiveOrderIDs(ctx context.Context) ([]uint64, error)
}

// ContractClient reads the escrow contract through eth_call.
type ContractClient struct {
	caller   ethereum.ContractCaller
	contract common.Address
}

func NewContractClient(caller ethereum.ContractCaller, contract common.Address) *ContractClient {
	return &ContractClient{caller: caller, contract: contract}
}

func (c *ContractClient) Address() common.Address { return c.contract }

func (c *ContractClient) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) ([]byte, error) {
	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ContractClient) OrderIDByRoomCode(ctx context.Context, roomCode string) (uint64, error) {
	out, err := c.call(ctx, c.contract, escrowABI, "getOrderIdByRoomCode", roomCode)
	if err != nil {
		return 0, err
	}
	res, err := escrowABI.Unpack("getOrderIdByRoomCode", out)
	if err != nil {
		return 0, fmt.Errorf("unpack getOrderIdByRoomCode: %w", err)
	}
	id, ok := res[0].(*big.Int)
	if !ok || id == nil {
		return 0, errors.New("unexpected getOrderIdByRoomCode output")
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("order id out of range: %s", id)
	}
	return id.Uint64(), nil
}

func (c *ContractClient) OrderByID(ctx context.Context, id uint64) (*Order, error) {
	bid := new(big.Int).SetUint64(id)

	out, err := c.call(ctx, c.contract, escrowABI, "getOrderDetails", bid)
	if err != nil {
		return nil, err
	}
	var s summary
	if err := escrowABI.UnpackIntoInterface(&s, "getOrderDetails", out); err != nil {
		return nil, fmt.Errorf("unpack getOrderDetails: %w", err)
	}
	// unset mapping slots read back as zero records
	if s.Creator == (common.Address{}) {
		return nil, ErrOrderNotFound
	}

	out, err = c.call(ctx, c.contract, escrowABI, "gameOrders", bid)
	if err != nil {
		return nil, err
	}
	var x extended
	if err := escrowABI.UnpackIntoInterface(&x, "gameOrders", out); err != nil {
		return nil, fmt.Errorf("unpack gameOrders: %w", err)
	}
	return merge(id, &s, &x), nil
}

func (c *ContractClient) ActiveOrderIDs(ctx context.Context) ([]uint64, error) {
	out, err := c.call(ctx, c.contract, escrowABI, "getActiveOrders")
	if err != nil {
		return nil, err
	}
	res, err := escrowABI.Unpack("getActiveOrders", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getActiveOrders: %w", err)
	}
	raw, ok := res[0].([]*big.Int)
	if !ok {
		return nil, errors.New("unexpected getActiveOrders output")
	}
	ids := make([]uint64, 0, len(raw))
	for _, v := range raw {
		if v != nil && v.IsUint64() && v.Sign() > 0 {
			ids = append(ids, v.Uint64())
		}
	}
	return ids, nil
}

// Allowance reads the ERC-20 allowance owner has granted the escrow contract.
func (c *ContractClient) Allowance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, erc20ABI, "allowance", owner, c.contract)
	if err != nil {
		return nil, err
	}
	res, err := erc20ABI.Unpack("allowance", out)
	if err != nil {
		return nil, fmt.Errorf("unpack allowance: %w", err)
	}
	v, ok := res[0].(*big.Int)
	if !ok || v == nil {
		return nil, errors.New("unexpected allowance output")
	}
	return v, nil
}

// ErrOrderNotFound is the normalized form of the contract's not-found reverts.
var ErrOrderNotFound = errors.New("escrow: order not found")

var notFoundMarkers = []string{
	"order not found",
	"order does not exist",
	"no order for room",
	"invalid order id",
}

// IsNotFound reports whether err is the contract saying the order is absent.
// Every other failure is a real read error.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOrderNotFound) {
		return true
	}
	reason := strings.ToLower(RevertReason(err))
	for _, m := range notFoundMarkers {
		if strings.Contains(reason, m) {
			return true
		}
	}
	return false
}

// RevertReason extracts the Error(string) payload from a call error when the
// node returned revert data, falling back to the error text.
func RevertReason(err error) string {
	if err == nil {
		return ""
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}
