package escrow

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// EscrowABI covers the calls the coordinator makes against the escrow contract.
const EscrowABI = `[
 {"type":"function","name":"getOrderIdByRoomCode","stateMutability":"view",
  "inputs":[{"name":"roomCode","type":"string"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getOrderDetails","stateMutability":"view",
  "inputs":[{"name":"orderId","type":"uint256"}],
  "outputs":[{"name":"creator","type":"address"},{"name":"accepter","type":"address"},
             {"name":"token","type":"address"},{"name":"amount","type":"uint256"},
             {"name":"status","type":"uint8"},{"name":"roomCode","type":"string"}]},
 {"type":"function","name":"gameOrders","stateMutability":"view",
  "inputs":[{"name":"","type":"uint256"}],
  "outputs":[{"name":"orderId","type":"uint256"},{"name":"creator","type":"address"},
             {"name":"accepter","type":"address"},{"name":"token","type":"address"},
             {"name":"amount","type":"uint256"},{"name":"status","type":"uint8"},
             {"name":"winner","type":"address"},{"name":"creatorWithdrawn","type":"bool"},
             {"name":"accepterWithdrawn","type":"bool"},{"name":"createdAt","type":"uint256"},
             {"name":"expiresAt","type":"uint256"},{"name":"roomCode","type":"string"}]},
 {"type":"function","name":"getActiveOrders","stateMutability":"view",
  "inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"createOrder","stateMutability":"nonpayable",
  "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"roomCode","type":"string"}],
  "outputs":[]},
 {"type":"function","name":"acceptOrder","stateMutability":"nonpayable",
  "inputs":[{"name":"orderId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"cancelOrder","stateMutability":"nonpayable",
  "inputs":[{"name":"orderId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"completeGame","stateMutability":"nonpayable",
  "inputs":[{"name":"orderId","type":"uint256"}],"outputs":[]}
]`

// ERC20ABI is the token surface used for approvals and balance reads.
const ERC20ABI = `[
 {"type":"function","name":"approve","stateMutability":"nonpayable",
  "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"allowance","stateMutability":"view",
  "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view",
  "inputs":[{"name":"account","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	escrowABI = mustABI(EscrowABI)
	erc20ABI  = mustABI(ERC20ABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ParsedEscrowABI exposes the parsed escrow ABI for write-side packing.
func ParsedEscrowABI() abi.ABI { return escrowABI }

// ParsedERC20ABI exposes the parsed token ABI.
func ParsedERC20ABI() abi.ABI { return erc20ABI }
