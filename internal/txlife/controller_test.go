package txlife

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-escrow/internal/escrow"
)

type codedErr struct{ code int }

func (e codedErr) Error() string  { return "wallet error" }
func (e codedErr) ErrorCode() int { return e.code }

// revertErr is what a node returns for a reverted call: a generic message
// with the Error(string) payload as data.
type revertErr struct{ reason string }

func (e revertErr) Error() string { return "execution reverted" }

func (e revertErr) ErrorData() interface{} {
	str, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: str}}.Pack(e.reason)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

func testConfig() Config {
	return Config{SettleDelay: 2 * time.Second, PollInterval: time.Second, MaxAttempts: 3, ResetAfter: 10 * time.Second}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{codedErr{4001}, KindUserRejected},
		{errors.New("MetaMask Tx Signature: User denied transaction signature."), KindUserRejected},
		{errors.New("insufficient funds for gas * price + value"), KindInsufficientFunds},
		{errors.New("execution reverted: ERC20: insufficient allowance"), KindInsufficientAllowance},
		{errors.New("execution reverted: ERC20: transfer amount exceeds allowance"), KindInsufficientAllowance},
		{errors.New("execution reverted: Order not open"), KindOrderNotOpen},
		{errors.New("execution reverted: Order already accepted"), KindOrderAlreadyAccepted},
		{errors.New("execution reverted: Cannot accept own order"), KindSelfAccept},
		{errors.New("execution reverted: Order expired"), KindOrderExpired},
		{errors.New("execution reverted: Only creator can cancel"), KindNotCreator},
		{context.DeadlineExceeded, KindNetwork},
		{errors.New("dial tcp 10.0.0.1:443: connection refused"), KindNetwork},
		{errors.New("something odd"), KindUnknown},
		{fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), KindNetwork},
		{revertErr{reason: "Order expired"}, KindOrderExpired},
		{revertErr{reason: "Order not open"}, KindOrderNotOpen},
	}
	for _, tc := range cases {
		got := Classify(tc.err)
		require.Equal(t, tc.want, got.Kind, "error %q", tc.err)
		require.ErrorIs(t, got, tc.err)
	}
	require.Nil(t, Classify(nil))

	require.Equal(t, KindNetwork, Classify(rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}).Kind)
	require.Equal(t, KindNetwork, Classify(fmt.Errorf("send: %w", rpc.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"})).Kind)
	require.Equal(t, KindUnknown, Classify(rpc.HTTPError{StatusCode: 400, Status: "400 Bad Request"}).Kind)

	// look-alike text outside a revert stays unknown
	for _, err := range []error{
		errors.New("invalid proof"),
		errors.New("nonce 0x4290503 already used by another sender"),
		errors.New("signature expired"),
		errors.New("the room is not open yet"),
		&escrow.ReadError{Op: "order", RoomCode: "EOF429", Err: errors.New("abi: cannot unmarshal")},
	} {
		require.Equal(t, KindUnknown, Classify(err).Kind, "error %q", err)
	}
	// a read failure is classified by its cause, not its room code
	read := &escrow.ReadError{Op: "order", RoomCode: "R503", Err: errors.New("dial tcp 10.0.0.1:443: connection refused")}
	require.Equal(t, KindNetwork, Classify(read).Kind)

	pre := &TxError{Kind: KindSelfAccept}
	require.Same(t, pre, Classify(pre))
}

func TestExecuteSuccessThenIdle(t *testing.T) {
	sched := &manualScheduler{}
	c := NewController(testConfig(), WithScheduler(sched))
	defer c.Close()

	want := common.HexToHash("0x01")
	var seen Status
	hash, err := c.Execute(context.Background(), "R1", ActionCreateOrder, func(context.Context) (common.Hash, error) {
		seen = c.Record("R1").Status
		return want, nil
	}, "", nil, nil)
	require.NoError(t, err)
	require.Equal(t, want, hash)
	require.Equal(t, StatusCreatingOrder, seen)

	rec := c.Record("R1")
	require.Equal(t, StatusSuccess, rec.Status)
	require.Equal(t, want.Hex(), rec.Hash)
	require.Equal(t, "Order created, waiting for confirmation", rec.Message)

	sched.Advance(10 * time.Second)
	require.Equal(t, StatusIdle, c.Record("R1").Status)
}

func TestExecuteUserRejection(t *testing.T) {
	sched := &manualScheduler{}
	c := NewController(testConfig(), WithScheduler(sched))
	defer c.Close()

	polled := false
	task := &Task{Predicate: func(context.Context) (bool, error) { polled = true; return true, nil }}
	_, err := c.Execute(context.Background(), "R1", ActionAcceptOrder, func(context.Context) (common.Hash, error) {
		return common.Hash{}, codedErr{4001}
	}, "", task, nil)
	require.True(t, IsKind(err, KindUserRejected))

	rec := c.Record("R1")
	require.Equal(t, StatusError, rec.Status)
	require.Equal(t, KindUserRejected, rec.ErrorKind)
	require.Equal(t, "Transaction was rejected in your wallet", rec.Message)

	sched.Advance(time.Minute)
	require.False(t, polled, "no reconciliation after a rejected submission")
	require.Equal(t, StatusIdle, c.Record("R1").Status)
}

func TestExecuteBusySlot(t *testing.T) {
	c := NewController(testConfig(), WithScheduler(&manualScheduler{}))
	defer c.Close()

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), "R1", ActionApprove, func(context.Context) (common.Hash, error) {
			<-release
			return common.HexToHash("0x02"), nil
		}, "", nil, nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return c.Record("R1").Status == StatusApproving }, time.Second, time.Millisecond)

	_, err := c.Execute(context.Background(), "R1", ActionCreateOrder, func(context.Context) (common.Hash, error) {
		t.Fatal("second call must not reach the wallet")
		return common.Hash{}, nil
	}, "", nil, nil)
	require.ErrorIs(t, err, ErrBusy)

	// other slots are independent
	_, err = c.Execute(context.Background(), "R2", ActionCreateOrder, func(context.Context) (common.Hash, error) {
		return common.HexToHash("0x03"), nil
	}, "", nil, nil)
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestNewActionSupersedesPendingReset(t *testing.T) {
	sched := &manualScheduler{}
	c := NewController(testConfig(), WithScheduler(sched))
	defer c.Close()
	ok := func(context.Context) (common.Hash, error) { return common.HexToHash("0x04"), nil }

	_, err := c.Execute(context.Background(), "R1", ActionApprove, ok, "", nil, nil)
	require.NoError(t, err)
	sched.Advance(6 * time.Second)
	_, err = c.Execute(context.Background(), "R1", ActionCreateOrder, ok, "", nil, nil)
	require.NoError(t, err)

	sched.Advance(5 * time.Second) // first reset fires, must not clear the newer record
	require.Equal(t, ActionCreateOrder, c.Record("R1").Action)
	sched.Advance(5 * time.Second)
	require.Equal(t, StatusIdle, c.Record("R1").Status)
}

func TestTaskIsBounded(t *testing.T) {
	sched := &manualScheduler{}
	calls := 0
	var got TaskResult
	Task{Interval: time.Second, MaxAttempts: 4, Predicate: func(context.Context) (bool, error) {
		calls++
		return false, nil
	}}.Run(context.Background(), sched, 2*time.Second, func(r TaskResult) { got = r })

	sched.Advance(time.Second)
	require.Zero(t, calls, "nothing before the settle delay")
	sched.Advance(time.Hour)
	require.Equal(t, 4, calls)
	require.Equal(t, 4, got.Attempts)
	require.False(t, got.Converged)
}

func TestTaskStopsWhenConverged(t *testing.T) {
	sched := &manualScheduler{}
	calls := 0
	var got TaskResult
	Task{Interval: time.Second, MaxAttempts: 10, Predicate: func(context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("transient")
		}
		return calls >= 3, nil
	}}.Run(context.Background(), sched, 0, func(r TaskResult) { got = r })

	sched.Advance(time.Minute)
	require.Equal(t, 3, calls)
	require.True(t, got.Converged)
	require.EqualError(t, got.LastErr, "transient")
}

func TestTaskCancelled(t *testing.T) {
	sched := &manualScheduler{}
	ctx, cancel := context.WithCancel(context.Background())
	var got TaskResult
	Task{Interval: time.Second, MaxAttempts: 10, Predicate: func(context.Context) (bool, error) {
		return false, nil
	}}.Run(ctx, sched, time.Second, func(r TaskResult) { got = r })
	sched.Advance(2 * time.Second)
	cancel()
	sched.Advance(time.Minute)
	require.Equal(t, 2, got.Attempts)
	require.ErrorIs(t, got.LastErr, context.Canceled)
}
