package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/park285/cheese-escrow/internal/escrow"
	"github.com/park285/cheese-escrow/internal/orderfeed"
	"github.com/park285/cheese-escrow/pkg/escrowdto"
)

// errReadFailures makes the process exit non-zero after the report is printed.
var errReadFailures = errors.New("some rooms could not be read")

var rootCmd = &cobra.Command{
	Use:           "escrowcheck",
	Short:         "Inspect escrow orders for rooms",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var ordersCmd = &cobra.Command{
	Use:   "orders [ROOM_CODE ...]",
	Short: "Read the orders of rooms from the contract",
	RunE:  runOrders,
}

var watchCmd = &cobra.Command{
	Use:   "watch BASE_URL ROOM_CODE [ROOM_CODE ...]",
	Short: "Follow the coordinator's order feed for rooms",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runWatch,
}

func init() {
	rootCmd.PersistentFlags().Duration("timeout", 20*time.Second, "overall timeout")
	ordersCmd.Flags().String("rpc", firstEnv("CHAIN_RPC_URL", "RPC_UPSTREAM_URL"), "JSON-RPC endpoint")
	ordersCmd.Flags().String("contract", os.Getenv("ESCROW_CONTRACT"), "escrow contract address")
	ordersCmd.Flags().Bool("active", false, "list getActiveOrders() and load each order")
	rootCmd.AddCommand(ordersCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReadFailures) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func runOrders(cmd *cobra.Command, codes []string) error {
	rpcURL, _ := cmd.Flags().GetString("rpc")
	contractHex, _ := cmd.Flags().GetString("contract")
	active, _ := cmd.Flags().GetBool("active")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if rpcURL == "" {
		return fmt.Errorf("--rpc or CHAIN_RPC_URL is required")
	}
	if !common.IsHexAddress(contractHex) {
		return fmt.Errorf("--contract must be a hex address: %q", contractHex)
	}
	if len(codes) == 0 && !active {
		return cmd.Usage()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer eth.Close()

	rec := escrow.NewReconciler(escrow.NewContractClient(eth, common.HexToAddress(contractHex)), escrow.NewCache())

	if active {
		n, err := rec.RefreshActive(ctx)
		if err != nil {
			log.Printf("active refresh error: %v", err)
		} else {
			log.Printf("active orders loaded: %d", n)
		}
	}

	failed := 0
	if len(codes) > 0 {
		res := rec.BatchFetch(ctx, codes)
		for code, err := range res.Failed {
			failed++
			fmt.Printf("%-10s ERROR %v\n", code, err)
		}
	}

	snap := rec.Cache().Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		printEntry(snap[k])
	}
	if failed > 0 {
		return errReadFailures
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return watchFeeds(ctx, args[0], args[1:])
}

func printEntry(e escrow.Entry) {
	if e.Absent() {
		fmt.Printf("%-10s no order\n", e.RoomCode)
		return
	}
	o := e.Order
	accepter := "-"
	if o.HasAccepter() {
		accepter = o.Accepter.Hex()
	}
	expires := "-"
	if !o.ExpiresAt.IsZero() {
		expires = o.ExpiresAt.Format(time.RFC3339)
	}
	fmt.Printf("%-10s order=%d status=%s creator=%s accepter=%s token=%s amount=%s expires=%s\n",
		e.RoomCode, o.OrderID, o.Status, o.Creator.Hex(), accepter, o.Token.Hex(), o.Amount, expires)
}

func watchFeeds(ctx context.Context, baseURL string, codes []string) error {
	clients := make([]*orderfeed.Client, 0, len(codes))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		for _, c := range clients {
			_ = c.Close(closeCtx)
		}
	}()

	for _, code := range codes {
		u, err := orderfeed.FeedURL(baseURL, code)
		if err != nil {
			return err
		}
		c := orderfeed.NewClient(u)
		room := code
		c.OnUpdate(func(r *escrowdto.OrderResponse) { printUpdate(r) })
		c.OnStateChange(func(s orderfeed.State) { log.Printf("%s feed %s", room, s) })
		if err := c.Connect(ctx); err != nil {
			log.Printf("%s connect: %v", room, err)
		}
		clients = append(clients, c)
	}
	<-ctx.Done()
	return nil
}

func printUpdate(r *escrowdto.OrderResponse) {
	if r.Order == nil {
		fmt.Printf("%-10s v%d no order\n", r.RoomCode, r.Version)
		return
	}
	o := r.Order
	fmt.Printf("%-10s v%d order=%d status=%s accepter=%s amount=%s\n",
		r.RoomCode, r.Version, o.OrderID, o.Status, o.Accepter, o.Amount)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
