package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	appcfg "github.com/park285/cheese-escrow/internal/config"
	"github.com/park285/cheese-escrow/internal/escrow"
	"github.com/park285/cheese-escrow/internal/httpapi"
	"github.com/park285/cheese-escrow/internal/identity"
	"github.com/park285/cheese-escrow/internal/msgcat"
	"github.com/park285/cheese-escrow/internal/obslog"
	"github.com/park285/cheese-escrow/internal/room"
	"github.com/park285/cheese-escrow/internal/roomauth"
	"github.com/park285/cheese-escrow/internal/rpcrelay"
	"github.com/park285/cheese-escrow/internal/txlife"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgs, err := msgcat.New(cfg.MsgOverrideDir)
	if err != nil {
		logger.Fatal("msgcat_init_error", zap.Error(err))
	}

	store, closeStore, err := openRoomStore(ctx, cfg)
	if err != nil {
		logger.Fatal("room_store_init_error", zap.String("store", cfg.RoomStore), zap.Error(err))
	}
	defer closeStore()
	rooms := room.NewManager(store)

	verifier := identity.NewVerifier(cfg.AuthMessage, identity.WithMaxAge(cfg.SignatureMaxAge))
	auth := roomauth.NewService(store, verifier, msgs, logger.Named("roomauth"))

	relay := rpcrelay.NewUpstream(cfg.RPCUpstreamURL, rpcrelay.WithAPIKey(cfg.RPCUpstreamKey), rpcrelay.WithLogger(logger.Named("rpcrelay")))

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	eth, err := ethclient.DialContext(dialCtx, chainURL(cfg))
	cancelDial()
	if err != nil {
		logger.Fatal("chain_dial_error", zap.Error(err))
	}
	defer eth.Close()

	contract := escrow.NewContractClient(eth, common.HexToAddress(cfg.EscrowContract))
	reconciler := escrow.NewReconciler(contract, escrow.NewCache(),
		escrow.WithWorkers(cfg.ActiveRefreshLimit),
		escrow.WithLogger(logger.Named("escrow")),
	)

	ctrl := txlife.NewController(txlife.Config{
		SettleDelay:  cfg.TxSettleDelay,
		PollInterval: cfg.TxPollInterval,
		MaxAttempts:  cfg.TxPollMaxAttempts,
		ResetAfter:   cfg.TxResetAfter,
	}, txlife.WithCatalog(msgs), txlife.WithLogger(logger.Named("txlife")))
	defer ctrl.Close()

	var esc *txlife.Escrow
	if cfg.WalletPrivateKey != "" {
		chainID := cfg.ChainID
		if chainID == 0 {
			idCtx, cancelID := context.WithTimeout(ctx, 5*time.Second)
			id, err := eth.ChainID(idCtx)
			cancelID()
			if err != nil {
				logger.Fatal("chain_id_error", zap.Error(err))
			}
			chainID = id.Int64()
		}
		wallet, err := txlife.NewKeyWallet(eth, cfg.WalletPrivateKey, chainID)
		if err != nil {
			logger.Fatal("wallet_init_error", zap.Error(err))
		}
		esc = txlife.NewEscrow(txlife.EscrowDeps{
			Controller: ctrl,
			Wallet:     wallet,
			Contract:   contract.Address(),
			Reconciler: reconciler,
			Rooms:      rooms,
			Allowance:  contract,
			Logger:     logger.Named("txlife.escrow"),
		})
		logger.Info("wallet_ready", zap.String("address", wallet.Address().Hex()), zap.Int64("chain_id", chainID))
	}

	sched, err := startActiveRefresh(ctx, cfg, reconciler, logger.Named("cron"))
	if err != nil {
		logger.Fatal("cron_init_error", zap.Error(err))
	}

	api := httpapi.New(httpapi.Deps{
		Rooms:      rooms,
		Auth:       auth,
		Reconciler: reconciler,
		Relay:      relay,
		Escrow:     esc,
		Msgs:       msgs,
		RoomStore:  cfg.RoomStore,
		Origins:    cfg.AllowedOrigins,
		Logger:     logger.Named("httpapi"),
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.ListenAddr), zap.String("room_store", cfg.RoomStore))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_serve_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown")

	<-sched.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func openRoomStore(ctx context.Context, cfg *appcfg.AppConfig) (room.Store, func(), error) {
	switch cfg.RoomStore {
	case "postgres":
		pg, err := room.OpenPG(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return pg, func() { _ = pg.Close() }, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return room.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
	default:
		return room.NewMemoryStore(), func() {}, nil
	}
}

// chainURL is the node endpoint for server-side reads and writes. When it is
// the relay upstream, the provider key is appended the same way the relay does.
func chainURL(cfg *appcfg.AppConfig) string {
	u := strings.TrimRight(cfg.ChainRPCURL, "/")
	if cfg.ChainRPCURL == cfg.RPCUpstreamURL && cfg.RPCUpstreamKey != "" {
		u += "/" + cfg.RPCUpstreamKey
	}
	return u
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}

func startActiveRefresh(ctx context.Context, cfg *appcfg.AppConfig, rec *escrow.Reconciler, logger *zap.Logger) (*cron.Cron, error) {
	cl := cronLogger{s: logger.Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	run := func() {
		rctx, cancel := context.WithTimeout(ctx, 45*time.Second)
		defer cancel()
		if _, err := rec.RefreshActive(rctx); err != nil {
			logger.Warn("active_refresh_error", zap.Error(err))
		}
	}
	if _, err := c.AddFunc(cfg.ActiveRefreshSpec, run); err != nil {
		return nil, err
	}
	c.Start()
	go run()
	logger.Info("cron_started", zap.String("spec", cfg.ActiveRefreshSpec))
	return c, nil
}
