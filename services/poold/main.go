package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"marginpool/native/bank"
	"marginpool/native/orderbook"
	"marginpool/native/pool"
	"marginpool/observability/logging"
	"marginpool/services/poold/config"
	"marginpool/services/poold/server"
	"marginpool/storage"
	"marginpool/tokens"
)

const (
	primaryRouterFeeBps   = 30
	secondaryRouterFeeBps = 50
	oracleFreshness       = time.Minute
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/poold/config.yaml", "path to poold config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("POOLD_ENV"))
	logger := logging.Setup("poold", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if env == "" && cfg.Environment != "" {
		logger = logging.Setup("poold", cfg.Environment)
	}

	var db storage.Database
	if cfg.DataDir == ":memory:" {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			log.Fatalf("open database at %s: %v", cfg.DataDir, err)
		}
		db = leveldb
	}
	defer db.Close()

	store := storage.NewStateStore()
	if err := store.Load(db); err != nil {
		log.Fatalf("load state: %v", err)
	}

	assets := bank.New()
	identities := pool.Identities{
		Configurator: common.HexToAddress(cfg.Identities.Configurator),
		OrderBook:    common.HexToAddress(cfg.Identities.OrderBook),
		Treasury:     common.HexToAddress(cfg.Identities.Treasury),
	}
	custody := common.HexToAddress(cfg.Identities.Custody)
	engine := pool.NewEngine(store, assets, custody, identities)
	configurator := pool.AuthContext{Caller: identities.Configurator}

	// Configured prices feed the static oracle; the aggregator in front of it
	// caches observations so a future upstream outage stays survivable within
	// the freshness window.
	oracle := pool.NewStaticOracle()
	prices := pool.NewOracleAggregator(oracleFreshness)
	prices.Register("static", oracle)
	engine.SetOracle(prices)

	primary := pool.NewOracleRouter(derivedAddress("router/primary"), assets, prices, primaryRouterFeeBps)
	secondary := pool.NewOracleRouter(derivedAddress("router/secondary"), assets, prices, secondaryRouterFeeBps)
	engine.SetRouters(primary, secondary)

	if err := engine.SetBorrowFee(configurator, cfg.Fees.BorrowBps); err != nil {
		log.Fatalf("set borrow fee: %v", err)
	}
	if err := engine.SetWithdrawFee(configurator, cfg.Fees.WithdrawBps); err != nil {
		log.Fatalf("set withdraw fee: %v", err)
	}

	listed, err := store.ReserveList()
	if err != nil {
		log.Fatalf("read reserve list: %v", err)
	}
	known := make(map[common.Address]bool, len(listed))
	for _, asset := range listed {
		known[asset] = true
	}
	for _, rc := range cfg.Reserves {
		asset := common.HexToAddress(rc.Asset)
		depositAddr := derivedAddress("token/deposit/" + strings.ToLower(rc.Asset))
		debtAddr := derivedAddress("token/debt/" + strings.ToLower(rc.Asset))
		deposit := tokens.NewDeposit(depositAddr, asset, assets, custody)
		deposit.SetFinalizer(engine)
		debt := tokens.NewDebt(debtAddr)
		if known[asset] {
			if err := engine.AttachReserveTokens(configurator, asset, deposit, debt); err != nil {
				log.Fatalf("attach reserve %s: %v", rc.Asset, err)
			}
		} else {
			reserveCfg := pool.ReserveConfig{
				Active:               true,
				BorrowingEnabled:     rc.BorrowingEnabled,
				CollateralEnabled:    rc.CollateralEnabled,
				Decimals:             rc.Decimals,
				LTV:                  rc.LTV,
				LiquidationThreshold: rc.LiquidationThreshold,
				LiquidationBonus:     rc.LiquidationBonus,
			}
			if err := engine.InitReserve(configurator, asset, reserveCfg, depositAddr, deposit, debtAddr, debt); err != nil {
				log.Fatalf("init reserve %s: %v", rc.Asset, err)
			}
		}
		primary.RegisterAsset(asset, rc.Decimals)
		secondary.RegisterAsset(asset, rc.Decimals)
		if rc.Price != "" {
			price, ok := new(big.Int).SetString(rc.Price, 10)
			if !ok {
				log.Fatalf("reserve %s: invalid price %q", rc.Asset, rc.Price)
			}
			oracle.SetPrice(asset, price)
		}
	}

	bridge := common.HexToAddress(cfg.BridgeAsset)
	manager := pool.NewLiquidationEngine(engine, primary, bridge, derivedAddress("liquidation/custody"))
	if err := engine.SetCollateralManager(configurator, manager); err != nil {
		log.Fatalf("set collateral manager: %v", err)
	}

	feeAsset := bridge
	if cfg.FeeAsset != "" {
		feeAsset = common.HexToAddress(cfg.FeeAsset)
	}
	book := orderbook.NewBook(identities.OrderBook, feeAsset, assets, engine, primary)
	if err := book.SetStore(store); err != nil {
		log.Fatalf("load orders: %v", err)
	}

	srv := server.New(engine, book, assets, store, db, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("poold listening", "addr", cfg.ListenAddress, "reserves", len(cfg.Reserves))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}
	if err := store.Persist(db); err != nil {
		logger.Error("final persist", "error", err)
	}
}

// derivedAddress deterministically names an internal account so deployments
// agree on token and venue identities without key material.
func derivedAddress(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("marginpool/" + label))[12:])
}
