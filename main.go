package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/api"
	"trading-core/internal/enginemgr"
	"trading-core/internal/exchange"
	"trading-core/internal/marketengine"
	"trading-core/internal/monitor"
	"trading-core/internal/orderstore"
	"trading-core/internal/recovery"
	"trading-core/internal/router"
	"trading-core/internal/sharedapi"
	"trading-core/internal/strategy"
	"trading-core/pkg/config"
	"trading-core/pkg/exchanges/upbit"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("🚀 starting trading-core")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if len(cfg.Markets) == 0 {
		log.Fatalf("no markets configured")
	}
	log.Printf("📋 loaded %d market(s) for strategy %q", len(cfg.Markets), cfg.StrategyID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rawAPI exchange.OrderAPI
	var dryRunAPI *exchange.DryRunAPI
	if cfg.DryRun {
		dryRunAPI = exchange.NewDryRunAPI(10_000_000)
		rawAPI = dryRunAPI
		log.Println("🧪 dry-run mode: orders are simulated in-memory")
	} else {
		rawAPI = upbit.New(upbit.Config{AccessKey: cfg.UpbitAccessKey, SecretKey: cfg.UpbitSecretKey})
	}
	sharedAPI := sharedapi.New(rawAPI, cfg.FacadeRPS, cfg.FacadeBurst)

	snapshot, err := sharedAPI.GetMyAccount(ctx)
	if err != nil {
		log.Fatalf("💥 failed to fetch initial account snapshot: %v", err)
	}

	acctMgr, err := account.NewManager(cfg.Account, cfg.MarketNames(), snapshot)
	if err != nil {
		log.Fatalf("💥 failed to construct account manager: %v", err)
	}

	rt := router.New(5000)
	mgr := enginemgr.New(
		enginemgr.Config{},
		acctMgr,
		upbit.ParseMyOrder,
		upbit.NewMarketDataParser(),
	)

	store := orderstore.New(4096)
	recoveryCfg := recovery.Config{CancelRetry: cfg.CancelRetry, VerifyRetry: cfg.VerifyRetry, RetryBackoff: cfg.RetryBackoff}

	for _, mc := range cfg.Markets {
		eng := marketengine.New(mc.Market, marketengine.Config{}, store, acctMgr, sharedAPI)
		strat := strategy.New(cfg.StrategyID, mc.Market, mc.Params)

		// StartupRecovery runs here, before the worker goroutine starts
		// ticking the market. The engine is bound to this goroutine first; the
		// worker rebinds it to its own goroutine when Start launches it.
		if err := eng.BindToCurrentThread(); err != nil {
			log.Printf("⚠️ %s: failed to bind engine for recovery: %v", mc.Market, err)
		} else {
			recovery.Run(ctx, sharedAPI, strat, cfg.StrategyID, mc.Market, recoveryCfg)
		}

		mgr.AddMarket(mc.Market, eng, strat, rt)
		log.Printf("🛠️  wired market %s", mc.Market)
	}

	// One more best-effort ledger sync against the exchange now that every
	// market's StartupRecovery has run, per spec.md §4.8's construction order.
	if postRecoverySnapshot, err := sharedAPI.GetMyAccount(ctx); err != nil {
		log.Printf("⚠️ post-recovery account sync failed, continuing with the pre-recovery ledger: %v", err)
	} else {
		acctMgr.SyncWithAccount(postRecoverySnapshot)
		log.Println("💰 account ledger synced with exchange after startup recovery")
	}

	mgr.Start()
	defer mgr.Stop()

	routeMarketData := func(raw string) {
		if !rt.RouteMarketData(raw) {
			log.Printf("⚠️ dropped unroutable market-data frame")
		}
	}
	routeMyOrder := func(raw string) {
		if !rt.RouteMyOrder(raw) {
			log.Printf("⚠️ dropped unroutable private order frame")
		}
	}

	stream := upbit.NewStream(cfg.UpbitAccessKey, cfg.UpbitSecretKey)
	markets := cfg.MarketNames()
	if !cfg.DryRun {
		go stream.RunMarketData(ctx, markets, routeMarketData)
		go stream.RunMyOrders(ctx, markets, routeMyOrder)
		log.Println("📡 subscribed to Upbit market-data and private order streams")
	} else {
		go upbit.SimulateMarketData(ctx, markets, 50_000_000, time.Second, dryRunAPI.UpdatePrice, routeMarketData)
		log.Println("📡 dry-run mode: simulating market data in-memory")
	}

	metrics := monitor.NewEngineMetrics()
	go metrics.Run(ctx, acctMgr, rt)

	server := api.NewOperatorServer(acctMgr, rt, metrics, store, sharedAPI, cfg.JWTSecret)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Printf("⚠️ operator API server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("🛑 shutting down")
}
