package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/paygrid/settlecore/docs"
	"github.com/paygrid/settlecore/internal/account"
	"github.com/paygrid/settlecore/internal/api"
	"github.com/paygrid/settlecore/internal/audit"
	"github.com/paygrid/settlecore/internal/batch"
	"github.com/paygrid/settlecore/internal/channel"
	"github.com/paygrid/settlecore/internal/config"
	"github.com/paygrid/settlecore/internal/database"
	"github.com/paygrid/settlecore/internal/idempotency"
	"github.com/paygrid/settlecore/internal/ledger"
	"github.com/paygrid/settlecore/internal/models"
	"github.com/paygrid/settlecore/internal/processor"
	"github.com/paygrid/settlecore/internal/reconcile"
	"github.com/paygrid/settlecore/internal/validate"
)

// @title SettleCore API
// @version 1.0
// @description Transaction processing and multi-channel payment settlement core
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg := config.Load()

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Printf("Database unavailable, running with in-memory stores: %v", err)
		db = nil
	}
	redisClient := database.InitRedis(cfg.Redis)

	accounts := buildRegistry(db)
	if err := ensureClearingAccounts(accounts, cfg.Ledger, db); err != nil {
		log.Fatalf("Failed to provision clearing accounts: %v", err)
	}

	var ledgerStore ledger.Store
	var txStore processor.TxStore
	var auditStore audit.Store
	if db != nil {
		ledgerStore = ledger.NewPostgresStore(db)
		txStore = processor.NewPostgresTxStore(db)
		auditStore = audit.NewPostgresStore(db)
	} else {
		ledgerStore = ledger.NewMemoryStore(accounts)
		txStore = processor.NewMemoryTxStore()
		auditStore = audit.NewMemoryStore()
	}

	var guard idempotency.Guard
	if redisClient != nil {
		guard = idempotency.NewRedisGuard(redisClient, cfg.Idempotency.Retention)
	} else {
		guard = idempotency.NewMemoryGuard(cfg.Idempotency.Retention)
	}

	auditLog := audit.NewLog(auditStore)

	proc := processor.New(
		txStore,
		ledgerStore,
		accounts,
		guard,
		validate.LimitsFromConfig(cfg.Channels),
		cfg.Ledger,
		auditLog,
	)
	proc.RegisterAdapter(channel.NewUPIAdapter(cfg.Channels.UPI))
	proc.RegisterAdapter(channel.NewRTGSAdapter(cfg.Channels.RTGS))

	neft := channel.NewNEFTAdapter(cfg.Channels.NEFT, redisClient)
	scheduler := batch.NewScheduler(models.ChannelNEFT, cfg.Channels.NEFT.CycleInterval, neft, txStore)
	scheduler.Bind(proc)
	proc.BindBatches(scheduler)

	recon := reconcile.NewEngine(txStore, cfg.Reconciliation.SLA)
	recon.BindBatches(scheduler)
	proc.BindRecon(recon)

	ctx, stop := context.WithCancel(context.Background())
	go scheduler.Run(ctx)
	go recon.Run(ctx, sweepInterval(cfg.Reconciliation.SLA))

	handler := api.NewHandler(proc, ledgerStore, accounts, recon, auditLog, scheduler)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

func buildRegistry(db *sql.DB) account.Registry {
	if db != nil {
		return account.NewPostgresRegistry(db)
	}
	return account.NewMemoryRegistry()
}

// ensureClearingAccounts provisions the holding and nostro accounts on both
// backends; reservation and settlement postings cannot balance without them.
func ensureClearingAccounts(reg account.Registry, lc config.Ledger, db *sql.DB) error {
	ids := []string{lc.HoldingAccount}
	for _, id := range lc.NostroAccounts {
		ids = append(ids, id)
	}

	if pg, ok := reg.(*account.PostgresRegistry); ok && db != nil {
		return pg.EnsureClearingAccounts(context.Background(), "INR", ids...)
	}

	now := time.Now()
	for _, id := range ids {
		err := reg.Create(context.Background(), &models.Account{
			AccountID: id,
			Currency:  "INR",
			Status:    models.AccountActive,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// sweepInterval derives the sweep cadence from the SLA so records never sit
// stale for more than a fraction of the window.
func sweepInterval(sla time.Duration) time.Duration {
	if sla <= 0 {
		return time.Minute
	}
	interval := sla / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}
