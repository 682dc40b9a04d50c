package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"dispatchd.dev/internal/account"
	"dispatchd.dev/internal/agentreg"
	"dispatchd.dev/internal/audit"
	"dispatchd.dev/internal/dispatch"
	"dispatchd.dev/internal/httpapi"
	"dispatchd.dev/internal/identity"
	"dispatchd.dev/internal/obs"
	"dispatchd.dev/internal/risk"
	"dispatchd.dev/internal/store/pg"
	"dispatchd.dev/internal/wiring"
)

var version = "0.1.0"

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func main() {
	obs.Init()

	dsn := os.Getenv("DISPATCHD_PG_DSN")
	if dsn == "" {
		log.Fatal("DISPATCHD_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	auditSink, err := audit.NewSink(store.AuditStore())
	if err != nil {
		log.Fatalf("audit sink: %v", err)
	}

	users, err := identity.NewService(store.UserStore())
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}

	accounts, err := account.NewService(store.AccountStore(), auditSink)
	if err != nil {
		log.Fatalf("account service: %v", err)
	}

	riskSvc, err := risk.NewService(store.RuleStore(), store.ViolationStore(), store.ScoreStore(),
		wiring.AccountForRisk{Accounts: accounts}, auditSink)
	if err != nil {
		log.Fatalf("risk service: %v", err)
	}

	pollIntervalSeconds := envInt("DISPATCHD_POLL_INTERVAL_SECONDS", agentreg.DefaultPollIntervalSeconds)
	agents, err := agentreg.NewService(store.AgentStore(), store.TokenStore(),
		wiring.AccountForAgentReg{Accounts: accounts}, riskSvc, auditSink,
		agentreg.WithPollIntervalSeconds(pollIntervalSeconds))
	if err != nil {
		log.Fatalf("agentreg service: %v", err)
	}

	dispatchSvc, err := dispatch.NewService(store.DispatchStore(), riskSvc,
		wiring.AccountForDispatch{Accounts: accounts},
		wiring.AccountForDispatch{Accounts: accounts},
		wiring.RiskForDispatch{Risk: riskSvc},
		auditSink)
	if err != nil {
		log.Fatalf("dispatch service: %v", err)
	}

	// Reaper is optional and off by default (spec §5, §13(iii)): agent-side
	// timeout observance is the primary mechanism, this is only a backstop.
	var stopReaper func()
	if reaperIntervalSeconds := envInt("DISPATCHD_REAPER_INTERVAL", 0); reaperIntervalSeconds > 0 {
		graceSeconds := envInt("DISPATCHD_REAPER_GRACE", 60)
		reaper := dispatch.NewReaper(dispatchSvc,
			time.Duration(reaperIntervalSeconds)*time.Second,
			time.Duration(graceSeconds)*time.Second)
		stopReaper = reaper.Start()
	}

	httpAddr := os.Getenv("DISPATCHD_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, httpapi.Deps{
		Dispatch: dispatchSvc,
		Agents:   agents,
		Risk:     riskSvc,
		Accounts: accounts,
		Users:    users,
		Audit:    auditSink,
	})

	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting dispatchd-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if stopReaper != nil {
		stopReaper()
	}
	log.Println("Stopped")
}
