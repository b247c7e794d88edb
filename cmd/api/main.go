package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/application"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/credential"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/docstore"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/membership"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/stats"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/update"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-membership-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-membership-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-membership-go/pkg/utilities"
)

func main() {
	// best-effort: without a .env file the real environment is used
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	if err := run(sugar); err != nil {
		sugar.Errorw("service stopped", "err", err)
		_ = lg.Sync()
		os.Exit(1)
	}
}

func run(sugar *zap.SugaredLogger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	caps, err := cfg.Capabilities()
	if err != nil {
		return err
	}
	sugar.Infow("starting service-membership-go", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]func(context.Context) error{}

	var docs docstore.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		sugar.Warn("using in-memory document store; data is lost on exit")
		docs = docstore.NewMemory()
	default:
		dbCfg, err := database.ConfigFromEnv()
		if err != nil {
			return err
		}
		db, err := database.ConnectX(dbCfg)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()

		pg := docstore.NewPostgres(db)
		if err := pg.EnsureTable(ctx); err != nil {
			return err
		}
		go func() {
			if err := pg.Watch(ctx, dbCfg.DSN, sugar); err != nil {
				sugar.Errorw("docstore listener stopped", "err", err)
			}
		}()
		checks["store"] = pg.Ping
		docs = pg
	}

	clock := clockwork.NewRealClock()
	var sessStore session.Store
	if cfg.RedisURL != "" {
		rs, err := session.NewRedisStore(cfg.RedisURL, clock)
		if err != nil {
			return err
		}
		defer rs.Close()
		checks["sessions"] = rs.Ping
		sessStore = rs
	} else {
		sugar.Warn("REDIS_URL not set; sessions are kept in memory")
		sessStore = session.NewMemoryStore(clock)
	}
	sessions := session.NewManager(session.NewIssuer(cfg.SessionSecret, cfg.SessionIssuer, clock), sessStore, cfg.SessionTTL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	creds := credential.NewStore(docs, credential.BcryptHasher{Cost: cfg.BcryptCost}, clock, cfg.PasswordMinLength)
	users := user.NewService(userrepo.NewUserRepo(docs), creds, caps, clock, sugar.Named("user"))
	apps := application.NewService(docs, users, caps, clock, sugar.Named("application"))
	feed := update.NewService(docs, users, caps, clock, sugar.Named("update"), update.NewMetrics(reg), cfg.FeedWindow)
	states := membership.NewRouter(users, apps, clock, sugar.Named("membership"))

	handler := router.RegisterRoutes(router.Deps{
		Logger:       sugar,
		Sessions:     sessions,
		Membership:   membership.NewHandler(users, states, sugar),
		Users:        user.NewHandler(users, sugar),
		Applications: application.NewHandler(apps, sugar),
		Updates:      update.NewHandler(feed, sugar),
		Stats:        stats.NewHandler(stats.NewService(users, apps, feed), sugar),
		Metrics:      router.NewMetrics(reg),
		Gatherer:     reg,
		Checks:       checks,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// event streams stay open, so no WriteTimeout
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	sugar.Info("service is running; press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	sugar.Info("shutting down")
	doneCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnw("http server shutdown failed", "err", err)
	}
	sugar.Info("goodbye")
	return nil
}
