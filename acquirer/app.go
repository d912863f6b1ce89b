package acquirer

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"golang.org/x/exp/slog"

	"github.com/jonanatree/offlinepay/internal/middleware"
)

// App is the main application, it contains all the components of the acquirer service
// and is responsible for starting and stopping them.
type App struct {
	srv    *http.Server
	wg     *sync.WaitGroup
	Addr   string
	logger *slog.Logger
	config *Config
	store  Store
	closer func() error

	// open selects the settlement store; tests swap it to observe closing.
	open func() (Store, func() error, error)
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "acquirer"))

	if config == nil {
		config = DefaultConfig()
	}

	a := &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
	a.open = a.openStore
	return a
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	store, closer, err := a.open()
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.NewStructuredLogger(a.logger))

	svc := NewService(a.logger, store, a.config)
	api := NewAPI(svc)
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		if cerr := closer(); cerr != nil {
			a.logger.Error("closing store", "err", cerr)
		}
		return fmt.Errorf("listening tcp port: %w", err)
	}
	a.store = store
	a.closer = closer

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

// openStore picks the settlement store. PostgreSQL is the default; the memory store is
// refused unless explicitly allowed because it loses the processed-id set on restart.
func (a *App) openStore() (Store, func() error, error) {
	switch a.config.RepoBackend {
	case "pg":
		if a.config.DBDSN == "" {
			return nil, nil, fmt.Errorf("DB_DSN is required for pg backend")
		}
		db, err := sql.Open("postgres", a.config.DBDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		repo := NewPGRepository(db)
		if err := repo.Migrate(context.Background()); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, db.Close, nil
	case "redis":
		if a.config.RedisAddr == "" {
			return nil, nil, fmt.Errorf("REDIS_ADDR is required for redis backend")
		}
		repo := NewRedisRepository(a.config.RedisAddr, a.config.RedisPassword, a.config.RedisDB)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.Ping(ctx); err != nil {
			repo.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return repo, repo.Close, nil
	case "mem":
		if !a.config.AllowMemBackend {
			return nil, nil, fmt.Errorf("mem repository is disabled at runtime; set ALLOW_MEM_BACKEND_FOR_TESTS=true only in tests")
		}
		return NewRepository(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported REPO_BACKEND=%s", a.config.RepoBackend)
	}
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	if a.srv != nil {
		a.srv.Shutdown(context.Background())
	}

	a.wg.Wait()

	if a.closer != nil {
		if err := a.closer(); err != nil {
			a.logger.Error("closing store", "err", err)
		}
	}

	a.logger.Info("app stopped")
}
