package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"posfusion/internal/cache"
	"posfusion/internal/classify"
	"posfusion/internal/composition"
	"posfusion/internal/config"
	"posfusion/internal/decompose"
	"posfusion/internal/httpapi"
	"posfusion/internal/resolver"
	"posfusion/internal/service"
	"posfusion/internal/store"
	"posfusion/internal/store/memory"
	pgstore "posfusion/internal/store/postgres"
	sqlitestore "posfusion/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("repository unavailable: %v", err)
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	snapshots := cache.SnapshotCache(cache.NoopSnapshotCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSnapshotCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), snapshots disabled", err)
		} else {
			snapshots = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("snapshots: redis")
		}
	} else {
		log.Println("snapshots: noop")
	}
	snapshotTTL := time.Duration(cfg.SnapshotTTLHours) * time.Hour

	registry := composition.NewRegistry(repo, composition.Options{
		Snapshots:    snapshots,
		SnapshotTTL:  snapshotTTL,
		FallbackFile: cfg.CompositionsFallbackFile,
	})
	engine := decompose.New(resolver.New(resolverRules(cfg.ResolverRulesFile)))
	classifier := classify.New(classifyRules(cfg.ClassifyRulesFile))

	svc := service.New(repo, registry, engine, classifier, service.Options{
		Snapshots:           snapshots,
		SnapshotTTL:         snapshotTTL,
		CatalogFallbackFile: cfg.CatalogFile,
		ExportsKeep:         cfg.ExportsKeep,
		PricesInCents:       cfg.PricesInCents,
	})
	svc.Init(ctx)

	auth, err := newAuthManager(cfg)
	if err != nil {
		log.Fatalf("auth setup failed: %v", err)
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("posfusion listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// openRepository selects the backend named by STORE_BACKEND. A configured
// database that cannot be reached is fatal; there is no silent in-memory
// fallback.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	switch cfg.StoreBackend {
	case "", "memory":
		log.Println("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		log.Println("repository: postgres")
		return pg, pg.Close, nil
	case "sqlite":
		lite, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		log.Printf("repository: sqlite (%s)", cfg.SQLitePath)
		return lite, lite.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func resolverRules(path string) []resolver.FamilyRule {
	if path == "" {
		return resolver.DefaultRules()
	}
	rules, err := resolver.LoadRules(path)
	if err != nil {
		log.Printf("[resolver] WARN: %v, using built-in family rules", err)
		return resolver.DefaultRules()
	}
	return rules
}

func classifyRules(path string) []classify.Rule {
	if path == "" {
		return classify.DefaultRules()
	}
	rules, err := classify.LoadRules(path)
	if err != nil {
		log.Printf("[classify] WARN: %v, using built-in rules", err)
		return classify.DefaultRules()
	}
	return rules
}

func newAuthManager(cfg config.Config) (*httpapi.AuthManager, error) {
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	if err := auth.AddUser(cfg.AdminUsername, cfg.AdminPassword, httpapi.RoleAdmin); err != nil {
		return nil, fmt.Errorf("admin account: %w", err)
	}
	if cfg.ViewerUsername != "" {
		if err := auth.AddUser(cfg.ViewerUsername, cfg.ViewerPassword, httpapi.RoleViewer); err != nil {
			return nil, fmt.Errorf("viewer account: %w", err)
		}
	}
	return auth, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AdminPassword == "" {
		return fmt.Errorf("ADMIN_PASSWORD must be set")
	}
	if len(cfg.AdminPassword) < 8 && !isBcryptHash(cfg.AdminPassword) {
		return fmt.Errorf("ADMIN_PASSWORD must be at least 8 characters")
	}
	if cfg.ViewerUsername != "" && cfg.ViewerPassword == "" {
		return fmt.Errorf("VIEWER_PASSWORD must be set when VIEWER_USERNAME is")
	}
	return nil
}

func isBcryptHash(value string) bool {
	return len(value) == 60 && value[0] == '$' && value[1] == '2'
}
