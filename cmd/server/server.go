package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	ltiHandler "github.com/quipper/poc/lti/tool/internal/controller/http/lti"
	platformsSqlite "github.com/quipper/poc/lti/tool/internal/repositories/platforms/sqlite"
	selectionsSqlite "github.com/quipper/poc/lti/tool/internal/repositories/selections/sqlite"
	toolsSqlite "github.com/quipper/poc/lti/tool/internal/repositories/tools/sqlite"
	vsqliteRepo "github.com/quipper/poc/lti/tool/internal/repositories/validation"
	"github.com/quipper/poc/lti/tool/pkg/common/keys"
	"github.com/quipper/poc/lti/tool/pkg/common/logger"
	platformsRepo "github.com/quipper/poc/lti/tool/pkg/repositories/platforms"
)

func main() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "debug"
	}
	logger.Initialize(level)
	logger.Info("starting tool server")

	// Initialize signing keys early so that if we generate a dev key,
	// the PEM export instructions are printed immediately at startup.
	if err := keys.Init(); err != nil {
		logger.Error("init keys: %v", err)
		os.Exit(1)
	}

	dbPath := os.Getenv("PLATFORMS_SQLITE_PATH")
	if dbPath == "" {
		dbPath = "./platforms.db"
	}
	platRepo, err := platformsSqlite.NewSQLiteRepo(dbPath)
	if err != nil {
		logger.Error("init platforms repo: %v", err)
		os.Exit(1)
	}

	tdbPath := os.Getenv("TOOLS_SQLITE_PATH")
	if tdbPath == "" {
		tdbPath = "./tools.db"
	}
	toolRepo, err := toolsSqlite.NewSQLiteRepo(tdbPath)
	if err != nil {
		logger.Error("init tools repo: %v", err)
		os.Exit(1)
	}

	sdbPath := os.Getenv("SELECTIONS_SQLITE_PATH")
	if sdbPath == "" {
		sdbPath = "./selections.db"
	}
	selRepo, err := selectionsSqlite.NewSQLiteRepo(sdbPath)
	if err != nil {
		logger.Error("init selections repo: %v", err)
		os.Exit(1)
	}

	vdbPath := os.Getenv("VALIDATION_SQLITE_PATH")
	if vdbPath == "" {
		vdbPath = "./validation.db"
	}
	vrepo, err := vsqliteRepo.NewSQLiteRepo(vdbPath)
	if err != nil {
		logger.Error("init validation repo: %v", err)
		os.Exit(1)
	}

	seedPlatform(platRepo)

	h := ltiHandler.NewHandler(platRepo, toolRepo, selRepo, vrepo)
	router := chi.NewRouter()
	const maxBodySize = 2_100_000
	router.Use(middleware.RequestSize(maxBodySize))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	router.Mount("/", h.Router())

	port := os.Getenv("PORT")
	if port == "" {
		port = "3010"
	}
	addr := ":" + port
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		logger.Info("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown: %v", err)
	}
	platRepo.Disconnect()
	toolRepo.Disconnect()
	selRepo.Disconnect()
	vrepo.Disconnect()
	logger.Info("server stopped")
}

// seedPlatform registers the platform from environment at startup, when the
// full set of endpoints is configured. The outcome is logged explicitly so a
// wrong env var is visible at boot rather than at the first failing launch.
func seedPlatform(repo platformsRepo.Repository) {
	issuer := os.Getenv("PLATFORM_ISSUER")
	if issuer == "" {
		logger.Info("seedPlatform: PLATFORM_ISSUER not set, skipping platform registration")
		return
	}
	p := &platformsRepo.Platform{
		Name:          os.Getenv("PLATFORM_NAME"),
		Issuer:        issuer,
		ClientID:      os.Getenv("PLATFORM_CLIENT_ID"),
		AuthEndpoint:  os.Getenv("PLATFORM_AUTH_ENDPOINT"),
		TokenEndpoint: os.Getenv("PLATFORM_TOKEN_ENDPOINT"),
		KeySetURL:     os.Getenv("PLATFORM_JWKS_URL"),
		DeploymentIDs: os.Getenv("PLATFORM_DEPLOYMENT_IDS"),
	}
	if p.ClientID == "" || p.AuthEndpoint == "" || p.TokenEndpoint == "" || p.KeySetURL == "" {
		logger.Error("seedPlatform: incomplete registration for %s (need PLATFORM_CLIENT_ID, PLATFORM_AUTH_ENDPOINT, PLATFORM_TOKEN_ENDPOINT, PLATFORM_JWKS_URL)", issuer)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := repo.UpsertPlatform(ctx, p)
	if err != nil {
		logger.Error("seedPlatform: upsert %s failed: %v", issuer, err)
		return
	}
	if outcome == platformsRepo.OutcomeCreated {
		logger.Info("seedPlatform: registered new platform %s (id=%d)", issuer, p.ID)
	} else {
		logger.Info("seedPlatform: updated existing platform %s (id=%d)", issuer, p.ID)
	}
}
