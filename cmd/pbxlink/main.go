package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pbxlink/pbxlink/internal/agent"
	"github.com/pbxlink/pbxlink/internal/api"
	"github.com/pbxlink/pbxlink/internal/call"
	"github.com/pbxlink/pbxlink/internal/config"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
	"github.com/pbxlink/pbxlink/internal/metrics"
	"github.com/pbxlink/pbxlink/internal/notify"
	"github.com/pbxlink/pbxlink/internal/recording"
)

// cleanupInterval is how often the recording retention sweep runs.
const cleanupInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting pbxlink",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Load system configuration from database.
	sysConfig, err := database.NewSystemConfigRepository(appCtx, db)
	if err != nil {
		slog.Error("failed to load system config", "error", err)
		os.Exit(1)
	}

	users := database.NewUserRepository(db)
	servers := database.NewServerRepository(db)
	pbxUsers := database.NewPbxUserRepository(db)
	partners := database.NewPartnerRepository(db)
	calls := database.NewCallRepository(db)
	recordings := database.NewRecordingRepository(db)

	if err := bootstrap(appCtx, users, servers, sysConfig); err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}

	// Agent transport per the configured connection mode.
	transport, mode, closeTransport, err := buildTransport(appCtx, servers, sysConfig)
	if err != nil {
		slog.Error("failed to set up agent transport", "error", err)
		os.Exit(1)
	}
	if closeTransport != nil {
		defer closeTransport()
	}

	dispatcher := agent.NewDispatcher(transport, mode, sysConfig, logger)
	registry := agent.NewCallbackRegistry(logger)
	hub := notify.NewHub(logger)

	manager := recording.NewManager(recordings, calls, partners, sysConfig, dispatcher, hub, cfg.DataDir, logger)
	manager.Register(registry)

	callHandler := call.NewHandler(calls, pbxUsers, users, manager, hub, logger)
	callHandler.Register(registry)

	originator := call.NewOriginator(servers, pbxUsers, partners, calls, sysConfig, dispatcher, logger)

	recording.StartCleanupTicker(appCtx, recordings, sysConfig, cleanupInterval)

	// Prometheus metrics over the live repositories.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(calls, recordings, hub, time.Now()))

	handler := api.NewServer(cfg, jwtSecret, api.Deps{
		Users:      users,
		Servers:    servers,
		PbxUsers:   pbxUsers,
		Partners:   partners,
		Calls:      calls,
		Recordings: recordings,
		SysConfig:  sysConfig,
		Dispatcher: dispatcher,
		Registry:   registry,
		Originator: originator,
		Manager:    manager,
		Hub:        hub,
		Metrics:    promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	}, logger)
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("pbxlink stopped")
}

// bootstrap seeds a fresh installation: an admin account, the server
// binding owned by it, and the instance UID. Existing installations are
// left untouched.
func bootstrap(ctx context.Context, users database.UserRepository, servers database.ServerRepository, sysConfig database.SystemConfigRepository) error {
	count, err := users.Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		password, err := randomToken()
		if err != nil {
			return err
		}
		hash, err := database.HashPassword(password)
		if err != nil {
			return err
		}
		admin := &models.User{
			Login:        "admin",
			Name:         "Administrator",
			PasswordHash: hash,
			IsInternal:   true,
		}
		if err := users.Create(ctx, admin); err != nil {
			return err
		}
		// Printed once; change it after first login.
		slog.Warn("created admin account", "login", "admin", "password", password)
	}

	srv, err := servers.GetDefault(ctx)
	if err != nil {
		return err
	}
	if srv == nil {
		admin, err := users.GetByLogin(ctx, "admin")
		if err != nil {
			return err
		}
		if admin == nil {
			if adminList, err := users.List(ctx); err != nil {
				return err
			} else if len(adminList) > 0 {
				admin = &adminList[0]
			}
		}
		if admin == nil {
			return fmt.Errorf("no user available to own the server binding")
		}
		token, err := randomToken()
		if err != nil {
			return err
		}
		srv = &models.Server{
			Name:              "PBX",
			UserID:            admin.ID,
			SecurityToken:     token,
			ConnectionMode:    agent.ModeWebhook,
			SIPProtocol:       "PJSIP",
			SIPPeerStartExten: "101",
		}
		if err := servers.Create(ctx, srv); err != nil {
			return err
		}
		slog.Info("created default server binding", "server_id", srv.ID)
	}

	uid, err := sysConfig.Get(ctx, database.ConfKeyInstanceUID)
	if err != nil {
		return err
	}
	if uid == "" {
		if err := sysConfig.Set(ctx, database.ConfKeyInstanceUID, uuid.NewString()); err != nil {
			return err
		}
	}
	return nil
}

// buildTransport selects the agent transport from the server's connection
// mode. The returned close func, if any, must be called on shutdown.
func buildTransport(ctx context.Context, servers database.ServerRepository, sysConfig database.SystemConfigRepository) (agent.Transport, string, func(), error) {
	srv, err := servers.GetDefault(ctx)
	if err != nil {
		return nil, "", nil, err
	}

	mode := agent.ModeWebhook
	agentURL := ""
	natsURL := ""
	if srv != nil {
		mode = srv.ConnectionMode
		agentURL = srv.AgentURL
		natsURL = srv.NATSURL
	}

	if mode == agent.ModeNATS {
		if natsURL == "" {
			natsURL = nats.DefaultURL
		}
		transport, err := agent.Connect(natsURL)
		if err != nil {
			return nil, "", nil, err
		}
		slog.Info("connected to nats", "url", natsURL)
		return transport, mode, transport.Close, nil
	}

	apiKey, _ := sysConfig.Get(ctx, database.ConfKeyAPIKey)
	instanceUID, _ := sysConfig.Get(ctx, database.ConfKeyInstanceUID)
	return agent.NewWebhookTransport(agentURL, apiKey, instanceUID), agent.ModeWebhook, nil, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
