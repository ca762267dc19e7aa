package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dealchain/cmd/internal/passphrase"
	"dealchain/config"
	"dealchain/core/events"
	"dealchain/core/state"
	"dealchain/crypto"
	"dealchain/gateway/middleware"
	"dealchain/native/deal"
	"dealchain/native/entity"
	"dealchain/native/offer"
	"dealchain/observability"
	"dealchain/observability/audit"
	"dealchain/observability/logging"
	telemetry "dealchain/observability/otel"
	"dealchain/rpc"
	"dealchain/storage"
)

const (
	operatorPassEnv = "DEAL_OPERATOR_PASS"
	rpcTokenEnv     = "DEAL_RPC_TOKEN"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file (toml or yaml)")
	allowMigrateFlag := flag.Bool("allow-migrate", false, "Allow starting with an older state schema and migrate it forward")
	migrateOnly := flag.Bool("migrate", false, "Apply pending state migrations and exit")
	flag.Parse()

	passSource := passphrase.NewSource(operatorPassEnv, "operator keystore")
	pass, err := passSource.Get()
	if err != nil {
		panic(fmt.Sprintf("Failed to resolve operator passphrase: %v", err))
	}

	cfg, err := config.Load(*configFile, config.WithKeystorePassphrase(pass))
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := cfg.Env
	if override := strings.TrimSpace(os.Getenv("DEAL_ENV")); override != "" {
		env = override
	}
	logger := logging.Setup("dealsd", env, logging.FileOptions{Path: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled() {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     cfg.Telemetry.Headers,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	key, err := crypto.LoadFromKeystore(cfg.OperatorKeystore, pass)
	if err != nil {
		logger.Error("Failed to load operator key", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	allowMigrate := cfg.AllowMigrate || *allowMigrateFlag
	n, err := buildNode(cfg, key.PubKey().Address().Array(), db, logger, allowMigrate || *migrateOnly)
	if err != nil {
		logger.Error("Failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}
	defer n.Close()

	if *migrateOnly {
		logger.Info("State migrations applied")
		return
	}

	logger.Info("Deal node initialised",
		slog.String("operator", crypto.AddressFromArray(crypto.AccountPrefix, n.operator).String()),
		slog.String("escrow", crypto.AddressFromArray(crypto.AccountPrefix, n.runtime.EscrowAccount).String()),
		slog.Int64("chain_id", n.runtime.ChainID))

	if err := n.server.Serve(ctx, cfg.RPCAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Deal node stopped")
}

// node holds the wired components of a running deal service.
type node struct {
	operator [20]byte
	runtime  *config.Runtime
	manager  *state.Manager
	ledger   *state.Ledger
	registry *entity.Registry
	engine   *deal.Engine
	hasher   *offer.Hasher
	audit    *audit.Store
	server   *rpc.Server
}

// Close releases the audit database. The state database is owned by the
// caller.
func (n *node) Close() {
	if n.audit != nil {
		_ = n.audit.Close()
	}
}

func buildNode(cfg *config.Config, operator [20]byte, db storage.Database, logger *slog.Logger, allowMigrate bool) (*node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	runtime, err := cfg.Runtime(operator)
	if err != nil {
		return nil, err
	}

	manager := state.NewManager(db)
	if err := prepareState(manager, allowMigrate, logger); err != nil {
		return nil, err
	}

	verifier := crypto.NewVerifier()
	for identity, policy := range runtime.Policies {
		if err := verifier.RegisterPolicy(identity, policy); err != nil {
			return nil, fmt.Errorf("register signer policy %s: %w",
				crypto.AddressFromArray(crypto.AccountPrefix, identity).String(), err)
		}
	}
	hasher := offer.NewHasher(runtime.ChainID, runtime.EscrowAccount)
	ledger := state.NewLedger(manager, verifier, hasher)

	store, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	registry := entity.NewRegistry()
	registry.SetState(manager)
	registry.SetLedger(ledger)
	registry.SetDepositAsset(runtime.DepositAsset)
	registry.SetVault(operator)
	for kind, amount := range runtime.MinDeposits {
		registry.SetMinDeposit(kind, amount)
	}

	engine := deal.NewEngine()
	engine.SetState(manager)
	engine.SetEntities(registry)
	engine.SetLedger(ledger)
	engine.SetVerifier(verifier)
	engine.SetHasher(hasher)
	engine.SetEscrowAccount(runtime.EscrowAccount)
	engine.SetClaimPeriod(runtime.ClaimPeriod)
	if err := engine.SetFees(runtime.Fees); err != nil {
		_ = store.Close()
		return nil, err
	}
	engine.Use(
		deal.LoggingHook{Logger: logger},
		observability.TransitionHook{Metrics: observability.Deals()},
	)

	token := cfg.RPCToken
	if override := strings.TrimSpace(os.Getenv(rpcTokenEnv)); override != "" {
		token = override
	}
	var jwtCfg middleware.JWTConfig
	if cfg.RPCJWT.Enable {
		secret := strings.TrimSpace(os.Getenv(cfg.RPCJWT.HSSecretEnv))
		if secret == "" {
			_ = store.Close()
			return nil, fmt.Errorf("rpc jwt enabled but %s is empty", cfg.RPCJWT.HSSecretEnv)
		}
		jwtCfg = middleware.JWTConfig{
			HMACSecret: secret,
			Issuer:     cfg.RPCJWT.Issuer,
			Audience:   cfg.RPCJWT.Audience,
			ClockSkew:  time.Duration(cfg.RPCJWT.MaxSkewSeconds) * time.Second,
		}
	}
	server, err := rpc.NewServer(rpc.Deps{
		State:    manager,
		Ledger:   ledger,
		Registry: registry,
		Engine:   engine,
		Hasher:   hasher,
		Audit:    store,
	}, rpc.Config{
		AuthToken: token,
		JWT:       jwtCfg,
		AllowMint: cfg.AllowLedgerMint,
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             cfg.RateLimitBurst,
		},
		AllowedOrigins: cfg.RPCAllowedOrigins,
		ServiceName:    cfg.Telemetry.ServiceName,
		LogRequests:    true,
		Logger:         logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sink := events.MultiEmitter{
		audit.Emitter{Store: store, Logger: logger, RequestID: server.CurrentRequestID},
		observability.NewMetricsEmitter(),
	}
	server.SetEmitter(sink)
	registry.SetEmitter(server.Emitter())
	engine.SetEmitter(server.Emitter())

	return &node{
		operator: operator,
		runtime:  runtime,
		manager:  manager,
		ledger:   ledger,
		registry: registry,
		engine:   engine,
		hasher:   hasher,
		audit:    store,
		server:   server,
	}, nil
}

// prepareState stamps a fresh database with the current schema and refuses
// to run against a mismatched one unless migrations are allowed.
func prepareState(m *state.Manager, allowMigrate bool, logger *slog.Logger) error {
	version, ok, err := m.StateVersion()
	if err != nil {
		return err
	}
	if !ok {
		from, to, err := m.Migrate()
		if err != nil {
			return err
		}
		logger.Info("Initialised state schema", slog.Uint64("from", uint64(from)), slog.Uint64("to", uint64(to)))
		return nil
	}
	if err := state.EnsureStateVersion(m, allowMigrate); err != nil {
		return err
	}
	if version == state.StateVersion {
		return nil
	}
	from, to, err := m.Migrate()
	if err != nil {
		if errors.Is(err, state.ErrStateVersionMismatch) {
			return fmt.Errorf("refusing to start: %w", err)
		}
		return err
	}
	logger.Info("Migrated state schema", slog.Uint64("from", uint64(from)), slog.Uint64("to", uint64(to)))
	return nil
}
