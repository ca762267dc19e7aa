package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dealchain/core/events"
	"dealchain/core/state"
	"dealchain/gateway/middleware"
	"dealchain/native/deal"
	"dealchain/native/entity"
	"dealchain/native/offer"
	"dealchain/observability"
	"dealchain/observability/audit"
)

// WriteScope is the JWT scope required for mutating methods.
const WriteScope = "deals:write"

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rpcModule       = "dealchain"
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Deps are the components served over RPC. All of them share the state
// manager, which the server commits after every successful mutation.
type Deps struct {
	State    *state.Manager
	Ledger   *state.Ledger
	Registry *entity.Registry
	Engine   *deal.Engine
	Hasher   *offer.Hasher
	Audit    *audit.Store
}

// Config tunes the HTTP surface.
type Config struct {
	AuthToken string
	// JWT, when it carries a secret, additionally accepts HS256 tokens
	// granting WriteScope.
	JWT            middleware.JWTConfig
	AllowMint      bool
	RateLimit      middleware.RateLimit
	AllowedOrigins []string
	ServiceName    string
	LogRequests    bool
	Logger         *slog.Logger
	// Registerer receives HTTP collectors; Gatherer backs /metrics. Both
	// default to the prometheus globals.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

type handlerFunc func(ctx context.Context, s *Server, req *RPCRequest) (interface{}, error)

type method struct {
	handler  handlerFunc
	mutating bool
}

// Server exposes the registry, the deal engine and the ledger as JSON-RPC 2.0
// methods. Requests are executed one at a time.
type Server struct {
	deps      Deps
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
	methods   map[string]method
	router    chi.Router
	events    *events.Buffer
	jwt       *middleware.JWTVerifier
	mu        sync.Mutex
	requestID string
}

func NewServer(deps Deps, cfg Config) (*Server, error) {
	if deps.State == nil || deps.Ledger == nil || deps.Registry == nil || deps.Engine == nil {
		return nil, errors.New("rpc: state, ledger, registry and engine are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dealsd"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		deps:    deps,
		cfg:     cfg,
		logger:  cfg.Logger,
		tracer:  otel.Tracer(cfg.ServiceName),
		methods: methodTable(),
		jwt:     middleware.NewJWTVerifier(cfg.JWT),
		events:  events.NewBuffer(nil),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{"rpc": s.cfg.RateLimit}, s.logger)
	limiter.OnThrottle(func(route, _ string) {
		observability.ModuleMetrics().RecordThrottle(route, "rate_limit")
	})
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: s.cfg.ServiceName,
		LogRequests: s.cfg.LogRequests,
		Enabled:     true,
		Registerer:  s.cfg.Registerer,
	}, s.logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cfg.AllowedOrigins}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	r.With(obs.Middleware("rpc"), limiter.Middleware("rpc")).Post("/", s.handle)
	return r
}

// Handler returns the HTTP handler serving the RPC routes.
func (s *Server) Handler() http.Handler { return s.router }

// CurrentRequestID returns the id of the request being executed. It is only
// meaningful while called from within an operation, such as from an event
// emitter.
func (s *Server) CurrentRequestID() string { return s.requestID }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(s.router, s.cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc shutdown: %w", err)
		}
		return nil
	}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if m.mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			observability.ModuleMetrics().Observe(rpcModule, req.Method, authErr.Code, 0)
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	start := time.Now()
	result, err := s.execute(r.Context(), r.Header.Get(middleware.RequestIDHeader), req, m)
	if err != nil {
		status, code, message, data := describeError(err)
		observability.ModuleMetrics().Observe(rpcModule, req.Method, code, time.Since(start))
		if status >= http.StatusInternalServerError {
			s.logger.Error("rpc method failed",
				slog.String("method", req.Method),
				slog.Int("code", code),
				slog.Any("error", err))
		}
		writeError(w, status, req.ID, code, message, data)
		return
	}
	observability.ModuleMetrics().Observe(rpcModule, req.Method, 0, time.Since(start))
	writeResult(w, req.ID, result)
}

// SetEmitter sets the sink that receives events once the request producing
// them has been committed.
func (s *Server) SetEmitter(emitter events.Emitter) { s.events.SetTarget(emitter) }

// Emitter returns the per-request buffer the registry and engine should emit
// into. It is flushed after a successful commit and dropped otherwise.
func (s *Server) Emitter() events.Emitter { return s.events }

func (s *Server) emit(evt events.Event) {
	s.events.Emit(evt)
}

// execute runs one method under the server lock. Mutations are committed on
// success and discarded on failure.
func (s *Server) execute(ctx context.Context, requestID string, req *RPCRequest, m method) (interface{}, error) {
	ctx, span := s.tracer.Start(ctx, req.Method, trace.WithAttributes(
		attribute.String("rpc.method", req.Method),
		attribute.Bool("rpc.mutating", m.mutating),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestID = requestID
	defer func() { s.requestID = "" }()

	result, err := m.handler(ctx, s, req)
	if err != nil {
		s.deps.State.Discard()
		s.events.Drop()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if m.mutating {
		if commitErr := s.deps.State.Commit(); commitErr != nil {
			s.deps.State.Discard()
			s.events.Drop()
			span.RecordError(commitErr)
			span.SetStatus(codes.Error, commitErr.Error())
			return nil, fmt.Errorf("commit state: %w", commitErr)
		}
	}
	s.events.Flush()
	return result, nil
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.cfg.AuthToken == "" && s.jwt == nil {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if s.cfg.AuthToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1 {
		return nil
	}
	if s.jwt != nil {
		scopes, err := s.jwt.Verify(token)
		if err == nil {
			if middleware.HasScopes(scopes, WriteScope) {
				return nil
			}
			return &RPCError{Code: codeUnauthorized, Message: "token lacks " + WriteScope + " scope"}
		}
		s.logger.Debug("rpc: jwt rejected", slog.Any("error", err))
	}
	return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
}

func methodTable() map[string]method {
	read := func(h handlerFunc) method { return method{handler: h} }
	write := func(h handlerFunc) method { return method{handler: h, mutating: true} }
	return map[string]method{
		"entity_register":        write(handleEntityRegister),
		"entity_changeSigner":    write(handleEntityChangeSigner),
		"entity_toggle":          write(handleEntityToggle),
		"entity_addDeposit":      write(handleEntityAddDeposit),
		"entity_withdrawDeposit": write(handleEntityWithdrawDeposit),
		"entity_get":             read(handleEntityGet),
		"entity_isEnabled":       read(handleEntityIsEnabled),
		"entity_balanceOf":       read(handleEntityBalanceOf),
		"deal_create":            write(handleDealCreate),
		"deal_claim":             write(handleDealClaim),
		"deal_reject":            write(handleDealReject),
		"deal_cancel":            write(handleDealCancel),
		"deal_refund":            write(handleDealRefund),
		"deal_checkIn":           write(handleDealCheckIn),
		"deal_checkOut":          write(handleDealCheckOut),
		"deal_dispute":           write(handleDealDispute),
		"deal_get":               read(handleDealGet),
		"offer_hash":             read(handleOfferHash),
		"ledger_balanceOf":       read(handleLedgerBalanceOf),
		"ledger_allowance":       read(handleLedgerAllowance),
		"ledger_nonce":           read(handleLedgerNonce),
		"ledger_totalSupply":     read(handleLedgerTotalSupply),
		"ledger_transfer":        write(handleLedgerTransfer),
		"ledger_approve":         write(handleLedgerApprove),
		"ledger_mint":            write(handleLedgerMint),
		"audit_list":             read(handleAuditList),
		"audit_verify":           read(handleAuditVerify),
	}
}
