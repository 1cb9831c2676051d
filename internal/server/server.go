// Package server exposes the unified agent store, fee math and on-demand
// reconciliation over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/inft-marketplace/internal/connection"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
	"github.com/smartdevs17/inft-marketplace/internal/marketplace"
	"github.com/smartdevs17/inft-marketplace/internal/metrics"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/internal/monitor"
	"github.com/smartdevs17/inft-marketplace/internal/reconcile"
	"github.com/smartdevs17/inft-marketplace/internal/storage"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
	Version       string        `json:"version"`
}

// AgentService is the unified agent store
type AgentService interface {
	Create(ctx context.Context, in *models.AgentInput) (*models.UnifiedAgent, error)
	Get(ctx context.Context, id string) (*models.UnifiedAgent, error)
	List(ctx context.Context, filter models.AgentFilter) ([]*models.UnifiedAgent, error)
	Update(ctx context.Context, id string, patch *models.AgentPatch, requester string) (*models.UnifiedAgent, error)
	MarkSold(ctx context.Context, id, buyer string) (*models.UnifiedAgent, error)
}

// Deps are the components behind the routes. Only Agents is required; chain
// routes answer 503 when Marketplace or Engine is nil. FeeBps is used as
// given, so zero means no platform fee.
type Deps struct {
	Agents      AgentService
	Store       storage.AgentStore
	FeeBps      uint64
	Marketplace *contracts.Marketplace
	Engine      *reconcile.Engine
	Watcher     *monitor.ListingWatcher
	Connection  *connection.ConnectionManager
	Gatherer    prometheus.Gatherer
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	deps           Deps
	server         *http.Server
	router         *mux.Router
	metricsManager *metrics.Manager
	logger         *logrus.Entry
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(config *ServerConfig, deps Deps, metricsManager *metrics.Manager) *HTTPServer {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if config.Version == "" {
		config.Version = "1.0.0"
	}

	s := &HTTPServer{
		config:         config,
		deps:           deps,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("server"),
	}
	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the router, mainly for tests
func (s *HTTPServer) Handler() http.Handler { return s.router }

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
	}
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Agent endpoints
	api.HandleFunc("/agents", s.listAgentsHandler).Methods("GET")
	api.HandleFunc("/agents", s.createAgentHandler).Methods("POST")
	api.HandleFunc("/agents", s.updateAgentHandler).Methods("PUT")
	api.HandleFunc("/agents", s.markSoldHandler).Methods("DELETE")
	api.HandleFunc("/agents/{id}", s.getAgentHandler).Methods("GET")

	// Marketplace endpoints
	api.HandleFunc("/marketplace/fees", s.feesHandler).Methods("GET")
	api.HandleFunc("/marketplace/listings/{id:[0-9]+}", s.getListingHandler).Methods("GET")

	// Reconciliation endpoints
	api.HandleFunc("/reconcile/listing", s.reconcileListingHandler).Methods("POST")
	api.HandleFunc("/reconcile/contract", s.reconcileContractHandler).Methods("POST")

	// preflight requests only need the CORS headers
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		s.updateComponentHealth(context.Background())
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// surface immediate bind errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) updateComponentHealth(ctx context.Context) map[string]bool {
	health := map[string]bool{"agents": true}
	if s.deps.Store != nil {
		health["storage"] = s.deps.Store.Ping() == nil
	}
	if s.deps.Marketplace != nil {
		_, err := s.deps.Marketplace.NextListingID(ctx)
		health["chain"] = err == nil
	}
	if s.deps.Watcher != nil {
		health["monitor"] = s.deps.Watcher.IsRunning()
	}

	prom := s.metricsManager.GetPrometheusMetrics()
	for component, ok := range health {
		prom.UpdateComponentHealth(component, ok)
	}
	return health
}

// Health Handlers

// healthHandler reports component health. A failing durable store only
// degrades the service since the memory fallback keeps serving.
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	components := s.updateComponentHealth(r.Context())
	status := "healthy"
	for _, ok := range components {
		if !ok {
			status = "degraded"
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"version":    s.config.Version,
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp": time.Now().UTC(),
	}
	if s.deps.Store != nil {
		storageStats, err := s.deps.Store.GetStorageStats(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		stats["storage"] = storageStats
	}
	if s.deps.Watcher != nil {
		stats["monitor"] = s.deps.Watcher.GetStats()
	}
	if s.deps.Connection != nil {
		stats["connection"] = s.deps.Connection.Stats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// Agent Handlers

func (s *HTTPServer) listAgentsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AgentFilter{
		Creator:  q.Get("creator"),
		Owner:    q.Get("owner"),
		Category: q.Get("category"),
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid active filter", raw))
			return
		}
		filter.Active = &active
	}

	agents, err := s.deps.Agents.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if agents == nil {
		agents = []*models.UnifiedAgent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"agents":  agents,
		"total":   len(agents),
	})
}

func (s *HTTPServer) getAgentHandler(w http.ResponseWriter, r *http.Request) {
	agent, err := s.deps.Agents.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "agent": agent})
}

func (s *HTTPServer) createAgentHandler(w http.ResponseWriter, r *http.Request) {
	var in models.AgentInput
	if !s.decode(w, r, &in) {
		return
	}

	agent, err := s.deps.Agents.Create(r.Context(), &in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "agent": agent})
}

type updateRequest struct {
	ID          string             `json:"id"`
	Updates     *models.AgentPatch `json:"updates"`
	UserAddress string             `json:"userAddress"`
}

func (s *HTTPServer) updateAgentHandler(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Updates == nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Missing agent ID or updates", ""))
		return
	}

	agent, err := s.deps.Agents.Update(r.Context(), req.ID, req.Updates, req.UserAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "agent": agent})
}

type markSoldRequest struct {
	AgentID      string `json:"agentId"`
	BuyerAddress string `json:"buyerAddress"`
}

func (s *HTTPServer) markSoldHandler(w http.ResponseWriter, r *http.Request) {
	var req markSoldRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Missing agentId", ""))
		return
	}

	agent, err := s.deps.Agents.MarkSold(r.Context(), req.AgentID, req.BuyerAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Agent marked as sold",
		"agent":   agent,
	})
}

// Marketplace Handlers

func (s *HTTPServer) feesHandler(w http.ResponseWriter, r *http.Request) {
	price, err := models.ParseWei(r.URL.Query().Get("price"))
	if err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "price must be a non-negative wei amount", err.Error()))
		return
	}

	fee, sellerAmount := marketplace.CalculateFees(price, s.deps.FeeBps)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"price":        price.String(),
		"feeBps":       s.deps.FeeBps,
		"platformFee":  fee.String(),
		"sellerAmount": sellerAmount.String(),
		"display": map[string]string{
			"price":        models.WeiToPrice(price),
			"platformFee":  models.WeiToPrice(fee),
			"sellerAmount": models.WeiToPrice(sellerAmount),
		},
	})
}

func (s *HTTPServer) getListingHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Marketplace == nil {
		s.writeUnavailable(w, "Chain client is not configured")
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid listing id", err.Error()))
		return
	}

	listing, found, err := s.deps.Marketplace.GetListing(r.Context(), id)
	if err != nil {
		s.writeError(w, utils.WrapError(utils.ErrCodeBlockchain, "Failed to read listing", err))
		return
	}
	if !found {
		s.writeError(w, utils.NewAppError(utils.ErrCodeNotFound, "Listing not found", strconv.FormatUint(id, 10)))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "listing": listing})
}

// Reconciliation Handlers

type reconcileRequest struct {
	TxHash string `json:"txHash"`
}

func (s *HTTPServer) parseTxHash(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	if s.deps.Engine == nil {
		s.writeUnavailable(w, "Chain client is not configured")
		return common.Hash{}, false
	}
	var req reconcileRequest
	if !s.decode(w, r, &req) {
		return common.Hash{}, false
	}
	raw := strings.TrimSpace(req.TxHash)
	if len(raw) != 66 || !strings.HasPrefix(raw, "0x") {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "txHash must be a 32-byte hex string", raw))
		return common.Hash{}, false
	}
	return common.HexToHash(raw), true
}

func (s *HTTPServer) reconcileListingHandler(w http.ResponseWriter, r *http.Request) {
	txHash, ok := s.parseTxHash(w, r)
	if !ok {
		return
	}

	result, err := s.deps.Engine.RecoverListingID(r.Context(), txHash)
	if err != nil {
		s.writeError(w, utils.WrapError(utils.ErrCodeReconciliation, "Listing reconciliation failed", err))
		return
	}
	value := ""
	if result.Known() {
		value = strconv.FormatUint(result.ListingID, 10)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"known":     result.Known(),
		"listingId": result.ListingID,
		"method":    result.Method,
		"signature": result.Signature,
		"message":   reconcile.Describe("listing", result.Method, value, txHash),
	})
}

func (s *HTTPServer) reconcileContractHandler(w http.ResponseWriter, r *http.Request) {
	txHash, ok := s.parseTxHash(w, r)
	if !ok {
		return
	}

	result, err := s.deps.Engine.RecoverContractAddress(r.Context(), txHash)
	if err != nil {
		s.writeError(w, utils.WrapError(utils.ErrCodeReconciliation, "Contract reconciliation failed", err))
		return
	}
	address := ""
	if result.Known() {
		address = result.Hex()
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"known":     result.Known(),
		"address":   address,
		"method":    result.Method,
		"signature": result.Signature,
		"message":   reconcile.Describe("agent contract", result.Method, address, txHash),
	})
}

// Helpers

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid JSON body", err.Error()))
		return false
	}
	return true
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// statusFor maps application error codes to HTTP statuses
func statusFor(code string) int {
	switch code {
	case utils.ErrCodeValidation:
		return http.StatusBadRequest
	case utils.ErrCodeForbidden:
		return http.StatusForbidden
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	case utils.ErrCodeBlockchain, utils.ErrCodeConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes an error response in the {success, error} shape
func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	code := utils.ErrorCode(err)
	status := statusFor(code)

	message := "Internal server error"
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	resp := map[string]interface{}{
		"success": false,
		"error":   message,
		"code":    code,
	}
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("status", status).Error("HTTP error")
	} else {
		resp["details"] = err.Error()
	}
	s.writeJSON(w, status, resp)
}

func (s *HTTPServer) writeUnavailable(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
