package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LoopVault/internal/config"
	"LoopVault/internal/engine"
	"LoopVault/internal/market"
	"LoopVault/internal/observability"
)

// Server exposes the engine over HTTP/JSON. Mutations require an API key;
// the key determines the caller identity the engine authorizes against.
type Server struct {
	engine   *engine.Engine
	registry *market.Registry
	health   *observability.HealthChecker
	metrics  *observability.Metrics
	log      zerolog.Logger

	ownerKey    string
	guardianKey string
	guardianID  uuid.UUID

	// One-time credential minted at ownership-transfer start. The pending
	// owner has no API key yet, so accepting requires presenting it.
	acceptMu    sync.Mutex
	acceptToken string

	httpServer *http.Server
}

func New(
	eng *engine.Engine,
	registry *market.Registry,
	roles config.Roles,
	healthChecker *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (*Server, error) {
	guardianID, err := uuid.Parse(roles.Guardian)
	if err != nil {
		return nil, fmt.Errorf("parse guardian id: %w", err)
	}

	return &Server{
		engine:      eng,
		registry:    registry,
		health:      healthChecker,
		metrics:     metrics,
		log:         log,
		ownerKey:    roles.OwnerAPIKey,
		guardianKey: roles.GuardianAPIKey,
		guardianID:  guardianID,
	}, nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.health.LivenessHandler)
	mux.HandleFunc("GET /readyz", s.health.ReadinessHandler)

	mux.HandleFunc("POST /api/v1/positions/open", s.instrument("open", s.handleOpen))
	mux.HandleFunc("POST /api/v1/positions/close", s.instrument("close", s.handleClose))
	mux.HandleFunc("GET /api/v1/positions/{owner}", s.instrument("position", s.handlePosition))
	mux.HandleFunc("GET /api/v1/positions/{owner}/health", s.instrument("health_factor", s.handleHealthFactor))
	mux.HandleFunc("GET /api/v1/positions/{owner}/balances", s.instrument("balances", s.handleBalances))

	mux.HandleFunc("GET /api/v1/strategy", s.instrument("strategy", s.handleStrategy))
	mux.HandleFunc("PUT /api/v1/strategy", s.instrument("update_strategy", s.handleUpdateStrategy))
	mux.HandleFunc("GET /api/v1/security", s.instrument("security", s.handleSecurity))
	mux.HandleFunc("GET /api/v1/risk", s.instrument("risk", s.handleRisk))
	mux.HandleFunc("GET /api/v1/protocols", s.instrument("protocols", s.handleProtocols))

	mux.HandleFunc("POST /api/v1/admin/pause", s.instrument("pause", s.handlePause))
	mux.HandleFunc("POST /api/v1/admin/unpause", s.instrument("unpause", s.handleUnpause))
	mux.HandleFunc("POST /api/v1/admin/compromise", s.instrument("compromise", s.handleCompromise))
	mux.HandleFunc("POST /api/v1/admin/reauthorize", s.instrument("reauthorize", s.handleReauthorize))
	mux.HandleFunc("POST /api/v1/admin/emergency-withdraw", s.instrument("emergency_withdraw", s.handleEmergencyWithdraw))
	mux.HandleFunc("POST /api/v1/admin/sweep", s.instrument("sweep", s.handleSweep))
	mux.HandleFunc("POST /api/v1/admin/ownership/start", s.instrument("ownership_start", s.handleOwnershipStart))
	mux.HandleFunc("POST /api/v1/admin/ownership/accept", s.instrument("ownership_accept", s.handleOwnershipAccept))

	return mux
}

// caller resolves the request's API key to an engine identity.
func (s *Server) caller(r *http.Request) (uuid.UUID, error) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		return uuid.Nil, engine.ErrUnauthorized
	}
	if s.ownerKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.ownerKey)) == 1 {
		return s.engine.Owner(), nil
	}
	if s.guardianKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.guardianKey)) == 1 {
		return s.guardianID, nil
	}
	return uuid.Nil, engine.ErrUnauthorized
}

func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.APIRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", rec.status)).Inc()
		s.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, engine.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, engine.ErrPositionConflict),
		errors.Is(err, engine.ErrReentrantCall):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrHealthViolation):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrEmergencyMode),
		errors.Is(err, engine.ErrCompromised),
		errors.Is(err, engine.ErrOperationGap):
		code = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrExternalCallFailed):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrInvalidInput, err)
	}
	return nil
}

func parseOwnerPath(r *http.Request) (uuid.UUID, error) {
	owner, err := uuid.Parse(r.PathValue("owner"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid owner id", engine.ErrInvalidInput)
	}
	return owner, nil
}

type openRequest struct {
	Amount      int64 `json:"amount"`
	TargetLoops int32 `json:"target_loops"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body openRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.engine.Open(r.Context(), engine.OpenRequest{
		OperationID: uuid.New(),
		CallerID:    caller,
		OwnerID:     caller,
		Amount:      body.Amount,
		TargetLoops: body.TargetLoops,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collateral_received": result.CollateralReceived,
		"borrowed_amount":     result.BorrowedAmount,
		"principal_claims":    result.PrincipalClaims,
		"yield_claims":        result.YieldClaims,
		"loop_count":          result.LoopCount,
		"health_factor":       result.HealthFactor,
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.engine.Close(r.Context(), engine.CloseRequest{
		OperationID: uuid.New(),
		CallerID:    caller,
		OwnerID:     caller,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"net_returned":   result.NetReturned,
		"profit_or_loss": result.ProfitOrLoss,
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	owner, err := parseOwnerPath(r)
	if err != nil {
		writeError(w, err)
		return
	}

	pos, ok := s.engine.Position(owner)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no open position"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner_id":               pos.OwnerID.String(),
		"collateral_amount":      pos.CollateralAmount,
		"borrowed_amount":        pos.BorrowedAmount,
		"principal_claim_amount": pos.PrincipalClaimAmount,
		"yield_claim_amount":     pos.YieldClaimAmount,
		"loop_count":             pos.LoopCount,
		"opened_at_us":           pos.OpenedAt,
		"status":                 pos.Status.String(),
	})
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, r *http.Request) {
	owner, err := parseOwnerPath(r)
	if err != nil {
		writeError(w, err)
		return
	}

	factor, err := s.engine.HealthFactor(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"health_factor": factor})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	owner, err := parseOwnerPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Balances(owner))
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Strategy()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collateral_asset":    st.CollateralAsset,
		"borrow_asset":        st.BorrowAsset,
		"principal_asset":     st.PrincipalAsset,
		"yield_asset":         st.YieldAsset,
		"lending_backend":     st.LendingBackend,
		"max_loops":           st.MaxLoops,
		"min_health_factor":   st.MinHealthFactor,
		"borrow_decay_factor": st.BorrowDecayFactor,
		"dust_threshold":      st.DustThreshold,
		"active":              st.Active,
	})
}

type updateStrategyRequest struct {
	CollateralAsset   string `json:"collateral_asset"`
	BorrowAsset       string `json:"borrow_asset"`
	PrincipalAsset    string `json:"principal_asset"`
	YieldAsset        string `json:"yield_asset"`
	LendingBackend    string `json:"lending_backend"`
	MaxLoops          int32  `json:"max_loops"`
	MinHealthFactor   int64  `json:"min_health_factor"`
	BorrowDecayFactor int64  `json:"borrow_decay_factor"`
	DustThreshold     int64  `json:"dust_threshold"`
	Active            bool   `json:"active"`
}

func (s *Server) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body updateStrategyRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	next := config.Strategy{
		CollateralAsset:   body.CollateralAsset,
		BorrowAsset:       body.BorrowAsset,
		PrincipalAsset:    body.PrincipalAsset,
		YieldAsset:        body.YieldAsset,
		LendingBackend:    body.LendingBackend,
		MaxLoops:          body.MaxLoops,
		MinHealthFactor:   body.MinHealthFactor,
		BorrowDecayFactor: body.BorrowDecayFactor,
		DustThreshold:     body.DustThreshold,
		Active:            body.Active,
	}

	if err := s.engine.UpdateStrategy(uuid.New(), caller, next); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Server) handleSecurity(w http.ResponseWriter, r *http.Request) {
	status := s.engine.SecurityStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"compromised":        status.Compromised,
		"compromised_reason": status.CompromisedReason,
		"emergency_mode":     status.EmergencyMode,
		"pause_reason":       status.PauseReason,
		"last_authorized_at": status.LastAuthorizedAt,
		"max_operation_gap":  status.MaxOperationGap.String(),
	})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Risk())
}

func (s *Server) handleProtocols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Protocols())
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body reasonRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	if err := s.engine.Pause(uuid.New(), caller, body.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.engine.Unpause(uuid.New(), caller); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleCompromise(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body reasonRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	if err := s.engine.DeclareCompromised(uuid.New(), caller, body.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"compromised": true})
}

func (s *Server) handleReauthorize(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.engine.Reauthorize(uuid.New(), caller); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reauthorized": true})
}

type emergencyWithdrawRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"` // 0 drains the engine balance
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body emergencyWithdrawRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	moved, err := s.engine.EmergencyWithdraw(r.Context(), engine.EmergencyWithdrawRequest{
		OperationID: uuid.New(),
		CallerID:    caller,
		Asset:       body.Asset,
		Amount:      body.Amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"withdrawn": moved})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = caller // Any authenticated key may trigger a sweep

	liquidated, err := s.engine.SweepUnhealthy(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"liquidated": liquidated})
}

type ownershipStartRequest struct {
	NewOwner string `json:"new_owner"`
}

func (s *Server) handleOwnershipStart(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body ownershipStartRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	newOwner, err := uuid.Parse(body.NewOwner)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid new owner id", engine.ErrInvalidInput))
		return
	}

	if err := s.engine.StartOwnershipTransfer(uuid.New(), caller, newOwner); err != nil {
		writeError(w, err)
		return
	}

	token, err := newAcceptToken()
	if err != nil {
		writeError(w, err)
		return
	}
	s.acceptMu.Lock()
	s.acceptToken = token
	s.acceptMu.Unlock()

	// The current owner hands the token to the pending owner out of band
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transfer_started": true,
		"accept_token":     token,
	})
}

func newAcceptToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint accept token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

type ownershipAcceptRequest struct {
	CallerID    string `json:"caller_id"`
	AcceptToken string `json:"accept_token"`
}

func (s *Server) handleOwnershipAccept(w http.ResponseWriter, r *http.Request) {
	var body ownershipAcceptRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	s.acceptMu.Lock()
	expected := s.acceptToken
	s.acceptMu.Unlock()
	if expected == "" ||
		subtle.ConstantTimeCompare([]byte(body.AcceptToken), []byte(expected)) != 1 {
		writeError(w, engine.ErrUnauthorized)
		return
	}

	caller, err := uuid.Parse(body.CallerID)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid caller id", engine.ErrInvalidInput))
		return
	}

	if err := s.engine.AcceptOwnership(uuid.New(), caller); err != nil {
		writeError(w, err)
		return
	}

	s.acceptMu.Lock()
	s.acceptToken = ""
	s.acceptMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]bool{"transferred": true})
}
