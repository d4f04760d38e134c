// Package http serves the point-of-sale HTTP API: payment sessions and the
// reconciled transfer list.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	solanapay "github.com/coinbase/solanapay"
	ginmw "github.com/coinbase/solanapay/pkg/gin"
	"github.com/coinbase/solanapay/pkg/monitor"
	"github.com/coinbase/solanapay/pkg/sessionstore"
)

// SessionFactory creates a fully configured session for the merchant
type SessionFactory func() (*solanapay.PaymentSession, error)

// TransferSource is the read side of a TransactionReconciler
type TransferSource interface {
	Records() []solanapay.TransferRecord
	Loading() bool
}

// Server is the gin-based HTTP API
type Server struct {
	engine     *gin.Engine
	store      sessionstore.Store
	newSession SessionFactory
	transfers  TransferSource
	merchant   solanapay.MerchantConfig
	decimals   uint8
	metrics    *monitor.Metrics
	logger     *zap.Logger
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithTransferSource serves GET /transactions from source
func WithTransferSource(source TransferSource) ServerOption {
	return func(s *Server) {
		s.transfers = source
	}
}

// WithMetrics serves GET /metrics and records request metrics
func WithMetrics(metrics *monitor.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithLogger sets the access and error logger
func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDecimals sets the token's decimals used to validate amounts.
// Defaults to solanapay.SOLDecimals.
func WithDecimals(decimals uint8) ServerOption {
	return func(s *Server) {
		s.decimals = decimals
	}
}

// NewServer builds the router
func NewServer(merchant solanapay.MerchantConfig, store sessionstore.Store, newSession SessionFactory, opts ...ServerOption) *Server {
	s := &Server{
		store:      store,
		newSession: newSession,
		merchant:   merchant,
		decimals:   solanapay.SOLDecimals,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), ginmw.RequestMiddleware(
		ginmw.WithLogger(s.logger),
		ginmw.WithMetrics(s.metrics),
		ginmw.WithSkipPaths("/health", "/metrics"),
	))

	engine.GET("/health", s.health)
	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	sessions := engine.Group("/sessions")
	sessions.POST("", s.createSession)
	sessions.GET("/:id", s.getSession)
	sessions.PATCH("/:id", s.updateSession)
	sessions.POST("/:id/generate", s.generateSession)
	sessions.POST("/:id/reset", s.resetSession)
	sessions.DELETE("/:id", s.deleteSession)

	if s.transfers != nil {
		engine.GET("/transactions", s.listTransactions)
	}

	s.engine = engine
	return s
}

// Handler returns the http.Handler serving the API
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ============================================================================
// Responses
// ============================================================================

// SessionResponse is a session snapshot plus its payment URL once a
// reference has been issued
type SessionResponse struct {
	solanapay.SessionSnapshot
	URL string `json:"url,omitempty"`
}

// TransactionsResponse is the reconciled transfer list
type TransactionsResponse struct {
	Records []solanapay.TransferRecord `json:"records"`
	Loading bool                       `json:"loading"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func sessionResponse(session *solanapay.PaymentSession) SessionResponse {
	snap := session.Snapshot()
	resp := SessionResponse{SessionSnapshot: snap}
	if snap.Reference != nil {
		resp.URL = session.PaymentRequest().URL()
	}
	return resp
}

func (s *Server) abort(c *gin.Context, err error) {
	var sessionErr *solanapay.SessionError
	if !errors.As(err, &sessionErr) {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "internal_error",
			Message: "internal error",
		})
		return
	}

	status := http.StatusBadRequest
	switch sessionErr.Code {
	case solanapay.ErrCodeSessionNotFound:
		status = http.StatusNotFound
	case solanapay.ErrCodeSessionNotEditable:
		status = http.StatusConflict
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:    sessionErr.Code,
		Message: sessionErr.Message,
		Details: sessionErr.Details,
	})
}

func invalidRequest(errs []string) *solanapay.SessionError {
	return solanapay.NewSessionError(solanapay.ErrCodeInvalidRequest, "request body failed validation", map[string]interface{}{
		"errors": errs,
	})
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"recipient": s.merchant.Recipient.String(),
		"time":      time.Now().UTC(),
	})
}

func (s *Server) session(c *gin.Context) (*solanapay.PaymentSession, bool) {
	id := c.Param("id")
	session, ok := s.store.Get(id)
	if !ok {
		s.abort(c, solanapay.NewSessionError(solanapay.ErrCodeSessionNotFound, "session not found", map[string]interface{}{
			"id": id,
		}))
		return nil, false
	}
	return session, true
}

type createSessionRequest struct {
	Amount *string `json:"amount"`
	Memo   *string `json:"memo"`
}

func (s *Server) createSession(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.abort(c, invalidRequest([]string{err.Error()}))
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if result := ValidateCreateSession(body); !result.Valid {
		s.abort(c, invalidRequest(result.Errors))
		return
	}

	var req createSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.abort(c, invalidRequest([]string{err.Error()}))
		return
	}
	amount, err := s.parseAmount(req.Amount)
	if err != nil {
		s.abort(c, err)
		return
	}

	session, err := s.newSession()
	if err != nil {
		s.abort(c, err)
		return
	}
	if err := session.Update(solanapay.SessionUpdate{
		SetAmount: true,
		Amount:    amount,
		SetMemo:   true,
		Memo:      req.Memo,
	}); err != nil {
		session.Close()
		s.abort(c, err)
		return
	}

	s.store.Put(session)
	c.JSON(http.StatusCreated, sessionResponse(session))
}

func (s *Server) getSession(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionResponse(session))
}

// updateSession applies a merge patch: absent fields are kept, null clears
func (s *Server) updateSession(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		s.abort(c, invalidRequest([]string{err.Error()}))
		return
	}
	if result := ValidateUpdateSession(body); !result.Valid {
		s.abort(c, invalidRequest(result.Errors))
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		s.abort(c, invalidRequest([]string{err.Error()}))
		return
	}

	var update solanapay.SessionUpdate
	if raw, ok := fields["amount"]; ok {
		var value *string
		if err := json.Unmarshal(raw, &value); err != nil {
			s.abort(c, invalidRequest([]string{err.Error()}))
			return
		}
		amount, err := s.parseAmount(value)
		if err != nil {
			s.abort(c, err)
			return
		}
		update.SetAmount = true
		update.Amount = amount
	}

	if raw, ok := fields["memo"]; ok {
		var memo *string
		if err := json.Unmarshal(raw, &memo); err != nil {
			s.abort(c, invalidRequest([]string{err.Error()}))
			return
		}
		update.SetMemo = true
		update.Memo = memo
	}

	if err := session.Update(update); err != nil {
		s.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse(session))
}

func (s *Server) generateSession(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	if !session.Generate(c.Request.Context()) {
		s.abort(c, solanapay.NewSessionError(solanapay.ErrCodeSessionNotEditable, "a reference was already issued for this session", map[string]interface{}{
			"status": string(session.Status()),
		}))
		return
	}
	c.JSON(http.StatusOK, sessionResponse(session))
}

func (s *Server) resetSession(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	session.Reset()
	c.JSON(http.StatusOK, sessionResponse(session))
}

func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if !s.store.Delete(id) {
		s.abort(c, solanapay.NewSessionError(solanapay.ErrCodeSessionNotFound, "session not found", map[string]interface{}{
			"id": id,
		}))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listTransactions(c *gin.Context) {
	records := s.transfers.Records()
	if records == nil {
		records = []solanapay.TransferRecord{}
	}
	c.JSON(http.StatusOK, TransactionsResponse{
		Records: records,
		Loading: s.transfers.Loading(),
	})
}

// parseAmount converts a validated decimal string, checking it fits the
// token's decimals
func (s *Server) parseAmount(value *string) (*decimal.Decimal, error) {
	if value == nil {
		return nil, nil
	}
	amount, err := decimal.NewFromString(*value)
	if err != nil {
		return nil, solanapay.NewSessionError(solanapay.ErrCodeInvalidAmount, err.Error(), nil)
	}
	req := solanapay.TransferRequest{Recipient: s.merchant.Recipient, Amount: &amount}
	if err := req.Validate(s.decimals); err != nil {
		return nil, solanapay.NewSessionError(solanapay.ErrCodeInvalidAmount, err.Error(), map[string]interface{}{
			"decimals": s.decimals,
		})
	}
	return &amount, nil
}
