package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/observability"
	"github.com/boddenberg/bill-expense-assistant/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var sessionTracer = otel.Tracer("service/session")

const (
	sessionCache     = "session"
	sessionTokenType = "session"
	tokenIssuer      = "bill-assistant"
)

// OrchestratorFactory builds the Orchestrator owned by a new session.
type OrchestratorFactory func(sessionID string) *Orchestrator

// SessionClaims are the claims carried by a session token.
type SessionClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// SessionManager owns one Orchestrator per user session. Sessions are held
// in memory only and are identified by a signed token.
type SessionManager struct {
	sessions port.Cache[*Orchestrator]
	factory  OrchestratorFactory
	secret   []byte
	ttl      time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(
	sessions port.Cache[*Orchestrator],
	factory OrchestratorFactory,
	secret string,
	ttl time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		factory:  factory,
		secret:   []byte(secret),
		ttl:      ttl,
		metrics:  metrics,
		logger:   logger,
	}
}

// Create starts a session with a fresh, empty Orchestrator.
func (s *SessionManager) Create(ctx context.Context) (*domain.SessionResponse, error) {
	_, span := sessionTracer.Start(ctx, "SessionManager.Create")
	defer span.End()

	id := uuid.NewString()
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	token, err := s.signToken(id, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	s.sessions.Set(id, s.factory(id))
	s.metrics.SetActiveSessions(s.sessions.Len())

	s.logger.Info("session created", zap.String("session_id", id))
	return &domain.SessionResponse{SessionID: id, Token: token, ExpiresAt: expiresAt.UTC()}, nil
}

// Get returns the session's Orchestrator. It does not extend the session;
// see Refresh.
func (s *SessionManager) Get(ctx context.Context, sessionID string) (*Orchestrator, error) {
	_, span := sessionTracer.Start(ctx, "SessionManager.Get")
	defer span.End()

	o, ok := s.sessions.Get(sessionID)
	if !ok {
		s.metrics.IncrCacheMiss(sessionCache)
		return nil, &domain.ErrNotFound{Resource: "session", ID: sessionID}
	}
	s.metrics.IncrCacheHit(sessionCache)
	return o, nil
}

// Refresh issues a new token for a live session and extends the session
// by one TTL from now. Token expiry and session expiry always move
// together, so a session lives until its newest token expires.
func (s *SessionManager) Refresh(ctx context.Context, sessionID string) (*domain.SessionResponse, error) {
	_, span := sessionTracer.Start(ctx, "SessionManager.Refresh")
	defer span.End()

	now := time.Now()
	expiresAt := now.Add(s.ttl)
	if !s.sessions.Touch(sessionID) {
		s.metrics.IncrCacheMiss(sessionCache)
		return nil, &domain.ErrNotFound{Resource: "session", ID: sessionID}
	}

	token, err := s.signToken(sessionID, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	s.logger.Debug("session refreshed", zap.String("session_id", sessionID))
	return &domain.SessionResponse{SessionID: sessionID, Token: token, ExpiresAt: expiresAt.UTC()}, nil
}

// End discards a session and everything it processed.
func (s *SessionManager) End(ctx context.Context, sessionID string) {
	_, span := sessionTracer.Start(ctx, "SessionManager.End")
	defer span.End()

	s.sessions.Delete(sessionID)
	s.metrics.SetActiveSessions(s.sessions.Len())
	s.logger.Info("session ended", zap.String("session_id", sessionID))
}

// ValidateToken verifies a session token and returns the session id.
func (s *SessionManager) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return "", &domain.ErrUnauthorized{Message: "invalid or expired session token"}
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", &domain.ErrUnauthorized{Message: "invalid session token"}
	}
	if claims.Type != sessionTokenType {
		return "", &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	return claims.Subject, nil
}

func (s *SessionManager) signToken(sessionID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := SessionClaims{
		Type: sessionTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
