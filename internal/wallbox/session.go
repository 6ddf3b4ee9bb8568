package wallbox

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/metrics"
)

// sessionClient is the slice of the vendor client the session manager
// needs; narrowed for testability.
type sessionClient interface {
	Signin(ctx context.Context, email, password string) (Session, error)
	Refresh(ctx context.Context, refreshToken string) (Session, error)
}

// SessionManager owns the single live session. It is the sole mutator;
// everything else borrows a token through EnsureValidToken and must
// re-fetch rather than cache it across blocking calls.
type SessionManager struct {
	client           sessionClient
	email            string
	password         string
	logger           *zap.Logger
	showUserMessages bool
	now              func() time.Time

	mu      sync.Mutex
	session Session
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithUserMessages raises token lifecycle logs from debug to info.
func WithUserMessages(show bool) SessionOption {
	return func(m *SessionManager) { m.showUserMessages = show }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

// NewSessionManager creates a session manager for the given credentials.
func NewSessionManager(client sessionClient, email, password string, logger *zap.Logger, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		client:   client,
		email:    email,
		password: password,
		logger:   logger.With(zap.String("component", "session")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SignIn performs the initial credential exchange and installs the session.
func (m *SessionManager) SignIn(ctx context.Context) (Session, error) {
	span := tracer.StartSpan("session.signin")
	defer span.Finish()

	session, err := m.client.Signin(ctx, m.email, m.password)
	if err != nil {
		span.SetTag("error", err.Error())
		return Session{}, err
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues("signin").Inc()
	m.logExpiry("signed in", session)
	return session, nil
}

// EnsureValidToken returns a token that is valid right now. A cached
// unexpired token is returned with no network call. An expired token is
// refreshed; a refresh rejected with 401 falls back to a full sign-in.
// It fails with *AuthError only when the session could not be renewed.
func (m *SessionManager) EnsureValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Token != "" && !m.session.Expired(m.now()) {
		metrics.TokenRefreshes.WithLabelValues("cached").Inc()
		return m.session.Token, nil
	}

	span := tracer.StartSpan("session.renew")
	defer span.Finish()

	refreshed, refreshErr := m.client.Refresh(ctx, m.session.RefreshToken)
	if refreshErr == nil {
		m.session = refreshed
		metrics.TokenRefreshes.WithLabelValues("refreshed").Inc()
		m.logExpiry("refreshed existing token", refreshed)
		return refreshed.Token, nil
	}

	var httpErr *HTTPError
	if errors.As(refreshErr, &httpErr) && httpErr.Code == http.StatusUnauthorized {
		// refresh token itself expired, start over with credentials
		fresh, signinErr := m.client.Signin(ctx, m.email, m.password)
		if signinErr != nil {
			span.SetTag("error", signinErr.Error())
			return "", &AuthError{RefreshErr: refreshErr, SigninErr: signinErr}
		}
		m.session = fresh
		metrics.TokenRefreshes.WithLabelValues("signin").Inc()
		m.logExpiry("retrieved new token", fresh)
		return fresh.Token, nil
	}

	span.SetTag("error", refreshErr.Error())
	return "", &AuthError{RefreshErr: refreshErr}
}

// Snapshot returns a copy of the current session. Callers must not hold
// the token across blocking calls; re-fetch via EnsureValidToken instead.
func (m *SessionManager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// UserID returns the account id delivered with the session.
func (m *SessionManager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.UserID
}

func (m *SessionManager) logExpiry(event string, s Session) {
	now := m.now()
	fields := []zap.Field{
		zap.Float64("token_expires_minutes", s.Expiry.Sub(now).Minutes()),
		zap.Float64("refresh_token_expires_days", s.RefreshExpiry.Sub(now).Hours()/24),
	}
	if m.showUserMessages {
		m.logger.Info(event, fields...)
	} else {
		m.logger.Debug(event, fields...)
	}
}
