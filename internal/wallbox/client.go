package wallbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/metrics"
)

const (
	defaultUserEndpoint = "https://user-api.wall-box.com"
	defaultEndpoint     = "https://api.wall-box.com"

	userAgent     = "wallbox-bridge/1.0"
	partnerHeader = "wallbox"

	retryInitialInterval = 100 * time.Millisecond
)

// retryPolicy controls the per-endpoint retry behavior. Zero value means a
// single attempt.
type retryPolicy struct {
	attempts   int  // total attempts including the first
	retryOn401 bool // signin retries 401, refresh and status must not
}

// Per-endpoint policies mirroring the vendor portal's observed tolerances.
var (
	signinPolicy  = retryPolicy{attempts: 5, retryOn401: true}
	refreshPolicy = retryPolicy{attempts: 4}
	statusPolicy  = retryPolicy{attempts: 3}
)

// Client is a thin wrapper around the Wallbox vendor REST API. Each method
// attaches the bearer token it is given, decodes the endpoint's envelope
// once, and classifies the HTTP outcome into the error taxonomy.
type Client struct {
	httpClient      *http.Client
	userBase        string
	apiBase         string
	logger          *zap.Logger
	showAPIMessages bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURLs overrides the vendor endpoints, used by tests.
func WithBaseURLs(userBase, apiBase string) ClientOption {
	return func(c *Client) {
		c.userBase = userBase
		c.apiBase = apiBase
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIMessages enables debug logging of raw response bodies.
func WithAPIMessages(show bool) ClientOption {
	return func(c *Client) { c.showAPIMessages = show }
}

// NewClient creates a vendor API client.
func NewClient(logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userBase:   defaultUserEndpoint,
		apiBase:    defaultEndpoint,
		logger:     logger.With(zap.String("component", "wallbox_client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckEmail returns the account status for an email address ("confirmed"
// when the account is usable).
func (c *Client) CheckEmail(ctx context.Context, email string) (string, error) {
	var env emailEnvelope
	err := c.do(ctx, request{
		op:     "check_email",
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/users/emails/%s", c.userBase, email),
	}, &env, retryPolicy{})
	if err != nil {
		return "", err
	}
	return env.Data.Attributes.Status, nil
}

// Signin exchanges credentials for a fresh session.
func (c *Client) Signin(ctx context.Context, email, password string) (Session, error) {
	basic := base64.StdEncoding.EncodeToString([]byte(email + ":" + password))
	var env signinEnvelope
	err := c.do(ctx, request{
		op:     "signin",
		method: http.MethodGet,
		url:    c.userBase + "/users/signin",
		auth:   "Basic " + basic,
	}, &env, signinPolicy)
	if err != nil {
		return Session{}, err
	}
	return env.Data.Attributes.session(), nil
}

// Refresh exchanges the long-lived refresh token for a fresh session. A 401
// response surfaces unretried so the caller can fall back to a full signin.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	var env refreshEnvelope
	err := c.do(ctx, request{
		op:     "refresh",
		method: http.MethodGet,
		url:    c.userBase + "/users/refresh-token",
		auth:   "Bearer " + refreshToken,
	}, &env, refreshPolicy)
	if err != nil {
		return Session{}, err
	}
	return env.Data.Data.Attributes.session(), nil
}

// GetUserID resolves the account's internal numeric user id.
func (c *Client) GetUserID(ctx context.Context, token, id string) (string, error) {
	var env userIDEnvelope
	err := c.do(ctx, request{
		op:     "get_user_id",
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/v4/users/%s/id", c.apiBase, id),
		auth:   "Bearer " + token,
	}, &env, retryPolicy{})
	if err != nil {
		return "", err
	}
	return anyToString(env.Data.Attributes.Value), nil
}

// GetUser fetches account details and the access configs that tie the user
// to charger groups.
func (c *Client) GetUser(ctx context.Context, token, userID string) (UserInfo, error) {
	var env userEnvelope
	err := c.do(ctx, request{
		op:     "get_user",
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/v2/user/%s", c.apiBase, userID),
		auth:   "Bearer " + token,
	}, &env, retryPolicy{})
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{
		Name:          env.Data.Name,
		Surname:       env.Data.Surname,
		AccessConfigs: env.Data.AccessConfigs,
	}, nil
}

// GetChargerGroups lists the account's charger groups.
func (c *Client) GetChargerGroups(ctx context.Context, token string) ([]ChargerGroup, error) {
	var env groupsEnvelope
	err := c.do(ctx, request{
		op:     "get_groups",
		method: http.MethodGet,
		url:    c.apiBase + "/v3/chargers/groups",
		auth:   "Bearer " + token,
	}, &env, retryPolicy{})
	if err != nil {
		return nil, err
	}
	return env.Result.Groups, nil
}

// GetChargerModels lists model metadata for the chargers of a group.
func (c *Client) GetChargerModels(ctx context.Context, token string, groupID int) ([]ChargerModel, error) {
	var env chargerModelsEnvelope
	err := c.do(ctx, request{
		op:     "get_models",
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/perseus/organizations/%d/chargers", c.apiBase, groupID),
		auth:   "Bearer " + token,
	}, &env, retryPolicy{})
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// GetChargerStatus fetches the poll snapshot for one charger.
func (c *Client) GetChargerStatus(ctx context.Context, token string, chargerID int) (StatusSnapshot, error) {
	var env statusEnvelope
	err := c.do(ctx, request{
		op:     "get_status",
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/chargers/status/%d", c.apiBase, chargerID),
		auth:   "Bearer " + token,
	}, &env, statusPolicy)
	if err != nil {
		return StatusSnapshot{}, err
	}
	return env.decoded(), nil
}

// GetChargerData fetches the full device snapshot.
func (c *Client) GetChargerData(ctx context.Context, token string, chargerID int) (ChargerData, error) {
	var env chargerDataEnvelope
	err := c.do(ctx, request{
		op:     "get_data",
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/v2/charger/%d", c.apiBase, chargerID),
		auth:   "Bearer " + token,
	}, &env, retryPolicy{})
	if err != nil {
		return ChargerData{}, err
	}
	return env.Data.ChargerData.decoded(), nil
}

// GetChargerConfig fetches device configuration including firmware state.
func (c *Client) GetChargerConfig(ctx context.Context, token string, chargerID int) (ChargerConfig, error) {
	var cfg ChargerConfig
	err := c.do(ctx, request{
		op:     "get_config",
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/chargers/config/%d", c.apiBase, chargerID),
		auth:   "Bearer " + token,
	}, &cfg, retryPolicy{})
	if err != nil {
		return ChargerConfig{}, err
	}
	return cfg, nil
}

// SetLock writes the lock state and returns the updated snapshot.
func (c *Client) SetLock(ctx context.Context, token string, chargerID int, locked bool) (ChargerData, error) {
	var env chargerDataEnvelope
	err := c.do(ctx, request{
		op:     "set_lock",
		method: http.MethodPut,
		url:    fmt.Sprintf("%s/v2/charger/%d", c.apiBase, chargerID),
		auth:   "Bearer " + token,
		body:   map[string]bool{"locked": locked},
	}, &env, retryPolicy{})
	if err != nil {
		return ChargerData{}, err
	}
	return env.Data.ChargerData.decoded(), nil
}

// SetMaxCurrent writes the maximum charging current and returns the updated
// snapshot.
func (c *Client) SetMaxCurrent(ctx context.Context, token string, chargerID int, amps float64) (ChargerData, error) {
	var env chargerDataEnvelope
	err := c.do(ctx, request{
		op:     "set_current",
		method: http.MethodPut,
		url:    fmt.Sprintf("%s/v2/charger/%d", c.apiBase, chargerID),
		auth:   "Bearer " + token,
		body:   map[string]float64{"maxChargingCurrent": amps},
	}, &env, retryPolicy{})
	if err != nil {
		return ChargerData{}, err
	}
	return env.Data.ChargerData.decoded(), nil
}

// RemoteAction resumes or pauses charging.
func (c *Client) RemoteAction(ctx context.Context, token string, chargerID int, action RemoteAction) error {
	return c.do(ctx, request{
		op:     "remote_action",
		method: http.MethodPost,
		url:    fmt.Sprintf("%s/v3/chargers/%d/remote-action", c.apiBase, chargerID),
		auth:   "Bearer " + token,
		body:   map[string]int{"action": action.code()},
	}, nil, retryPolicy{})
}

type request struct {
	op     string
	method string
	url    string
	auth   string
	body   any
}

// do runs one vendor request under the endpoint's retry policy, decoding a
// 2xx body into out when out is non-nil. Non-retryable failures and
// exhausted retries surface the last error unmodified.
func (c *Client) do(ctx context.Context, req request, out any, policy retryPolicy) error {
	span := tracer.StartSpan("wallbox.request", tracer.Tag("operation", req.op))
	defer span.Finish()

	metrics.VendorCalls.WithLabelValues(req.op).Inc()

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = retryInitialInterval
	retries := 0
	if policy.attempts > 1 {
		retries = policy.attempts - 1
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(ebo, uint64(retries)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := c.once(ctx, req, out)
		if err == nil {
			return nil
		}
		if c.retryable(err, policy) {
			c.logger.Warn("request failed, retrying",
				zap.String("operation", req.op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, bo)
	if err != nil {
		span.SetTag("error", err.Error())
	}
	return err
}

// once performs a single HTTP exchange.
func (c *Client) once(ctx context.Context, req request, out any) error {
	var body io.Reader
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", req.op, err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", req.op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Partner", partnerHeader)
	if req.auth != "" {
		httpReq.Header.Set("Authorization", req.auth)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &NetworkError{Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: req.op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 504s are routine on the status endpoint and not worth a body dump
		if c.showAPIMessages && resp.StatusCode != http.StatusGatewayTimeout {
			c.logger.Debug("vendor error body",
				zap.String("operation", req.op),
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", raw),
			)
		}
		return &HTTPError{Op: req.op, Code: resp.StatusCode, Body: string(raw)}
	}

	if c.showAPIMessages {
		c.logger.Debug("vendor response",
			zap.String("operation", req.op),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
		)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &DecodeError{Op: req.op, Err: err}
	}
	return nil
}

// retryable classifies an error against the endpoint policy: network
// failures, informational 1xx, 400, 404 and all 5xx retry everywhere a
// policy applies; 401 only where the policy says so.
func (c *Client) retryable(err error, policy retryPolicy) bool {
	if policy.attempts <= 1 {
		return false
	}
	switch e := err.(type) {
	case *NetworkError:
		return true
	case *HTTPError:
		switch {
		case e.Code >= 100 && e.Code < 200:
			return true
		case e.Code == http.StatusBadRequest, e.Code == http.StatusNotFound:
			return true
		case e.Code == http.StatusUnauthorized:
			return policy.retryOn401
		case e.Code >= 500 && e.Code < 600:
			return true
		}
	}
	return false
}
