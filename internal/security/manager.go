package security

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
)

const (
	accessCookie  = "folioAccessToken"
	refreshCookie = "folioRefreshToken"

	loginPath   = "/authn/login-with-expiry"
	refreshPath = "/authn/refresh"

	defaultTimeout = 2 * time.Second
	defaultMaxAge  = 10 * time.Minute
)

// Credentials of the broker's system user.
type Credentials struct {
	Username string
	Password string
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	SystemUser  Credentials
	Permissions []string
	// DefaultMaxAge applies when neither the cookie nor the JWT carries one.
	DefaultMaxAge time.Duration
	Timeout       time.Duration
}

// Observer is told about every login and refresh attempt.
type Observer interface {
	LoggedIn(tenant string, err error)
	Refreshed(tenant string, err error)
}

type nopObserver struct{}

func (nopObserver) LoggedIn(string, error)  {}
func (nopObserver) Refreshed(string, error) {}

// ManagerDependencies are optional collaborators of a Manager.
type ManagerDependencies struct {
	HTTPClient *http.Client
	Logger     loggingpkg.ServiceLogger
	Observer   Observer
}

// Manager hands out system user tokens per tenant. Tokens are refreshed when
// half their lifetime has passed and re-acquired after Invalidate.
type Manager struct {
	cfg      ManagerConfig
	client   *okapiClient
	cache    *TokenCache
	logger   loggingpkg.ServiceLogger
	observer Observer
	flight   singleflight.Group
}

func NewManager(cfg ManagerConfig, deps ManagerDependencies) *Manager {
	if cfg.DefaultMaxAge <= 0 {
		cfg.DefaultMaxAge = defaultMaxAge
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	m := &Manager{
		cfg:      cfg,
		client:   &okapiClient{http: httpClient},
		logger:   loggingpkg.OrNop(deps.Logger).With(loggingpkg.LogFields{"component": "security"}),
		observer: deps.Observer,
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	m.cache = NewTokenCache(m.expired)
	return m
}

// AccessToken returns the cached token for params.TenantID, logging in when
// none is cached. Concurrent callers for one tenant share a single login.
func (m *Manager) AccessToken(ctx context.Context, params ConnectionParams) (string, error) {
	if tok, ok := m.cache.AccessToken(params.TenantID); ok {
		return tok.Token, nil
	}
	v, err, _ := m.flight.Do("login:"+params.TenantID, func() (any, error) {
		if tok, ok := m.cache.AccessToken(params.TenantID); ok {
			return tok, nil
		}
		return m.login(ctx, params)
	})
	if err != nil {
		return "", err
	}
	return v.(ExpiryAwareToken).Token, nil
}

// Invalidate forgets both tokens of tenant; the next AccessToken logs in again.
func (m *Manager) Invalidate(tenant string) {
	m.cache.Invalidate(tenant)
	m.logger.Debug("Tokens invalidated", loggingpkg.LogFields{"tenant": tenant})
}

// Close stops the token expiry loops.
func (m *Manager) Close() {
	m.cache.Close()
}

func (m *Manager) login(ctx context.Context, params ConnectionParams) (ExpiryAwareToken, error) {
	owner := params.WithToken("")
	body := map[string]string{
		"username": m.cfg.SystemUser.Username,
		"password": m.cfg.SystemUser.Password,
	}

	resp, err := m.client.send(ctx, owner, http.MethodPost, loginPath, body, nil)
	if err != nil {
		m.observer.LoggedIn(params.TenantID, err)
		return ExpiryAwareToken{}, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &LoginError{Status: resp.StatusCode, Username: m.cfg.SystemUser.Username, Tenant: params.TenantID}
		m.observer.LoggedIn(params.TenantID, err)
		return ExpiryAwareToken{}, err
	}

	access, err := m.storeCookies(owner, resp)
	m.observer.LoggedIn(params.TenantID, err)
	if err != nil {
		return ExpiryAwareToken{}, err
	}
	m.logger.Info("System user logged in", loggingpkg.LogFields{
		"tenant":  params.TenantID,
		"max_age": access.MaxAge.String(),
	})
	return access, nil
}

// refresh trades the cached refresh token for a new pair, falling back to a
// fresh login when no refresh token is cached or the exchange is refused.
func (m *Manager) refresh(ctx context.Context, owner ConnectionParams) (ExpiryAwareToken, error) {
	rt, ok := m.cache.RefreshToken(owner.TenantID)
	if !ok {
		return m.login(ctx, owner)
	}

	cookie := &http.Cookie{Name: refreshCookie, Value: rt.Token}
	resp, err := m.client.send(ctx, owner.WithToken(""), http.MethodPost, refreshPath, nil, []*http.Cookie{cookie})
	if err != nil {
		m.observer.Refreshed(owner.TenantID, err)
		return ExpiryAwareToken{}, fmt.Errorf("refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := statusError(http.MethodPost, refreshPath, resp)
		m.observer.Refreshed(owner.TenantID, err)
		m.logger.Debug("Refresh refused, logging in again", loggingpkg.LogFields{"tenant": owner.TenantID, "status": resp.StatusCode})
		m.cache.Invalidate(owner.TenantID)
		return m.login(ctx, owner)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	access, err := m.storeCookies(owner, resp)
	m.observer.Refreshed(owner.TenantID, err)
	return access, err
}

// expired is the token cache callback: a lapsed access token is renewed in
// the background so the next delivery finds a warm cache.
func (m *Manager) expired(ctx context.Context, kind TokenKind, tok ExpiryAwareToken) {
	if kind != AccessToken {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	_, err, _ := m.flight.Do("login:"+tok.Owner.TenantID, func() (any, error) {
		return m.refresh(ctx, tok.Owner)
	})
	if err != nil {
		m.logger.Error("Proactive token refresh failed", err, loggingpkg.LogFields{"tenant": tok.Owner.TenantID})
	}
}

func (m *Manager) storeCookies(owner ConnectionParams, resp *http.Response) (ExpiryAwareToken, error) {
	var access, refresh *http.Cookie
	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case accessCookie:
			access = ck
		case refreshCookie:
			refresh = ck
		}
	}
	if access == nil || access.Value == "" {
		return ExpiryAwareToken{}, fmt.Errorf("security: response for tenant %q carries no %s cookie", owner.TenantID, accessCookie)
	}

	at := ExpiryAwareToken{Token: access.Value, MaxAge: m.maxAge(access), Owner: owner}
	m.cache.SetAccessToken(owner.TenantID, at)
	if refresh != nil && refresh.Value != "" {
		m.cache.SetRefreshToken(owner.TenantID, ExpiryAwareToken{Token: refresh.Value, MaxAge: m.maxAge(refresh), Owner: owner})
	}
	return at, nil
}

// maxAge prefers the cookie's Max-Age, then the JWT exp claim, then the default.
func (m *Manager) maxAge(ck *http.Cookie) time.Duration {
	if ck.MaxAge > 0 {
		return time.Duration(ck.MaxAge) * time.Second
	}
	if d, ok := jwtLifetime(ck.Value, time.Now()); ok {
		return d
	}
	return m.cfg.DefaultMaxAge
}

func jwtLifetime(raw string, now time.Time) (time.Duration, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return 0, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	d := exp.Sub(now)
	if d <= 0 {
		return 0, false
	}
	return d, true
}
