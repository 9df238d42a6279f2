package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/rbacadmin/pkg/api"
	"github.com/platinummonkey/rbacadmin/pkg/audit"
	"github.com/platinummonkey/rbacadmin/pkg/cache"
	"github.com/platinummonkey/rbacadmin/pkg/contextkeys"
	"github.com/platinummonkey/rbacadmin/pkg/observability"
	"github.com/platinummonkey/rbacadmin/pkg/session"
	"github.com/platinummonkey/rbacadmin/pkg/storage"
)

const name = "github.com/platinummonkey/rbacadmin/pkg/auth"

var (
	_ api.Renewer        = (*Manager)(nil)
	_ oauth2.TokenSource = (*Manager)(nil)
)

// Triggers recorded on refresh metrics
const (
	TriggerProactive = "proactive"
	TriggerReactive  = "reactive"
)

// TokenStoreKey persists the token pair between console invocations
const TokenStoreKey = "auth_tokens"

// refreshExpiryKey is the oauth2.Token extra holding the refresh cookie expiry
const refreshExpiryKey = "refresh_expiry"

var (
	// ErrNotSignedIn is returned when an operation needs a token pair
	ErrNotSignedIn = errors.New("not signed in")
	// ErrNoRefreshToken is returned when renewal has nothing to present
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// TokenResponse is the body of sign-in, sign-up and refresh
type TokenResponse struct {
	Message      string       `json:"message"`
	User         session.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresIn    int64        `json:"expiresIn"`
}

// MessageResponse is the body of endpoints returning only a message
type MessageResponse struct {
	Message string `json:"message"`
}

// Credentials for sign-in
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUpRequest for sign-up
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Config for the Manager
type Config struct {
	RefreshInterval time.Duration
	Cookies         CookieOptions
}

// Manager is the token lifecycle manager. It owns the token pair, arms the
// proactive renewal while the session holds a user, serves as the client's
// Renewer for 401 recovery, and clears the session when renewal is
// impossible.
type Manager struct {
	client    *api.Client
	store     *session.Store
	userCache *session.UserCache
	tokens    storage.KV
	queries   *cache.QueryCache
	navigator Navigator
	metrics   *observability.Metrics
	logger    *observability.Logger
	auditor   audit.Logger
	cookies   CookieOptions

	mu    sync.Mutex
	state State
	token *oauth2.Token
	// epoch increases on every clear; a refresh that straddles one is dropped
	epoch uint64

	refreshGroup singleflight.Group
	scheduler    *refreshScheduler
	unsubscribe  func()
}

// Option configures a Manager
type Option func(*Manager)

// WithNavigator sets the sign-in redirect hook
func WithNavigator(n Navigator) Option {
	return func(m *Manager) { m.navigator = n }
}

// WithQueryCache sets the query cache purged when the session clears
func WithQueryCache(c *cache.QueryCache) Option {
	return func(m *Manager) { m.queries = c }
}

// WithTokenStore persists the token pair in kv
func WithTokenStore(kv storage.KV) Option {
	return func(m *Manager) { m.tokens = kv }
}

// WithMetrics records refresh and session metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithAuditor records sign-ins, sign-ups and session clears
func WithAuditor(l audit.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.auditor = l
		}
	}
}

// NewManager wires the manager to the client and the session store. It
// installs itself as the client's Renewer and subscribes to the store so the
// proactive renewal is armed exactly while a user is present.
func NewManager(client *api.Client, store *session.Store, userCache *session.UserCache, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		client:    client,
		store:     store,
		userCache: userCache,
		cookies:   cfg.Cookies,
		logger:    observability.NopLogger(),
		auditor:   audit.Nop(),
		navigator: NavigatorFunc(func(string) {}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.scheduler = newRefreshScheduler(cfg.RefreshInterval, m.logger)

	client.SetRenewer(m)
	m.unsubscribe = store.Subscribe(m.onSessionChange)
	if store.User() != nil {
		m.onSessionChange(store.Snapshot())
	}
	return m
}

// Close stops the scheduler and detaches from the session store and client
func (m *Manager) Close() {
	m.unsubscribe()
	m.scheduler.disarm()
	m.client.SetRenewer(nil)
}

// State returns the lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TimerArmed reports whether the proactive renewal is scheduled
func (m *Manager) TimerArmed() bool {
	return m.scheduler.armed()
}

// Token implements oauth2.TokenSource over the current pair
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return nil, ErrNotSignedIn
	}
	t := *m.token
	return &t, nil
}

func (m *Manager) onSessionChange(state session.State) {
	m.mu.Lock()
	if state.User != nil {
		if m.state == StateUnauthenticated || m.state == StateExpired {
			m.state = StateAuthenticated
		}
	} else if m.state == StateAuthenticated {
		m.state = StateUnauthenticated
	}
	m.mu.Unlock()

	if state.User != nil {
		m.scheduler.arm(m.proactiveRefresh)
	} else {
		m.scheduler.disarm()
	}
	m.metrics.SetSessionActive(state.User != nil)
}

// SignIn exchanges credentials for a token pair and populates the session
func (m *Manager) SignIn(ctx context.Context, creds Credentials) (*session.User, error) {
	ctx, span := otel.Tracer(name).Start(ctx, "Manager.SignIn()")
	defer span.End()

	if creds.Email == "" {
		return nil, &api.ValidationError{Field: "email", Message: "is required"}
	}
	if creds.Password == "" {
		return nil, &api.ValidationError{Field: "password", Message: "is required"}
	}

	var resp TokenResponse
	if err := m.client.Post(ctx, api.EndpointSignIn, creds, &resp); err != nil {
		m.record(ctx, audit.EventSignIn, creds.Email, nil, err)
		return nil, err
	}
	user, err := m.establish(ctx, &resp)
	m.record(ctx, audit.EventSignIn, creds.Email, user, err)
	return user, err
}

// SignUp registers and signs in
func (m *Manager) SignUp(ctx context.Context, req SignUpRequest) (*session.User, error) {
	ctx, span := otel.Tracer(name).Start(ctx, "Manager.SignUp()")
	defer span.End()

	switch {
	case req.Email == "":
		return nil, &api.ValidationError{Field: "email", Message: "is required"}
	case req.Password == "":
		return nil, &api.ValidationError{Field: "password", Message: "is required"}
	case req.Name == "":
		return nil, &api.ValidationError{Field: "name", Message: "is required"}
	}

	var resp TokenResponse
	if err := m.client.Post(ctx, api.EndpointSignUp, req, &resp); err != nil {
		m.record(ctx, audit.EventSignUp, req.Email, nil, err)
		return nil, err
	}
	user, err := m.establish(ctx, &resp)
	m.record(ctx, audit.EventSignUp, req.Email, user, err)
	return user, err
}

func (m *Manager) record(ctx context.Context, typ audit.EventType, email string, user *session.User, err error) {
	event := &audit.Event{Type: typ, Status: audit.StatusOf(err), Email: email}
	if user != nil {
		event.UserID = user.ID
	}
	if err != nil {
		event.ErrorMessage = api.UserMessage(err)
	}
	if logErr := m.auditor.Log(ctx, event); logErr != nil {
		m.logger.WithError(logErr).Warn("failed to record audit event")
	}
}

// RequestPasswordReset asks the backend to send a reset token
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", &api.ValidationError{Field: "email", Message: "is required"}
	}
	var resp MessageResponse
	err := m.client.Post(ctx, api.EndpointRequestPasswordReset, map[string]string{"email": email}, &resp)
	return resp.Message, err
}

// VerifyPasswordReset sets a new password using a reset token
func (m *Manager) VerifyPasswordReset(ctx context.Context, token, password string) (string, error) {
	if token == "" {
		return "", &api.ValidationError{Field: "token", Message: "is required"}
	}
	if password == "" {
		return "", &api.ValidationError{Field: "password", Message: "is required"}
	}
	var resp MessageResponse
	err := m.client.Post(ctx, api.EndpointVerifyPasswordReset, map[string]string{"token": token, "password": password}, &resp)
	return resp.Message, err
}

// establish stores the pair, the user cache and the session, in that order,
// so observers of the session always find a usable token
func (m *Manager) establish(ctx context.Context, resp *TokenResponse) (*session.User, error) {
	if resp.AccessToken == "" {
		return nil, &api.ServerError{Status: http.StatusOK, Message: "sign-in response carried no access token"}
	}

	m.storeTokens(ctx, resp)

	user := resp.User
	if err := m.userCache.Save(ctx, &user); err != nil {
		m.logger.WithError(err).Warn("failed to cache user")
	}

	m.mu.Lock()
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.store.SetUser(&user)
	return &user, nil
}

// storeTokens replaces the pair; the last successful write wins
func (m *Manager) storeTokens(ctx context.Context, resp *TokenResponse) {
	now := time.Now()
	accessTTL := m.cookies.AccessMaxAge
	if accessTTL <= 0 {
		accessTTL = AccessTokenMaxAge
	}
	if resp.ExpiresIn > 0 {
		accessTTL = time.Duration(resp.ExpiresIn) * time.Second
	}
	refreshTTL := m.cookies.RefreshMaxAge
	if refreshTTL <= 0 {
		refreshTTL = RefreshTokenMaxAge
	}

	m.mu.Lock()
	refresh := resp.RefreshToken
	if refresh == "" && m.token != nil {
		refresh = m.token.RefreshToken
	}
	token := (&oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       now.Add(accessTTL),
	}).WithExtra(map[string]interface{}{
		refreshExpiryKey: now.Add(refreshTTL).Unix(),
	})
	m.token = token
	m.mu.Unlock()

	opts := m.cookies
	opts.AccessMaxAge = accessTTL
	m.setCookies(NewTokenCookies(TokenPair{AccessToken: resp.AccessToken, RefreshToken: refresh}, opts))
	m.persistTokens(ctx, token)
}

func (m *Manager) setCookies(cookies []*http.Cookie) {
	for _, origin := range m.client.CookieOrigins() {
		m.client.Jar().SetCookies(origin, cookies)
	}
}

type persistedTokens struct {
	AccessToken   string    `json:"accessToken"`
	RefreshToken  string    `json:"refreshToken"`
	Expiry        time.Time `json:"expiry"`
	RefreshExpiry time.Time `json:"refreshExpiry"`
}

func (m *Manager) persistTokens(ctx context.Context, token *oauth2.Token) {
	if m.tokens == nil {
		return
	}
	data, err := json.Marshal(persistedTokens{
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		Expiry:        token.Expiry,
		RefreshExpiry: refreshExpiry(token),
	})
	if err == nil {
		err = m.tokens.Set(ctx, TokenStoreKey, data)
	}
	if err != nil {
		m.logger.WithError(err).Warn("failed to persist tokens")
	}
}

func refreshExpiry(token *oauth2.Token) time.Time {
	if v, ok := token.Extra(refreshExpiryKey).(int64); ok {
		return time.Unix(v, 0)
	}
	return token.Expiry
}

// Restore reloads a persisted pair into the cookie jar. It reports whether a
// usable refresh token was found; expired pairs are discarded.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	if m.tokens == nil {
		return false, nil
	}
	data, err := m.tokens.Get(ctx, TokenStoreKey)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load tokens: %w", err)
	}

	var p persistedTokens
	now := time.Now()
	if err := json.Unmarshal(data, &p); err != nil || p.RefreshToken == "" || !now.Before(p.RefreshExpiry) {
		_ = m.tokens.Delete(ctx, TokenStoreKey)
		return false, nil
	}

	token := (&oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       p.Expiry,
	}).WithExtra(map[string]interface{}{refreshExpiryKey: p.RefreshExpiry.Unix()})

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	opts := m.cookies
	opts.AccessMaxAge = p.Expiry.Sub(now)
	opts.RefreshMaxAge = p.RefreshExpiry.Sub(now)
	pair := TokenPair{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
	if opts.AccessMaxAge <= 0 {
		// only the refresh cookie is still alive
		m.setCookies(NewTokenCookies(pair, opts)[1:])
	} else {
		m.setCookies(NewTokenCookies(pair, opts))
	}
	return true, nil
}

// Refresh renews the pair on the proactive path. Failure is a hard expiry.
func (m *Manager) Refresh(ctx context.Context) error {
	err := m.refresh(ctx, TriggerProactive)
	if err != nil && !errors.Is(err, api.ErrSessionCleared) {
		m.Expire(ctx, ReasonRefreshFailed)
	}
	return err
}

// Renew implements api.Renewer for the reactive path. The client expires
// the session itself when renewal fails.
func (m *Manager) Renew(ctx context.Context) error {
	return m.refresh(ctx, TriggerReactive)
}

// refresh shares one in-flight call between concurrent callers
func (m *Manager) refresh(ctx context.Context, trigger string) error {
	ctx, span := otel.Tracer(name).Start(ctx, "Manager.refresh()")
	defer span.End()
	span.SetAttributes(attribute.String("rbacadmin.trigger", trigger))

	// the flight is shared, so no single caller may cancel it; the client
	// timeout still bounds it
	flight := context.WithoutCancel(ctx)
	_, err, shared := m.refreshGroup.Do("refresh", func() (interface{}, error) {
		return nil, m.doRefresh(flight)
	})
	if !shared {
		m.metrics.RecordTokenRefresh(trigger, err)
	}
	return err
}

func (m *Manager) doRefresh(ctx context.Context) error {
	m.mu.Lock()
	var refreshToken string
	if m.token != nil {
		refreshToken = m.token.RefreshToken
	}
	previous := m.state
	epoch := m.epoch
	if m.state == StateAuthenticated {
		m.state = StateRefreshing
	}
	m.mu.Unlock()

	if refreshToken == "" {
		refreshToken = m.refreshTokenFromJar()
	}
	if refreshToken == "" {
		m.restoreState(previous)
		return ErrNoRefreshToken
	}

	var resp TokenResponse
	err := m.client.Post(contextkeys.WithNoRenew(ctx), api.EndpointRefresh,
		map[string]string{"refreshToken": refreshToken}, &resp)
	if err == nil && resp.AccessToken == "" {
		err = &api.AuthenticationError{Message: api.MessageAuthenticationFailed}
	}
	if err != nil {
		m.restoreState(previous)
		m.logger.WithError(err).Warn("token refresh failed")
		return err
	}

	m.mu.Lock()
	cleared := m.epoch != epoch
	m.mu.Unlock()
	if cleared {
		// the response may have planted fresh cookies after the clear
		m.setCookies(ExpiredTokenCookies(m.cookies.Secure))
		return fmt.Errorf("%w: %w", ErrNotSignedIn, api.ErrSessionCleared)
	}

	m.storeTokens(ctx, &resp)

	m.mu.Lock()
	if m.state == StateRefreshing {
		m.state = StateAuthenticated
	}
	m.mu.Unlock()

	if resp.User.ID != "" {
		user := resp.User
		if err := m.userCache.Save(ctx, &user); err != nil {
			m.logger.WithError(err).Warn("failed to cache user")
		}
		if m.store.User() != nil {
			m.store.SetUser(&user)
		}
	}
	m.logger.Debug("token pair refreshed")
	return nil
}

func (m *Manager) restoreState(previous State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRefreshing {
		m.state = previous
	}
}

func (m *Manager) refreshTokenFromJar() string {
	for _, origin := range m.client.CookieOrigins() {
		for _, c := range m.client.Jar().Cookies(origin) {
			if c.Name == RefreshTokenCookie && c.Value != "" {
				return c.Value
			}
		}
	}
	return ""
}

// proactiveRefresh is the scheduled job
func (m *Manager) proactiveRefresh(generation uint64) {
	if !m.scheduler.current(generation) || m.store.User() == nil {
		return
	}
	if err := m.Refresh(context.Background()); err != nil {
		m.logger.WithError(err).Warn("proactive token refresh failed, session cleared")
	}
}

// SignOut tells the backend (best effort) and clears the session
func (m *Manager) SignOut(ctx context.Context) error {
	ctx, span := otel.Tracer(name).Start(ctx, "Manager.SignOut()")
	defer span.End()

	if err := m.client.Post(contextkeys.WithNoRenew(ctx), api.EndpointSignOut, nil, nil); err != nil {
		m.logger.WithError(err).Debug("backend sign-out failed, clearing locally")
	}
	return m.clear(ctx, ReasonSignOut, StateUnauthenticated)
}

// Expire implements api.Renewer: the session is dead
func (m *Manager) Expire(ctx context.Context, reason string) {
	if err := m.clear(ctx, reason, StateExpired); err != nil {
		m.logger.WithError(err).Warn("session cleared with errors")
	}
}

// clear runs every step regardless of earlier failures so no partial
// session survives, then navigates to sign-in
func (m *Manager) clear(ctx context.Context, reason string, final State) error {
	ctx, span := otel.Tracer(name).Start(ctx, "Manager.clear()")
	defer span.End()
	span.SetAttributes(attribute.String("rbacadmin.reason", reason))

	var errs []error
	previous := m.store.User()

	m.mu.Lock()
	m.token = nil
	m.state = final
	m.epoch++
	m.mu.Unlock()

	m.setCookies(ExpiredTokenCookies(m.cookies.Secure))

	if m.tokens != nil {
		if err := m.tokens.Delete(ctx, TokenStoreKey); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.userCache.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if m.queries != nil {
		m.queries.Purge()
	}

	m.store.Clear()

	// a session listener may have moved the state while clearing
	m.mu.Lock()
	m.state = final
	m.mu.Unlock()

	m.metrics.RecordSessionClear(reason)
	m.logger.WithField("reason", reason).Info("session cleared")
	m.recordClear(ctx, reason, previous, errors.Join(errs...))
	m.navigator.RedirectToSignIn(reason)

	return errors.Join(errs...)
}

func (m *Manager) recordClear(ctx context.Context, reason string, user *session.User, err error) {
	event := &audit.Event{Type: audit.EventSessionCleared, Status: audit.StatusOf(err), Reason: reason}
	if reason == ReasonSignOut {
		event.Type = audit.EventSignOut
	}
	if user != nil {
		event.UserID = user.ID
		event.Email = user.Email
	}
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	if logErr := m.auditor.Log(ctx, event); logErr != nil {
		m.logger.WithError(logErr).Warn("failed to record audit event")
	}
}
