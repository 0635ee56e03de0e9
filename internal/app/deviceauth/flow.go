// Package deviceauth implements the OAuth device authorization flow used to
// obtain YouTube credentials.
package deviceauth

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

var (
	ErrInvalidState  = errors.New("invalid flow state")
	ErrExpired       = errors.New("device code expired")
	ErrNotAuthorized = errors.New("not authorized")
)

// Google endpoints for limited-input devices.
var GoogleEndpoint = oauth2.Endpoint{
	AuthURL:       "https://accounts.google.com/o/oauth2/auth",
	TokenURL:      "https://oauth2.googleapis.com/token",
	DeviceAuthURL: "https://oauth2.googleapis.com/device/code",
	AuthStyle:     oauth2.AuthStyleInParams,
}

// DefaultScopes are the scopes requested for YouTube access.
var DefaultScopes = []string{"https://www.googleapis.com/auth/youtube"}

// State is the flow state.
type State int

const (
	StateIdle         State = iota
	StateAwaitingCode       // Device code issued, user has not approved yet
	StatePolling            // Polling the token endpoint
	StateAuthorized
	StateExpired
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCode:
		return "awaiting_code"
	case StatePolling:
		return "polling"
	case StateAuthorized:
		return "authorized"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config represents device flow configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	Endpoint     oauth2.Endpoint
}

// Code is what the user needs to approve the device.
type Code struct {
	UserCode        string
	VerificationURI string
	ExpiresAt       time.Time
}

// Flow drives one device authorization.
type Flow struct {
	mu sync.Mutex

	config *oauth2.Config
	store  *FileStore

	state State
	auth  *oauth2.DeviceAuthResponse
	token *oauth2.Token
	err   error
}

// NewFlow creates a flow. A nil store keeps the token in memory only.
func NewFlow(cfg Config, store *FileStore) *Flow {
	endpoint := cfg.Endpoint
	if endpoint.DeviceAuthURL == "" {
		endpoint = GoogleEndpoint
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &Flow{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		store: store,
	}
}

// State returns the current state and, for Failed, the cause.
func (f *Flow) State() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.err
}

// Start requests a device code. Allowed from Idle, Expired and Failed.
func (f *Flow) Start(ctx context.Context) (*Code, error) {
	f.mu.Lock()
	switch f.state {
	case StateIdle, StateExpired, StateFailed:
	default:
		state := f.state
		f.mu.Unlock()
		return nil, errors.Wrapf(ErrInvalidState, "cannot start from %s", state)
	}
	f.mu.Unlock()

	auth, err := f.config.DeviceAuth(ctx)
	if err != nil {
		f.transition(StateFailed, err)
		return nil, errors.Wrap(err, "failed to request device code")
	}

	f.mu.Lock()
	f.auth = auth
	f.state = StateAwaitingCode
	f.err = nil
	f.mu.Unlock()

	zlog.Info().Msgf("deviceauth: device code issued: uri=%s expires=%s", auth.VerificationURI, auth.Expiry.Format(time.RFC3339))
	return &Code{
		UserCode:        auth.UserCode,
		VerificationURI: auth.VerificationURI,
		ExpiresAt:       auth.Expiry,
	}, nil
}

// Poll waits for the user to approve the device. It returns once the flow is
// Authorized, Expired or Failed.
func (f *Flow) Poll(ctx context.Context) (*oauth2.Token, error) {
	f.mu.Lock()
	if f.state != StateAwaitingCode {
		state := f.state
		f.mu.Unlock()
		return nil, errors.Wrapf(ErrInvalidState, "cannot poll from %s", state)
	}
	f.state = StatePolling
	auth := f.auth
	f.mu.Unlock()

	token, err := f.config.DeviceAccessToken(ctx, auth)
	if err != nil {
		if isExpired(err, auth) {
			f.transition(StateExpired, ErrExpired)
			return nil, errors.Wrap(ErrExpired, err.Error())
		}
		f.transition(StateFailed, err)
		return nil, errors.Wrap(err, "device authorization failed")
	}

	if f.store != nil {
		if err := f.store.Save(token); err != nil {
			f.transition(StateFailed, err)
			return nil, err
		}
	}

	f.mu.Lock()
	f.token = token
	f.state = StateAuthorized
	f.err = nil
	f.mu.Unlock()

	zlog.Info().Msg("deviceauth: device authorized")
	return token, nil
}

func (f *Flow) transition(state State, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.err = err
	zlog.Warn().Msgf("deviceauth: flow %s: error=%v", state, err)
}

func isExpired(err error, auth *oauth2.DeviceAuthResponse) bool {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.ErrorCode == "expired_token" {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && !auth.Expiry.IsZero() && time.Now().After(auth.Expiry)
}

// TokenSource returns a refreshing token source for the authorized token.
// Refreshed tokens are written back to the store.
func (f *Flow) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	f.mu.Lock()
	token := f.token
	f.mu.Unlock()
	if token == nil {
		return nil, ErrNotAuthorized
	}
	return NewTokenSource(ctx, f.config, token, f.store), nil
}

// NewTokenSource wraps token in a refreshing source that persists every
// new token to store.
func NewTokenSource(ctx context.Context, cfg *oauth2.Config, token *oauth2.Token, store *FileStore) oauth2.TokenSource {
	base := cfg.TokenSource(ctx, token)
	return oauth2.ReuseTokenSource(token, &savingSource{base: base, store: store, last: token.AccessToken})
}

type savingSource struct {
	mu    sync.Mutex
	base  oauth2.TokenSource
	store *FileStore
	last  string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil && token.AccessToken != s.last {
		if err := s.store.Save(token); err != nil {
			zlog.Warn().Msgf("deviceauth: failed to persist refreshed token: %v", err)
		}
		s.last = token.AccessToken
	}
	return token, nil
}

// LoadTokenSource builds a token source from stored credentials. It returns
// nil when nothing is stored.
func LoadTokenSource(ctx context.Context, cfg Config, store *FileStore) (oauth2.TokenSource, error) {
	token, err := store.Load()
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, nil
	}
	f := NewFlow(cfg, store)
	return NewTokenSource(ctx, f.config, token, store), nil
}
