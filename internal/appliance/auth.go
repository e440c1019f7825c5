package appliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// StateKind enumerates the authorization machine states.
type StateKind int

const (
	StateIdle StateKind = iota
	StateDiscovering
	StateAuthorizing
	StateAuthorized
	StateError
)

func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateAuthorizing:
		return "authorizing"
	case StateAuthorized:
		return "authorized"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (k StateKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// State is the tagged authorization state. TrackID is meaningful only while
// Authorizing; Message only for Error.
type State struct {
	Kind    StateKind `json:"state"`
	TrackID int       `json:"track_id,omitempty"`
	Message string    `json:"message,omitempty"`
}

var (
	// ErrDenied means the user rejected the authorization on the appliance.
	ErrDenied = errors.New("authorization denied by appliance")
	// ErrAuthTimeout means the appliance expired the pending authorization.
	ErrAuthTimeout = errors.New("authorization timed out on appliance")
	// ErrInterrupted means another actor moved the machine out of
	// Authorizing while the poll loop was running.
	ErrInterrupted = errors.New("authorization interrupted")
)

// nextAuthState is the transition function from a polled track status while
// in Authorizing. Exhaustive over TrackStatus.
func nextAuthState(cur State, status TrackStatus) State {
	switch status {
	case TrackPending:
		return cur
	case TrackGranted:
		return State{Kind: StateAuthorized}
	case TrackDenied:
		return State{Kind: StateError, Message: ErrDenied.Error()}
	case TrackTimeout:
		return State{Kind: StateError, Message: ErrAuthTimeout.Error()}
	default:
		return State{Kind: StateError, Message: fmt.Sprintf("unexpected track status %q", status)}
	}
}

// TokenStore persists the long-lived app token across restarts.
type TokenStore interface {
	SaveAppToken(token string) error
	AppToken() (string, error)
	DeleteAppToken() error
}

// Config holds session settings.
type Config struct {
	Identity     AppIdentity
	PollInterval time.Duration // default 1s
	InsecureTLS  bool
}

// Session owns the appliance client for one authorization/session cycle:
// discovery, token negotiation, challenge-response login, and authenticated
// queries. The session token lives only as long as the process; the app
// token is persisted through the TokenStore.
type Session struct {
	cfg    Config
	disc   Discoverer
	tokens TokenStore
	logger *slog.Logger

	newClient func(baseURL string) *Client

	mu           sync.Mutex
	state        State
	client       *Client
	sessionToken string
}

// NewSession creates an appliance session manager in state Idle.
func NewSession(cfg Config, disc Discoverer, tokens TokenStore, logger *slog.Logger) *Session {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	s := &Session{
		cfg:    cfg,
		disc:   disc,
		tokens: tokens,
		logger: logger.With("component", "auth"),
		state:  State{Kind: StateIdle},
	}
	s.newClient = func(baseURL string) *Client {
		return NewClient(baseURL, cfg.InsecureTLS, logger)
	}
	return s
}

// State returns a snapshot of the machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// EnsureSession discovers the appliance if needed and returns a valid
// session token, running the full authorization flow when no usable app
// token is cached.
func (s *Session) EnsureSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.sessionToken != "" && s.state.Kind == StateAuthorized {
		tok := s.sessionToken
		s.mu.Unlock()
		return tok, nil
	}
	s.mu.Unlock()

	c, err := s.ensureClient(ctx)
	if err != nil {
		return "", err
	}

	// Cached-token fast path: skip authorize/poll entirely. A rejected token
	// (revoked or expired) falls through to the full flow.
	if tok, err := s.tokens.AppToken(); err == nil && tok != "" {
		session, err := c.OpenSession(ctx, s.cfg.Identity.AppID, tok)
		if err == nil {
			s.mu.Lock()
			s.sessionToken = session
			s.state = State{Kind: StateAuthorized}
			s.mu.Unlock()
			return session, nil
		}
		s.logger.Warn("cached app token rejected, requesting authorization", "err", err)
	}

	return s.authorize(ctx, c)
}

// ensureClient runs service discovery once per cycle and builds the REST
// client for the discovered base URL.
func (s *Session) ensureClient(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c != nil {
		return c, nil
	}

	s.setState(State{Kind: StateDiscovering})
	baseURL, err := s.disc.Discover(ctx)
	if err != nil {
		if errors.Is(err, ErrNoAppliance) {
			// Not fatal: the coordinator falls back to subnet probing.
			s.setState(State{Kind: StateIdle})
			return nil, err
		}
		s.setState(State{Kind: StateError, Message: err.Error()})
		return nil, fmt.Errorf("discover appliance: %w", err)
	}

	c = s.newClient(baseURL)
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
	s.logger.Info("appliance located", "base_url", baseURL)
	return c, nil
}

// authorize runs the authorization request and approval poll loop, then
// logs in. Polls at cfg.PollInterval; waits only after a pending status, so
// a denial costs zero waits and pending,pending,granted costs exactly two.
func (s *Session) authorize(ctx context.Context, c *Client) (string, error) {
	appToken, trackID, err := c.Authorize(ctx, s.cfg.Identity)
	if err != nil {
		s.setState(State{Kind: StateError, Message: err.Error()})
		return "", fmt.Errorf("authorize: %w", err)
	}
	s.setState(State{Kind: StateAuthorizing, TrackID: trackID})
	s.logger.Info("authorization pending, approve on the appliance", "track_id", trackID)

	for {
		// Stop the moment anything moved the machine out of Authorizing.
		st := s.State()
		if st.Kind != StateAuthorizing {
			return "", ErrInterrupted
		}

		status, err := c.TrackAuthorization(ctx, trackID)
		if err != nil {
			s.setState(State{Kind: StateError, Message: err.Error()})
			return "", fmt.Errorf("track authorization: %w", err)
		}

		next := nextAuthState(st, status)
		switch status {
		case TrackPending:
			// fall through to the wait below

		case TrackGranted:
			if err := s.tokens.SaveAppToken(appToken); err != nil {
				s.setState(State{Kind: StateError, Message: err.Error()})
				return "", fmt.Errorf("persist app token: %w", err)
			}
			session, err := c.OpenSession(ctx, s.cfg.Identity.AppID, appToken)
			if err != nil {
				s.setState(State{Kind: StateError, Message: err.Error()})
				return "", fmt.Errorf("session login: %w", err)
			}
			s.mu.Lock()
			s.sessionToken = session
			s.state = next
			s.mu.Unlock()
			s.logger.Info("authorization granted")
			return session, nil

		case TrackDenied:
			s.setState(next)
			return "", ErrDenied

		case TrackTimeout:
			s.setState(next)
			return "", ErrAuthTimeout

		default:
			s.setState(next)
			return "", fmt.Errorf("unexpected track status %q", status)
		}

		select {
		case <-ctx.Done():
			s.setState(State{Kind: StateError, Message: ctx.Err().Error()})
			return "", ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// FetchHosts returns the appliance's authoritative LAN device list,
// re-running the authorization flow once if the session was revoked
// mid-flight.
func (s *Session) FetchHosts(ctx context.Context) ([]Host, error) {
	session, err := s.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	c := s.client
	s.mu.Unlock()

	hosts, err := c.LanHosts(ctx, session)
	if err == nil {
		return hosts, nil
	}
	if !errors.Is(err, ErrAuthRequired) {
		return nil, err
	}

	s.logger.Warn("session rejected, re-authorizing", "err", err)
	s.mu.Lock()
	s.sessionToken = ""
	s.state = State{Kind: StateIdle}
	s.mu.Unlock()

	session, err = s.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	c = s.client
	s.mu.Unlock()
	return c.LanHosts(ctx, session)
}

// Forget clears the persisted app token and the in-memory session, returning
// the machine to Idle.
func (s *Session) Forget() error {
	err := s.tokens.DeleteAppToken()
	s.mu.Lock()
	s.sessionToken = ""
	s.state = State{Kind: StateIdle}
	s.mu.Unlock()
	return err
}

// Close releases the HTTP client owned by this cycle.
func (s *Session) Close() {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.sessionToken = ""
	s.mu.Unlock()
	if c != nil {
		c.Close()
	}
}
