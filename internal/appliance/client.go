package appliance

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	apiBase    = "/api/v4"
	authHeader = "X-Fbx-App-Auth"
)

// ErrAuthRequired indicates the appliance rejected the session or app token.
// The caller recovers by re-running the authorization flow, not by retrying
// the login blindly.
var ErrAuthRequired = errors.New("appliance rejected credentials")

// Client is a thin HTTP client for the appliance REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the given base URL (e.g. https://host:443).
// Local appliances serve certificates from a private CA, so verification is
// optional.
func NewClient(baseURL string, insecureTLS bool, logger *slog.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
		logger: logger.With("component", "appliance"),
	}
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Authorize submits the application identity and returns the app token plus
// the track ID used to poll the user's approval.
func (c *Client) Authorize(ctx context.Context, id AppIdentity) (appToken string, trackID int, err error) {
	var res authorizeResult
	if err := c.postJSON(ctx, "/login/authorize/", "", id, &res); err != nil {
		return "", 0, err
	}
	return res.AppToken, res.TrackID, nil
}

// TrackAuthorization polls the approval status of a pending authorization.
func (c *Client) TrackAuthorization(ctx context.Context, trackID int) (TrackStatus, error) {
	var res trackResult
	if err := c.getJSON(ctx, fmt.Sprintf("/login/authorize/%d", trackID), "", &res); err != nil {
		return TrackUnknown, err
	}
	return parseTrackStatus(res.Status), nil
}

// LoginChallenge fetches the current login challenge string.
func (c *Client) LoginChallenge(ctx context.Context) (string, error) {
	var res challengeResult
	if err := c.getJSON(ctx, "/login/", "", &res); err != nil {
		return "", err
	}
	return res.Challenge, nil
}

// OpenSession performs the challenge-response login and returns a session
// token. The app token itself never goes over the wire; only the HMAC of the
// challenge does.
func (c *Client) OpenSession(ctx context.Context, appID, appToken string) (string, error) {
	challenge, err := c.LoginChallenge(ctx)
	if err != nil {
		return "", fmt.Errorf("login challenge: %w", err)
	}
	req := sessionRequest{
		AppID:    appID,
		Password: challengePassword(appToken, challenge),
	}
	var res sessionResult
	if err := c.postJSON(ctx, "/login/session/", "", req, &res); err != nil {
		return "", err
	}
	return res.SessionToken, nil
}

// LanHosts returns the appliance's LAN device list. Each entry's address is
// its first active layer-3 connectivity; entries with no active connectivity
// are dropped.
func (c *Client) LanHosts(ctx context.Context, sessionToken string) ([]Host, error) {
	var raw []lanHost
	if err := c.getJSON(ctx, "/lan/browser/pub/", sessionToken, &raw); err != nil {
		return nil, err
	}
	hosts := make([]Host, 0, len(raw))
	for _, h := range raw {
		addr := ""
		for _, l3 := range h.L3Connectivities {
			if l3.Active {
				addr = l3.Addr
				break
			}
		}
		if addr == "" {
			continue
		}
		hosts = append(hosts, Host{Name: h.PrimaryName, MAC: h.L2Ident.ID, Addr: addr})
	}
	return hosts, nil
}

// challengePassword computes the login password: lowercase hex
// HMAC-SHA1(key=appToken, message=challenge).
func challengePassword(appToken, challenge string) string {
	mac := hmac.New(sha1.New, []byte(appToken))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// apiError is a non-success appliance response.
type apiError struct {
	status int
	code   string
	msg    string
}

func (e *apiError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("appliance error %s: %s", e.code, e.msg)
	}
	return fmt.Sprintf("appliance error: http %d", e.status)
}

// Is reports credential rejections as ErrAuthRequired so callers can branch
// without string matching.
func (e *apiError) Is(target error) bool {
	if target == ErrAuthRequired {
		return e.status == http.StatusForbidden ||
			e.code == "auth_required" || e.code == "invalid_token"
	}
	return false
}

func (c *Client) postJSON(ctx context.Context, path, sessionToken string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiBase+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, sessionToken, out)
}

func (c *Client) getJSON(ctx context.Context, path, sessionToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiBase+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, sessionToken, out)
}

func (c *Client) do(req *http.Request, sessionToken string, out any) error {
	if sessionToken != "" {
		req.Header.Set(authHeader, sessionToken)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("appliance request: %w", err)
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode appliance response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 || !env.Success {
		return &apiError{status: res.StatusCode, code: env.ErrorCode, msg: env.Msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}
