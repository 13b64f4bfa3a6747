package client

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	cl "github.com/crosslogin/crosslogin"
)

// DefaultTokenCookie is the auth token cookie name the broker sets with
// its default configuration.
const DefaultTokenCookie = "CrossLoginAuthToken"

// BrokerClient drives the login handshake against a broker from the
// caller side: begin a login, complete it with a code or password, pick
// up the auth token from the login result, and make authenticated calls
// with it.
type BrokerClient struct {
	mu              sync.Mutex
	serverURL       string
	store           CredentialStore
	httpClient      *http.Client
	baseTransport   http.RoundTripper
	accountPrefix   string
	tokenCookieName string
}

// APIError is an error response from the broker's JSON API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     string `json:"error"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != "" {
		return e.Err
	}
	return fmt.Sprintf("broker error: HTTP %d", e.Status)
}

// ClientOption configures a BrokerClient
type ClientOption func(*BrokerClient)

// WithAccountPrefix sets a custom mount point for the broker's account surface
func WithAccountPrefix(prefix string) ClientOption {
	return func(c *BrokerClient) {
		c.accountPrefix = strings.TrimSuffix(prefix, "/")
	}
}

// WithTokenCookie sets the cookie name the broker issues auth tokens under
func WithTokenCookie(name string) ClientOption {
	return func(c *BrokerClient) {
		c.tokenCookieName = name
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *BrokerClient) {
		if client != nil && client.Transport != nil {
			c.baseTransport = client.Transport
		}
		if client != nil {
			c.httpClient.Timeout = client.Timeout
			c.httpClient.Jar = client.Jar
		}
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *BrokerClient) {
		c.baseTransport = transport
	}
}

// NewBrokerClient creates a client for the broker at serverURL.
func NewBrokerClient(serverURL string, store CredentialStore, opts ...ClientOption) *BrokerClient {
	// Normalize server URL
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &BrokerClient{
		serverURL:       serverURL,
		store:           store,
		httpClient:      &http.Client{},
		baseTransport:   http.DefaultTransport,
		accountPrefix:   "/Account",
		tokenCookieName: DefaultTokenCookie,
	}

	for _, opt := range opts {
		opt(c)
	}

	// Wrap the base transport with auth handling
	c.httpClient.Transport = &credentialTransport{client: c, base: c.baseTransport}

	return c
}

// HTTPClient returns the underlying HTTP client with auth handling
func (c *BrokerClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *BrokerClient) ServerURL() string {
	return c.serverURL
}

// GetToken returns the stored auth token, or "" when absent or expired.
func (c *BrokerClient) GetToken() (string, error) {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.IsExpired() {
		return "", nil
	}
	return cred.AuthToken, nil
}

// GetCredential returns the stored credential for this server
func (c *BrokerClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn returns true if there is a valid (non-expired) credential
func (c *BrokerClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return false
	}
	return !cred.IsExpired()
}

// BeginLogin starts a handshake for the raw input and returns the
// request id plus the providers able to complete it.
func (c *BrokerClient) BeginLogin(input string) (*cl.LoginStart, error) {
	var start cl.LoginStart
	err := c.postJSON("/BeginLogin", map[string]any{"input": input}, &start)
	if err != nil {
		return nil, err
	}
	return &start, nil
}

// SendCode asks the broker to issue and deliver a verification code.
func (c *BrokerClient) SendCode(format cl.InputFormat, input string, purpose cl.CodePurpose, provider string) error {
	body := map[string]any{"format": format, "input": input, "provider": provider}
	if purpose != "" {
		body["purpose"] = purpose
	}
	return c.postJSON("/SendCode", body, nil)
}

// VerifyCode completes the handshake with a delivered code and returns
// the resolved user id.
func (c *BrokerClient) VerifyCode(requestID string, format cl.InputFormat, input, code, provider string) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	body := map[string]any{
		"request_id": requestID,
		"format":     format,
		"input":      input,
		"code":       code,
		"provider":   provider,
	}
	if err := c.postJSON("/VerifyCode", body, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

// PasswordLogin completes the handshake with a password and returns the
// resolved user id.
func (c *BrokerClient) PasswordLogin(requestID, input, password string) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	body := map[string]any{"request_id": requestID, "input": input, "password": password}
	if err := c.postJSON("/PasswordLogin", body, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

// CompleteLogin reads the login result for a resolved request and stores
// the auth token cookie the broker issues as this server's credential.
func (c *BrokerClient) CompleteLogin(requestID string, keepSignedIn bool) (*ServerCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := url.Values{}
	q.Set("requestId", requestID)
	if keepSignedIn {
		q.Set("KeepMeSignedIn", "true")
	}

	// Stop at the broker's redirect; the token rides on Set-Cookie.
	httpClient := &http.Client{
		Transport: c.baseTransport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := httpClient.Get(c.serverURL + c.accountPrefix + "/LoginResult?" + q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	var token string
	for _, cookie := range resp.Cookies() {
		if cookie.Name == c.tokenCookieName && cookie.Value != "" {
			token = cookie.Value
		}
	}
	if token == "" {
		if resp.StatusCode >= 400 {
			return nil, c.decodeError(resp)
		}
		return nil, fmt.Errorf("login result carried no auth token; is the request resolved?")
	}

	cred := &ServerCredential{
		AuthToken: token,
		UserID:    tokenSubject(token),
		ExpiresAt: tokenExpiry(token),
		CreatedAt: time.Now(),
	}
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// CurrentUser fetches the authenticated user from the broker.
func (c *BrokerClient) CurrentUser() (*cl.User, error) {
	resp, err := c.httpClient.Get(c.serverURL + c.accountPrefix + "/CurrentUser")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}
	var user cl.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("invalid response from server: %w", err)
	}
	return &user, nil
}

// IsAuthenticated asks the broker whether the stored token still
// authenticates.
func (c *BrokerClient) IsAuthenticated() (bool, error) {
	resp, err := c.httpClient.Get(c.serverURL + c.accountPrefix + "/IsAuthenticated")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	var ok bool
	if err := json.NewDecoder(resp.Body).Decode(&ok); err != nil {
		return false, fmt.Errorf("invalid response from server: %w", err)
	}
	return ok, nil
}

// Logout removes the credential for this server
func (c *BrokerClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

func (c *BrokerClient) postJSON(path string, body any, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	resp, err := c.httpClient.Post(c.serverURL+c.accountPrefix+path, "application/json", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

func (c *BrokerClient) decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, err := io.ReadAll(resp.Body)
	if err == nil {
		json.Unmarshal(body, apiErr)
	}
	return apiErr
}

// tokenClaims decodes the claims segment of a JWT without verifying it.
// The broker verified the token before issuing; the client only needs
// the bookkeeping fields.
func tokenClaims(token string) map[string]any {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}
	data, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil
	}
	var claims map[string]any
	if json.Unmarshal(data, &claims) != nil {
		return nil
	}
	return claims
}

func tokenSubject(token string) string {
	claims := tokenClaims(token)
	sub, _ := claims["sub"].(string)
	return sub
}

func tokenExpiry(token string) time.Time {
	claims := tokenClaims(token)
	if exp, ok := claims["exp"].(float64); ok {
		return time.Unix(int64(exp), 0)
	}
	return time.Time{}
}
