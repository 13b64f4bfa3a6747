package client

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	cl "github.com/crosslogin/crosslogin"
)

// memStore is an in-memory CredentialStore for tests
type memStore struct {
	creds map[string]*ServerCredential
	saved int
}

func newMemStore() *memStore {
	return &memStore{creds: make(map[string]*ServerCredential)}
}

func (m *memStore) GetCredential(serverURL string) (*ServerCredential, error) {
	return m.creds[serverURL], nil
}

func (m *memStore) SetCredential(serverURL string, cred *ServerCredential) error {
	m.creds[serverURL] = cred
	return nil
}

func (m *memStore) RemoveCredential(serverURL string) error {
	delete(m.creds, serverURL)
	return nil
}

func (m *memStore) ListServers() ([]string, error) {
	var out []string
	for k := range m.creds {
		out = append(out, k)
	}
	return out, nil
}

func (m *memStore) Save() error {
	m.saved++
	return nil
}

// fakeJWT builds an unsigned-but-shaped token the client can decode
func fakeJWT(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, _ := json.Marshal(map[string]any{"sub": sub, "exp": exp.Unix()})
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func TestTokenClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := fakeJWT(t, "user-42", exp)

	if got := tokenSubject(token); got != "user-42" {
		t.Errorf("tokenSubject = %q, want user-42", got)
	}
	if got := tokenExpiry(token); !got.Equal(exp) {
		t.Errorf("tokenExpiry = %v, want %v", got, exp)
	}
	if got := tokenSubject("not-a-jwt"); got != "" {
		t.Errorf("tokenSubject on garbage = %q, want empty", got)
	}
}

func newFakeBroker(t *testing.T) (*httptest.Server, *memStore, func(opts ...ClientOption) *BrokerClient) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/Account/BeginLogin", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(cl.LoginStart{
			RequestID: "req-1",
			Format:    cl.FormatEmail,
			Input:     "alice@example.com",
			Providers: []cl.ProviderDefinition{{Code: "password", HandlesEmail: true}},
		})
	})
	mux.HandleFunc("/Account/PasswordLogin", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": "invalid credentials", "code": "not_valid"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"user_id": "user-42"})
	})
	mux.HandleFunc("/Account/LoginResult", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("requestId") != "req-1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"error": "not found", "code": "not_found"})
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:  DefaultTokenCookie,
			Value: fakeJWT(t, "user-42", time.Now().Add(time.Hour)),
			Path:  "/",
		})
		http.Redirect(w, r, "/", http.StatusFound)
	})
	mux.HandleFunc("/Account/IsAuthenticated", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(r.Header.Get("Authorization") != "")
	})
	mux.HandleFunc("/Account/CurrentUser", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error": "Not authenticated"}`)
			return
		}
		json.NewEncoder(w).Encode(cl.User{ID: "user-42", DisplayName: "Alice"})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	store := newMemStore()
	factory := func(opts ...ClientOption) *BrokerClient {
		return NewBrokerClient(server.URL, store, opts...)
	}
	return server, store, factory
}

func TestBrokerClientHandshake(t *testing.T) {
	_, store, newClient := newFakeBroker(t)
	c := newClient()

	start, err := c.BeginLogin("Alice@Example.com")
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	if start.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", start.RequestID)
	}
	if len(start.Providers) != 1 || start.Providers[0].Code != "password" {
		t.Errorf("unexpected providers: %+v", start.Providers)
	}

	userID, err := c.PasswordLogin(start.RequestID, start.Input, "hunter2")
	if err != nil {
		t.Fatalf("PasswordLogin failed: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("userID = %q, want user-42", userID)
	}

	cred, err := c.CompleteLogin(start.RequestID, true)
	if err != nil {
		t.Fatalf("CompleteLogin failed: %v", err)
	}
	if cred.AuthToken == "" {
		t.Fatal("expected an auth token in the credential")
	}
	if cred.UserID != "user-42" {
		t.Errorf("credential UserID = %q, want user-42", cred.UserID)
	}
	if store.saved == 0 {
		t.Error("expected credential store Save to be called")
	}
	if !c.IsLoggedIn() {
		t.Error("expected IsLoggedIn after CompleteLogin")
	}

	// Authenticated calls carry the token
	user, err := c.CurrentUser()
	if err != nil {
		t.Fatalf("CurrentUser failed: %v", err)
	}
	if user.ID != "user-42" {
		t.Errorf("user.ID = %q, want user-42", user.ID)
	}
	ok, err := c.IsAuthenticated()
	if err != nil || !ok {
		t.Errorf("IsAuthenticated = %v, %v; want true", ok, err)
	}

	if err := c.Logout(); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if c.IsLoggedIn() {
		t.Error("expected logged out after Logout")
	}
}

func TestBrokerClientErrors(t *testing.T) {
	_, _, newClient := newFakeBroker(t)
	c := newClient()

	_, err := c.PasswordLogin("req-1", "alice@example.com", "wrong")
	if err == nil {
		t.Fatal("expected error for bad password")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Code != "not_valid" {
		t.Errorf("Code = %q, want not_valid", apiErr.Code)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", apiErr.Status)
	}

	if _, err := c.CompleteLogin("unknown-request", false); err == nil {
		t.Error("expected error completing an unknown request")
	}
}

func TestExpiredCredentialYieldsNoToken(t *testing.T) {
	_, store, newClient := newFakeBroker(t)
	c := newClient()

	store.SetCredential(c.ServerURL(), &ServerCredential{
		AuthToken: "stale",
		ExpiresAt: time.Now().Add(-time.Minute),
	})

	token, err := c.GetToken()
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if token != "" {
		t.Errorf("expected empty token for expired credential, got %q", token)
	}
	if c.IsLoggedIn() {
		t.Error("expected IsLoggedIn false for expired credential")
	}
}
