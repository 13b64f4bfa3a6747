package crosslogin_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	cl "github.com/crosslogin/crosslogin"
	"github.com/crosslogin/crosslogin/stores"
)

type sentCode struct {
	To      string
	Purpose cl.CodePurpose
	Code    string
}

// recordingSender captures issued codes so tests can play the user's part.
type recordingSender struct {
	sent []sentCode
}

func (s *recordingSender) SendEmailCode(to string, purpose cl.CodePurpose, code string) error {
	s.sent = append(s.sent, sentCode{To: to, Purpose: purpose, Code: code})
	return nil
}

func (s *recordingSender) SendPhoneCode(to string, purpose cl.CodePurpose, code string) error {
	s.sent = append(s.sent, sentCode{To: to, Purpose: purpose, Code: code})
	return nil
}

func (s *recordingSender) last(t *testing.T) sentCode {
	t.Helper()
	if len(s.sent) == 0 {
		t.Fatal("no code was sent")
	}
	return s.sent[len(s.sent)-1]
}

func newTestEngine(t *testing.T) (*cl.Engine, *recordingSender) {
	t.Helper()
	dir := t.TempDir()
	sender := &recordingSender{}
	cfg := &cl.Config{JWTSecretKey: "test-secret"}
	providers := cl.NewProviderRegistry(append(cl.DefaultProviders(),
		cl.ProviderDefinition{Code: "google", Label: "Google", HandlesEmail: true},
		cl.ProviderDefinition{Code: "saml", Label: "SSO", HandlesEmail: true, UpdateOnly: true},
	)...)
	engine := cl.NewEngine(cfg,
		stores.NewFSUserStore(dir),
		stores.NewFSRequestStore(dir),
		stores.NewFSCodeStore(dir),
		providers, sender, nil)
	return engine, sender
}

func TestBeginLogin(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	start, err := e.BeginLogin(ctx, "Alice@Example.COM", "")
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	if start.RequestID == "" {
		t.Error("expected a request id")
	}
	if start.Format != cl.FormatEmail || start.Input != "alice@example.com" {
		t.Errorf("got (%s, %q), want normalized email", start.Format, start.Input)
	}
	for _, d := range start.Providers {
		if d.UpdateOnly {
			t.Errorf("update-only provider %q offered at login start", d.Code)
		}
		if !d.HandlesEmail {
			t.Errorf("provider %q does not handle email", d.Code)
		}
	}
	if start.ExpiresOn.IsZero() {
		t.Error("request should carry an expiry")
	}

	// The request is not yet bound to anyone
	if _, err := e.Requests.Read(ctx, start.RequestID); !errors.Is(err, cl.ErrNotFound) {
		t.Errorf("Read before completion = %v, want ErrNotFound", err)
	}

	if _, err := e.BeginLogin(ctx, "   ", ""); err == nil {
		t.Error("expected an error on an empty input")
	}
}

func TestCodeLoginHandshake(t *testing.T) {
	ctx := context.Background()
	e, sender := newTestEngine(t)

	start, err := e.BeginLogin(ctx, "alice@example.com", "")
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	if err := e.SendCode(ctx, start.Format, start.Input, cl.PurposeLogin, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	code := sender.last(t)
	if code.To != "alice@example.com" || code.Purpose != cl.PurposeLogin {
		t.Errorf("code sent to (%q, %s)", code.To, code.Purpose)
	}

	user, err := e.CompleteCode(ctx, start.RequestID, start.Format, start.Input, cl.PurposeLogin, code.Code, "")
	if err != nil {
		t.Fatalf("CompleteCode failed: %v", err)
	}
	in := user.FindInput(cl.FormatEmail, "alice@example.com")
	if in == nil || !in.IsPrimary || !in.IsValidated {
		t.Errorf("new user's input = %+v, want primary validated email", in)
	}
	if in.Provider(cl.ProviderOTPEmail) == nil {
		t.Error("expected the otp-email provider link")
	}

	// The redirected caller reads the resolved request, repeatedly
	for i := 0; i < 2; i++ {
		got, err := e.Requests.Read(ctx, start.RequestID)
		if err != nil || got != user.ID {
			t.Fatalf("Read #%d = (%q, %v), want %q", i, got, err, user.ID)
		}
	}

	// Codes are single use
	_, err = e.CompleteCode(ctx, "", start.Format, start.Input, cl.PurposeLogin, code.Code, "")
	if !errors.Is(err, cl.ErrNotValid) {
		t.Errorf("reusing code = %v, want ErrNotValid", err)
	}
}

func TestCompleteCodeWrongCode(t *testing.T) {
	ctx := context.Background()
	e, sender := newTestEngine(t)

	if err := e.SendCode(ctx, cl.FormatEmail, "alice@example.com", cl.PurposeLogin, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	if _, err := e.CompleteCode(ctx, "", cl.FormatEmail, "alice@example.com", cl.PurposeLogin, "000000", ""); !errors.Is(err, cl.ErrNotValid) {
		t.Fatalf("wrong code = %v, want ErrNotValid", err)
	}
	// A wrong guess does not burn the real code
	code := sender.last(t)
	if _, err := e.CompleteCode(ctx, "", cl.FormatEmail, "alice@example.com", cl.PurposeLogin, code.Code, ""); err != nil {
		t.Errorf("correct code after a wrong guess failed: %v", err)
	}
}

func TestSendCodeProviderSelection(t *testing.T) {
	ctx := context.Background()
	e, sender := newTestEngine(t)

	// Password is not a code-verification provider
	err := e.SendCode(ctx, cl.FormatEmail, "a@b.com", cl.PurposeLogin, cl.ProviderPassword)
	if !errors.Is(err, cl.ErrUnknownProvider) {
		t.Errorf("SendCode(password) = %v, want ErrUnknownProvider", err)
	}

	// Phone inputs route through the SMS provider
	if err := e.SendCode(ctx, cl.FormatPhone, "15551234567", cl.PurposeLogin, ""); err != nil {
		t.Fatalf("SendCode(phone) failed: %v", err)
	}
	if got := sender.last(t); got.To != "15551234567" {
		t.Errorf("phone code sent to %q", got.To)
	}
}

func TestLockedAccountStopsHandshake(t *testing.T) {
	ctx := context.Background()
	e, sender := newTestEngine(t)

	user := mustLogin(t, e, sender, "alice@example.com")
	user.IsLocked = true
	if err := e.Users.Update(ctx, user); err != nil {
		t.Fatalf("locking failed: %v", err)
	}

	start, _ := e.BeginLogin(ctx, "alice@example.com", "")
	if err := e.SendCode(ctx, start.Format, start.Input, cl.PurposeLogin, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	code := sender.last(t)
	if _, err := e.CompleteCode(ctx, start.RequestID, start.Format, start.Input, cl.PurposeLogin, code.Code, ""); !errors.Is(err, cl.ErrLocked) {
		t.Fatalf("locked login = %v, want ErrLocked", err)
	}
	// The request was never bound
	if _, err := e.Requests.Read(ctx, start.RequestID); !errors.Is(err, cl.ErrNotFound) {
		t.Errorf("Read after locked completion = %v, want ErrNotFound", err)
	}
}

// mustLogin runs a full code login for the email and returns the user.
func mustLogin(t *testing.T, e *cl.Engine, sender *recordingSender, email string) *cl.User {
	t.Helper()
	ctx := context.Background()
	start, err := e.BeginLogin(ctx, email, "")
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	if err := e.SendCode(ctx, start.Format, start.Input, cl.PurposeLogin, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	user, err := e.CompleteCode(ctx, start.RequestID, start.Format, start.Input, cl.PurposeLogin, sender.last(t).Code, "")
	if err != nil {
		t.Fatalf("CompleteCode failed: %v", err)
	}
	return user
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	e, sender := newTestEngine(t)

	if err := e.SendCode(ctx, cl.FormatEmail, "alice@example.com", cl.PurposeRegistration, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	profile := cl.RegistrationProfile{FirstName: "Alice", DisplayName: "alice", Username: "alice"}
	user, err := e.Register(ctx, "", cl.FormatEmail, "alice@example.com", sender.last(t).Code, "hunter2hunter2", profile)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.FirstName != "Alice" || user.DisplayName != "alice" {
		t.Errorf("profile not applied: %+v", user)
	}
	in := user.FindInput(cl.FormatEmail, "alice@example.com")
	if in == nil || in.Provider(cl.ProviderPassword) == nil {
		t.Fatal("expected a password link on the registered input")
	}
	if in.Provider(cl.ProviderPassword).PasswordHash == "hunter2hunter2" {
		t.Error("password stored in the clear")
	}

	// The same input cannot be registered twice
	if err := e.SendCode(ctx, cl.FormatEmail, "alice@example.com", cl.PurposeRegistration, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	if _, err := e.Register(ctx, "", cl.FormatEmail, "alice@example.com", sender.last(t).Code, "", cl.RegistrationProfile{}); !errors.Is(err, cl.ErrDuplicateInput) {
		t.Errorf("duplicate Register = %v, want ErrDuplicateInput", err)
	}
}

func registerWithPassword(t *testing.T, e *cl.Engine, sender *recordingSender, email, password string) *cl.User {
	t.Helper()
	ctx := context.Background()
	if err := e.SendCode(ctx, cl.FormatEmail, email, cl.PurposeRegistration, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	user, err := e.Register(ctx, "", cl.FormatEmail, email, sender.last(t).Code, password, cl.RegistrationProfile{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return user
}

func TestCompletePassword(t *testing.T) {
	ctx := context.Background()
	e, sender := newTestEngine(t)
	user := registerWithPassword(t, e, sender, "alice@example.com", "hunter2hunter2")

	start, _ := e.BeginLogin(ctx, "alice@example.com", "")
	got, err := e.CompletePassword(ctx, start.RequestID, "Alice@Example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("CompletePassword failed: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("resolved %q, want %q", got.ID, user.ID)
	}
	if resolved, err := e.Requests.Read(ctx, start.RequestID); err != nil || resolved != user.ID {
		t.Errorf("Read = (%q, %v)", resolved, err)
	}

	if _, err := e.CompletePassword(ctx, "", "alice@example.com", "wrong"); !errors.Is(err, cl.ErrNotValid) {
		t.Errorf("wrong password = %v, want ErrNotValid", err)
	}
	// An unknown input fails the same way as a bad password
	if _, err := e.CompletePassword(ctx, "", "nobody@example.com", "hunter2hunter2"); !errors.Is(err, cl.ErrNotValid) {
		t.Errorf("unknown input = %v, want ErrNotValid", err)
	}
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()
	e, sender := newTestEngine(t)
	registerWithPassword(t, e, sender, "alice@example.com", "oldpassword1234")

	if err := e.SendCode(ctx, cl.FormatEmail, "alice@example.com", cl.PurposePasswordReset, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	if err := e.ResetPassword(ctx, cl.FormatEmail, "alice@example.com", sender.last(t).Code, "newpassword1234"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	if _, err := e.CompletePassword(ctx, "", "alice@example.com", "oldpassword1234"); !errors.Is(err, cl.ErrNotValid) {
		t.Errorf("old password still works: %v", err)
	}
	if _, err := e.CompletePassword(ctx, "", "alice@example.com", "newpassword1234"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestEngineAddInput(t *testing.T) {
	ctx := context.Background()
	e, sender := newTestEngine(t)
	user := mustLogin(t, e, sender, "alice@example.com")

	if err := e.SendCode(ctx, cl.FormatPhone, "15551234567", cl.PurposeAddInput, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	if err := e.AddInput(ctx, user.ID, cl.FormatPhone, "15551234567", sender.last(t).Code); err != nil {
		t.Fatalf("AddInput failed: %v", err)
	}

	got, _ := e.Users.Get(ctx, user.ID)
	if got.FindInput(cl.FormatPhone, "15551234567") == nil {
		t.Fatal("phone input not attached")
	}

	// Another account cannot claim the same phone
	other := mustLogin(t, e, sender, "bob@example.com")
	if err := e.SendCode(ctx, cl.FormatPhone, "15551234567", cl.PurposeAddInput, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	if err := e.AddInput(ctx, other.ID, cl.FormatPhone, "15551234567", sender.last(t).Code); !errors.Is(err, cl.ErrDuplicateInput) {
		t.Errorf("cross-user AddInput = %v, want ErrDuplicateInput", err)
	}
}

func TestCompleteProviderClaim(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	claim := &cl.ProviderClaim{
		Provider: "google",
		Subject:  "sub-123",
		Format:   cl.FormatEmail,
		Input:    "alice@example.com",
	}
	start, _ := e.BeginLogin(ctx, "alice@example.com", "")
	user, err := e.CompleteProviderClaim(ctx, start.RequestID, claim)
	if err != nil {
		t.Fatalf("CompleteProviderClaim failed: %v", err)
	}
	in := user.FindInput(cl.FormatEmail, "alice@example.com")
	if in == nil || in.Provider("google") == nil || in.Provider("google").Identifier != "sub-123" {
		t.Errorf("missing google link: %+v", in)
	}

	// An update-only provider cannot originate an account
	ssoClaim := &cl.ProviderClaim{Provider: "saml", Subject: "s-1", Format: cl.FormatEmail, Input: "new@example.com"}
	if _, err := e.CompleteProviderClaim(ctx, "", ssoClaim); !errors.Is(err, cl.ErrNotValidated) {
		t.Errorf("update-only on new input = %v, want ErrNotValidated", err)
	}
	// But it signs in an existing one
	ssoClaim.Input = "alice@example.com"
	got, err := e.CompleteProviderClaim(ctx, "", ssoClaim)
	if err != nil {
		t.Fatalf("update-only on existing input failed: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("resolved %q, want %q", got.ID, user.ID)
	}

	if _, err := e.CompleteProviderClaim(ctx, "", &cl.ProviderClaim{Provider: "nope"}); !errors.Is(err, cl.ErrUnknownProvider) {
		t.Errorf("unknown provider = %v, want ErrUnknownProvider", err)
	}
}

func TestIssueAndVerifySession(t *testing.T) {
	e, sender := newTestEngine(t)
	user := mustLogin(t, e, sender, "alice@example.com")

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	token, err := e.IssueSession(w, r, user, true)
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "CrossLoginAuthToken" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("auth token cookie not set")
	}
	if cookie.Value != token {
		t.Error("cookie does not carry the issued token")
	}
	if cookie.MaxAge <= 0 {
		t.Error("keepSignedIn should set a persistent cookie")
	}

	sub, err := e.VerifyAuthToken(token)
	if err != nil || sub != user.ID {
		t.Errorf("VerifyAuthToken = (%q, %v), want %q", sub, err, user.ID)
	}

	if _, err := e.VerifyAuthToken(token + "x"); err == nil {
		t.Error("tampered token verified")
	}

	// Session-only issuance leaves MaxAge unset
	w2 := httptest.NewRecorder()
	if _, err := e.IssueSession(w2, r, user, false); err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}
	for _, c := range w2.Result().Cookies() {
		if c.Name == "CrossLoginAuthToken" && c.MaxAge != 0 {
			t.Errorf("session-only cookie MaxAge = %d", c.MaxAge)
		}
	}

	// Locked accounts never get a token
	user.IsLocked = true
	if _, err := e.IssueSession(httptest.NewRecorder(), r, user, true); !errors.Is(err, cl.ErrLocked) {
		t.Errorf("IssueSession locked = %v, want ErrLocked", err)
	}
}

func TestClearSession(t *testing.T) {
	e, _ := newTestEngine(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	e.ClearSession(w, r)

	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "CrossLoginAuthToken" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("auth token cookie was not expired")
	}
}

func TestSessionExpiry(t *testing.T) {
	e, sender := newTestEngine(t)
	user := mustLogin(t, e, sender, "alice@example.com")

	issued := time.Now().Add(-60 * 24 * time.Hour)
	e.Now = func() time.Time { return issued }
	token, err := e.IssueSession(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil), user, true)
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}
	e.Now = nil

	if _, err := e.VerifyAuthToken(token); err == nil {
		t.Error("expired token verified")
	}
}
