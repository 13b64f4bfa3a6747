package crosslogin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// LoginStart is the engine's answer to a begun handshake: the request
// correlation token plus the providers applicable to the entered input.
type LoginStart struct {
	RequestID string               `json:"request_id"`
	Format    InputFormat          `json:"format"`
	Input     string               `json:"input"`
	Providers []ProviderDefinition `json:"providers"`
	ExpiresOn time.Time            `json:"expires_on"`
}

// RegistrationProfile carries the optional profile fields collected at
// registration.
type RegistrationProfile struct {
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	Username    string     `json:"username,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
}

// Engine orchestrates the login handshake: providers resolve the entered
// input, codes or federated claims verify it, the input registry resolves
// the identity, the correlator publishes the result across the redirect
// boundary, and session issuance is the final step.
type Engine struct {
	Users     UserStore
	Inputs    *InputRegistry
	Codes     *CodeManager
	Requests  *RequestCorrelator
	Providers *ProviderRegistry
	Sender    CodeSender

	Session *scs.SessionManager
	Config  *Config

	// Name of the session variable / cookie where the auth token is stored
	AuthTokenSessionVar string

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewEngine wires an engine from a config, a store set and a provider
// registry. The session manager should be created by the application so
// it can share it with other handlers.
func NewEngine(cfg *Config, users UserStore, requests RequestStore, codes CodeStore, providers *ProviderRegistry, sender CodeSender, session *scs.SessionManager) *Engine {
	cfg.EnsureDefaults()
	e := &Engine{
		Users:     users,
		Inputs:    NewInputRegistry(users),
		Codes:     &CodeManager{Store: codes, Length: cfg.CodeLength, TTL: cfg.CodeTTL},
		Requests:  &RequestCorrelator{Store: requests, TTL: cfg.RequestTTL},
		Providers: providers,
		Sender:    sender,
		Session:   session,
		Config:    cfg,
	}
	return e.EnsureDefaults()
}

func (e *Engine) EnsureDefaults() *Engine {
	if e.Config == nil {
		e.Config = (&Config{}).EnsureDefaults()
	}
	if e.AuthTokenSessionVar == "" {
		e.AuthTokenSessionVar = e.Config.AppName + "AuthToken"
	}
	if e.Sender == nil {
		e.Sender = &ConsoleCodeSender{}
	}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// BeginLogin starts a handshake for a raw input string. The format is
// inferred, the input normalized, applicable providers resolved, and a
// login request created so the result survives the redirect boundary.
// A caller-supplied requestID is honored.
func (e *Engine) BeginLogin(ctx context.Context, rawInput, requestID string) (*LoginStart, error) {
	format := DetectInputFormat(rawInput)
	input := NormalizeInput(format, rawInput)
	if input == "" {
		return nil, NewAuthError(ErrCodeMissingField, "login input required", "input")
	}
	req, err := e.Requests.Create(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &LoginStart{
		RequestID: req.RequestID,
		Format:    format,
		Input:     input,
		Providers: e.Providers.ResolveForInput(format, false),
		ExpiresOn: req.ExpiresOn,
	}, nil
}

// ProvidersFor lists the providers applicable to an input format.
// updating=true widens the set to update-only providers for add-input
// handshakes on an already-authenticated account.
func (e *Engine) ProvidersFor(format InputFormat, updating bool) []ProviderDefinition {
	return e.Providers.ResolveForInput(format, updating)
}

// SendCode issues a verification code for (format, input) under the
// given purpose and hands it to the sender. providerCode selects the
// code provider; empty picks the first code-verification provider that
// handles the format. A delivery failure does not roll back issuance.
func (e *Engine) SendCode(ctx context.Context, format InputFormat, input string, purpose CodePurpose, providerCode string) error {
	def, err := e.codeProvider(format, providerCode)
	if err != nil {
		return err
	}
	code, err := e.Codes.Issue(ctx, InputTarget(format, input), purpose, e.Config.CodeLength, e.Config.CodeTTL)
	if err != nil {
		return err
	}
	var sendErr error
	switch format {
	case FormatEmail:
		sendErr = e.Sender.SendEmailCode(input, purpose, code)
	case FormatPhone:
		sendErr = e.Sender.SendPhoneCode(input, purpose, code)
	default:
		sendErr = fmt.Errorf("no sender for format %q", format)
	}
	if sendErr != nil {
		// Best effort only: the user will hit Expired or ask for a resend.
		slog.Warn("code delivery failed", "provider", def.Code, "purpose", purpose, "err", sendErr)
	}
	return nil
}

func (e *Engine) codeProvider(format InputFormat, providerCode string) (*ProviderDefinition, error) {
	if providerCode != "" {
		def, err := e.Providers.Get(providerCode)
		if err != nil {
			return nil, err
		}
		if !def.IsCodeVerification || !def.Handles(format) {
			return nil, ErrUnknownProvider
		}
		return def, nil
	}
	for _, def := range e.Providers.ResolveForInput(format, true) {
		if def.IsCodeVerification {
			return &def, nil
		}
	}
	return nil, ErrUnknownProvider
}

// CompleteCode finishes a code-based login: the code is validated first,
// then the identity is resolved (creating the user on a never-before-seen
// input), then the login request is resolved. Locked accounts stop the
// handshake before the request is bound.
func (e *Engine) CompleteCode(ctx context.Context, requestID string, format InputFormat, input string, purpose CodePurpose, supplied, providerCode string) (*User, error) {
	if providerCode == "" {
		if def, err := e.codeProvider(format, ""); err == nil {
			providerCode = def.Code
		}
	}
	if err := e.Codes.Validate(ctx, InputTarget(format, input), purpose, supplied); err != nil {
		return nil, err
	}
	user, err := e.Inputs.ResolveOrCreateUser(ctx, format, input, LoginProvider{Code: providerCode})
	if err != nil {
		return nil, err
	}
	return e.finishHandshake(ctx, requestID, user)
}

// CompletePassword finishes a password login. The input must belong to
// an existing user carrying a password provider link on that input.
func (e *Engine) CompletePassword(ctx context.Context, requestID, rawInput, password string) (*User, error) {
	format := DetectInputFormat(rawInput)
	input := NormalizeInput(format, rawInput)
	user, err := e.Users.FindByInput(ctx, format, input)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Do not reveal whether the input exists.
			return nil, ErrNotValid
		}
		return nil, err
	}
	in := user.FindInput(format, input)
	if in == nil {
		return nil, ErrNotValid
	}
	link := in.Provider(ProviderPassword)
	if link == nil || link.PasswordHash == "" {
		return nil, ErrNotValid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(password)); err != nil {
		return nil, ErrNotValid
	}
	if user, err = e.Inputs.recordSignIn(ctx, user.ID, format, input, LoginProvider{}); err != nil {
		return nil, err
	}
	return e.finishHandshake(ctx, requestID, user)
}

// CompleteProviderClaim finishes a federated login from a verified claim
// delivered by a provider callback. Update-only providers are refused
// when the claim would originate a brand-new account.
func (e *Engine) CompleteProviderClaim(ctx context.Context, requestID string, claim *ProviderClaim) (*User, error) {
	def, err := e.Providers.Get(claim.Provider)
	if err != nil {
		return nil, err
	}
	if def.UpdateOnly {
		if _, err := e.Users.FindByInput(ctx, claim.Format, claim.Input); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrNotValidated
			}
			return nil, err
		}
	}
	user, err := e.Inputs.ResolveOrCreateUser(ctx, claim.Format, claim.Input, LoginProvider{
		Code:       claim.Provider,
		Identifier: claim.Subject,
	})
	if err != nil {
		return nil, err
	}
	return e.finishHandshake(ctx, requestID, user)
}

// Register creates a new account after a registration code has been
// issued for the input. The code proves input validity; the optional
// password becomes a password provider link on the new input. An input
// already owned by any user fails with ErrDuplicateInput.
func (e *Engine) Register(ctx context.Context, requestID string, format InputFormat, input, supplied, password string, profile RegistrationProfile) (*User, error) {
	if _, err := e.Users.FindByInput(ctx, format, input); err == nil {
		return nil, ErrDuplicateInput
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err := e.Codes.Validate(ctx, InputTarget(format, input), PurposeRegistration, supplied); err != nil {
		return nil, err
	}

	link := LoginProvider{Code: ProviderOTPEmail}
	if format == FormatPhone {
		link.Code = ProviderOTPSMS
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		link = LoginProvider{Code: ProviderPassword, PasswordHash: string(hash)}
	}

	user, err := e.Inputs.ResolveOrCreateUser(ctx, format, input, link)
	if err != nil {
		return nil, err
	}
	if user, err = e.Inputs.withUser(ctx, user.ID, func(u *User) error {
		u.FirstName = profile.FirstName
		u.LastName = profile.LastName
		u.DisplayName = profile.DisplayName
		u.Username = profile.Username
		u.DateOfBirth = profile.DateOfBirth
		return nil
	}); err != nil {
		return nil, err
	}
	return e.finishHandshake(ctx, requestID, user)
}

// AddInput is its own short handshake on an already-authenticated user:
// no new account is created, the add-input code validates the new
// surface, and the input registry enforces uniqueness.
func (e *Engine) AddInput(ctx context.Context, userID string, format InputFormat, input, supplied string) error {
	if err := e.Codes.Validate(ctx, InputTarget(format, input), PurposeAddInput, supplied); err != nil {
		return err
	}
	return e.Inputs.AddInput(ctx, userID, LoginInput{
		Input:       input,
		Format:      format,
		IsValidated: true,
	})
}

// ChangePrimary promotes a validated input of the authenticated user to
// primary for its format.
func (e *Engine) ChangePrimary(ctx context.Context, userID string, format InputFormat, input string) error {
	return e.Inputs.SetPrimary(ctx, userID, format, input)
}

// RemoveInput detaches a surface from the authenticated user.
func (e *Engine) RemoveInput(ctx context.Context, userID string, format InputFormat, input string) error {
	return e.Inputs.RemoveInput(ctx, userID, format, input)
}

// ResetPassword sets a new password after a password-reset code has been
// validated for the input. The password link is created when the input
// did not carry one yet.
func (e *Engine) ResetPassword(ctx context.Context, format InputFormat, input, supplied, newPassword string) error {
	if err := e.Codes.Validate(ctx, InputTarget(format, input), PurposePasswordReset, supplied); err != nil {
		return err
	}
	user, err := e.Users.FindByInput(ctx, format, input)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	_, err = e.Inputs.withUser(ctx, user.ID, func(u *User) error {
		in := u.FindInput(format, input)
		if in == nil {
			return ErrNotFound
		}
		if link := in.Provider(ProviderPassword); link != nil {
			link.PasswordHash = string(hash)
		} else {
			in.Providers = append(in.Providers, LoginProvider{Code: ProviderPassword, PasswordHash: string(hash)})
		}
		return nil
	})
	return err
}

// finishHandshake applies the ordering discipline shared by every
// completion path: the identity is already resolved, the locked check
// runs before the request is bound, and session issuance (done by the
// HTTP layer reading the resolved request) comes last.
func (e *Engine) finishHandshake(ctx context.Context, requestID string, user *User) (*User, error) {
	if user.IsLocked {
		return nil, ErrLocked
	}
	if requestID != "" {
		if err := e.Requests.Resolve(ctx, requestID, user.ID); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// IssueSession mints the session artifact for a resolved identity and
// sets it on every configured cookie domain. keepSignedIn selects the
// configured login duration; otherwise the cookie is session-only.
// It refuses locked accounts regardless of how verification went.
func (e *Engine) IssueSession(w http.ResponseWriter, r *http.Request, user *User, keepSignedIn bool) (string, error) {
	e.EnsureDefaults()
	if user.IsLocked {
		return "", ErrLocked
	}

	lifetime := e.Config.LoginDuration
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user.ID,
		"iss": e.Config.JwtIssuer,
		"exp": e.now().Add(lifetime).Unix(),
		"iat": e.now().Unix(),
	})
	tokenString, err := token.SignedString([]byte(e.Config.JWTSecretKey))
	if err != nil {
		return "", fmt.Errorf("error signing token: %w", err)
	}

	if e.Session != nil {
		e.Session.Put(r.Context(), "loggedInUserId", user.ID)
		e.Session.Put(r.Context(), e.AuthTokenSessionVar, tokenString)
	}

	for _, cookieDomain := range e.cookieDomains() {
		cookie := &http.Cookie{
			Name:   e.AuthTokenSessionVar,
			Value:  tokenString,
			Domain: cookieDomain,
			Path:   "/",
		}
		if keepSignedIn {
			cookie.Expires = e.now().Add(lifetime)
			cookie.MaxAge = int(lifetime / time.Second)
		}
		http.SetCookie(w, cookie)
	}
	return tokenString, nil
}

// ClearSession logs the user out on every configured cookie domain.
func (e *Engine) ClearSession(w http.ResponseWriter, r *http.Request) {
	e.EnsureDefaults()
	log.Println("Logging out user")
	if e.Session != nil {
		if err := e.Session.Clear(r.Context()); err != nil {
			slog.Warn("error clearing session", "err", err)
		}
	}
	for _, cookieDomain := range e.cookieDomains() {
		http.SetCookie(w, &http.Cookie{
			Name:    e.AuthTokenSessionVar,
			Domain:  cookieDomain,
			Path:    "/",
			MaxAge:  -1,
			Expires: time.Unix(0, 0),
		})
	}
}

func (e *Engine) cookieDomains() []string {
	domains := e.Config.CookieDomains
	if slices.Index(domains, "") < 0 { // default domain
		domains = append(domains, "")
	}
	return domains
}

// VerifyAuthToken parses and verifies a session token, returning the
// user id it vouches for.
func (e *Engine) VerifyAuthToken(tokenString string) (string, error) {
	e.EnsureDefaults()
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(e.Config.JWTSecretKey), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims == nil {
		return "", fmt.Errorf("claims is not a map")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", fmt.Errorf("subject not found")
	}
	return sub, nil
}
