package crosslogin

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
)

// AccountHandler exposes the broker's HTTP surface under /Account. The
// GET routes serve browsers crossing the redirect boundary; the POST
// routes are the JSON API the external login UI drives the handshake
// with.
type AccountHandler struct {
	Engine     *Engine
	Middleware *Middleware
}

// NewAccountHandler builds the HTTP surface for an engine.
func NewAccountHandler(engine *Engine) *AccountHandler {
	engine.EnsureDefaults()
	h := &AccountHandler{Engine: engine}
	h.Middleware = &Middleware{
		AuthTokenCookieName: engine.AuthTokenSessionVar,
		VerifyToken:         engine.VerifyAuthToken,
	}
	if engine.Session != nil {
		h.Middleware.SessionGetter = func(r *http.Request, param string) any {
			return engine.Session.Get(r.Context(), param)
		}
	}
	return h
}

// Handler returns the routed /Account surface. When a session manager is
// configured the whole tree is wrapped in its load/save middleware.
func (h *AccountHandler) Handler() http.Handler {
	r := mux.NewRouter()
	account := r.PathPrefix("/Account").Subrouter()

	account.HandleFunc("/Login", h.onLogin).Methods(http.MethodGet)
	account.HandleFunc("/LoginResult", h.onLoginResult).Methods(http.MethodGet)
	account.HandleFunc("/Logout", h.onLogout).Methods(http.MethodGet)
	account.HandleFunc("/CurrentUser", h.onCurrentUser).Methods(http.MethodGet)
	account.HandleFunc("/IsAuthenticated", h.onIsAuthenticated).Methods(http.MethodGet)
	account.HandleFunc("/AutomaticLogin", h.onAutomaticLogin).Methods(http.MethodGet)

	// Sub-handshakes on the already-authenticated user
	account.Handle("/ChangePrimary", h.requireUser(h.onSubHandshake("ChangePrimary"))).Methods(http.MethodGet)
	account.Handle("/AddInput", h.requireUser(h.onSubHandshake("AddInput"))).Methods(http.MethodGet)
	account.Handle("/Update", h.requireUser(h.onSubHandshake("Update"))).Methods(http.MethodGet)

	// JSON API for the login UI
	account.HandleFunc("/BeginLogin", h.onBeginLogin).Methods(http.MethodPost)
	account.HandleFunc("/SendCode", h.onSendCode).Methods(http.MethodPost)
	account.HandleFunc("/VerifyCode", h.onVerifyCode).Methods(http.MethodPost)
	account.HandleFunc("/PasswordLogin", h.onPasswordLogin).Methods(http.MethodPost)
	account.HandleFunc("/Register", h.onRegister).Methods(http.MethodPost)
	account.HandleFunc("/ResetPassword", h.onResetPassword).Methods(http.MethodPost)
	account.Handle("/SetPrimary", h.requireUser(http.HandlerFunc(h.onSetPrimary))).Methods(http.MethodPost)
	account.Handle("/AddUserInput", h.requireUser(http.HandlerFunc(h.onAddUserInput))).Methods(http.MethodPost)
	account.Handle("/RemoveInput", h.requireUser(http.HandlerFunc(h.onRemoveInput))).Methods(http.MethodPost)

	var out http.Handler = r
	if h.Engine.Session != nil {
		out = h.Engine.Session.LoadAndSave(out)
	}
	return out
}

func (h *AccountHandler) requireUser(next http.Handler) http.Handler {
	return h.Middleware.EnsureUser(next)
}

// onLogin begins a handshake: a fresh login request is created and the
// browser is redirected to the external login UI carrying the request id
// and the eventual return address.
func (h *AccountHandler) onLogin(w http.ResponseWriter, r *http.Request) {
	returnUrl := r.URL.Query().Get("ReturnUrl")
	req, err := h.Engine.Requests.Create(r.Context(), r.URL.Query().Get("requestId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	loginURL := h.Engine.Config.LoginURL
	if loginURL == "" {
		h.writeJSON(w, map[string]any{"request_id": req.RequestID, "expires_on": req.ExpiresOn})
		return
	}
	q := url.Values{}
	q.Set("requestId", req.RequestID)
	if returnUrl != "" {
		q.Set("ReturnUrl", returnUrl)
	}
	http.Redirect(w, r, loginURL+"?"+q.Encode(), http.StatusFound)
}

// onLoginResult completes the handshake on the caller's origin: the
// request id is read back, the resolved user loaded, and the session
// issued with the requested duration.
func (h *AccountHandler) onLoginResult(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requestID := q.Get("requestId")
	if requestID == "" {
		h.writeError(w, NewAuthError(ErrCodeMissingField, "requestId required", "requestId"))
		return
	}

	userID, err := h.Engine.Requests.Read(r.Context(), requestID)
	if err != nil {
		h.loginResultError(w, r, err)
		return
	}
	if expected := q.Get("currentUser"); expected != "" && expected != userID {
		// A request id belongs to exactly one login attempt.
		h.loginResultError(w, r, ErrConflict)
		return
	}
	user, err := h.Engine.Users.Get(r.Context(), userID)
	if err != nil {
		h.loginResultError(w, r, err)
		return
	}

	keep := strings.EqualFold(q.Get("KeepMeSignedIn"), "true")
	if _, err := h.Engine.IssueSession(w, r, user, keep); err != nil {
		h.loginResultError(w, r, err)
		return
	}

	returnUrl := q.Get("ReturnUrl")
	if returnUrl == "" {
		returnUrl = "/"
	}
	http.Redirect(w, r, returnUrl, http.StatusFound)
}

// loginResultError sends the browser back to the login UI with an error
// flag when one is configured; API-style callers get the mapped status.
func (h *AccountHandler) loginResultError(w http.ResponseWriter, r *http.Request, err error) {
	loginURL := h.Engine.Config.LoginURL
	if loginURL == "" {
		h.writeError(w, err)
		return
	}
	q := url.Values{}
	q.Set("error", ErrorCode(err))
	http.Redirect(w, r, loginURL+"?"+q.Encode(), http.StatusFound)
}

func (h *AccountHandler) onLogout(w http.ResponseWriter, r *http.Request) {
	h.Engine.ClearSession(w, r)
	http.Redirect(w, r, "/", http.StatusFound)
}

// onSubHandshake redirects into the login UI for change-primary,
// add-input and update flows. The current user is carried along so no
// new account can be originated from these entry points.
func (h *AccountHandler) onSubHandshake(mode string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := h.Middleware.GetLoggedInUserId(r)
		req, err := h.Engine.Requests.Create(r.Context(), "")
		if err != nil {
			h.writeError(w, err)
			return
		}
		loginURL := h.Engine.Config.LoginURL
		if loginURL == "" {
			h.writeJSON(w, map[string]any{"request_id": req.RequestID, "mode": mode})
			return
		}
		q := url.Values{}
		q.Set("requestId", req.RequestID)
		q.Set("mode", mode)
		q.Set("currentUser", userID)
		if returnUrl := r.URL.Query().Get("ReturnUrl"); returnUrl != "" {
			q.Set("ReturnUrl", returnUrl)
		}
		http.Redirect(w, r, loginURL+"?"+q.Encode(), http.StatusFound)
	})
}

func (h *AccountHandler) onCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID := h.Middleware.GetLoggedInUserId(r)
	if userID == "" {
		http.Error(w, `{"error": "Not authenticated"}`, http.StatusNotFound)
		return
	}
	user, err := h.Engine.Users.Get(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, user)
}

func (h *AccountHandler) onIsAuthenticated(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.Middleware.GetLoggedInUserId(r) != "")
}

// onAutomaticLogin reports whether a silent re-authentication from the
// auth-token cookie succeeds, refreshing the session variable when it
// does.
func (h *AccountHandler) onAutomaticLogin(w http.ResponseWriter, r *http.Request) {
	userID := h.Middleware.GetLoggedInUserId(r)
	if userID == "" {
		h.writeJSON(w, false)
		return
	}
	user, err := h.Engine.Users.Get(r.Context(), userID)
	if err != nil || user.IsLocked {
		h.writeJSON(w, false)
		return
	}
	if h.Engine.Session != nil {
		h.Engine.Session.Put(r.Context(), "loggedInUserId", user.ID)
	}
	h.writeJSON(w, true)
}

type beginLoginRequest struct {
	Input     string `json:"input"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *AccountHandler) onBeginLogin(w http.ResponseWriter, r *http.Request) {
	var req beginLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewAuthError(ErrCodeInvalidInput, "invalid post body", ""))
		return
	}
	start, err := h.Engine.BeginLogin(r.Context(), req.Input, req.RequestID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, start)
}

type codeRequest struct {
	RequestID string      `json:"request_id,omitempty"`
	Format    InputFormat `json:"format"`
	Input     string      `json:"input"`
	Purpose   CodePurpose `json:"purpose,omitempty"`
	Provider  string      `json:"provider,omitempty"`
	Code      string      `json:"code,omitempty"`
}

func (h *AccountHandler) onSendCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewAuthError(ErrCodeInvalidInput, "invalid post body", ""))
		return
	}
	if req.Purpose == "" {
		req.Purpose = PurposeLogin
	}
	input := NormalizeInput(req.Format, req.Input)
	if err := h.Engine.SendCode(r.Context(), req.Format, input, req.Purpose, req.Provider); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"sent": true})
}

func (h *AccountHandler) onVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewAuthError(ErrCodeInvalidInput, "invalid post body", ""))
		return
	}
	if req.Purpose == "" {
		req.Purpose = PurposeLogin
	}
	input := NormalizeInput(req.Format, req.Input)
	user, err := h.Engine.CompleteCode(r.Context(), req.RequestID, req.Format, input, req.Purpose, req.Code, req.Provider)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"user_id": user.ID})
}

type passwordLoginRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Input     string `json:"input"`
	Password  string `json:"password"`
}

func (h *AccountHandler) onPasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req passwordLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewAuthError(ErrCodeInvalidInput, "invalid post body", ""))
		return
	}
	user, err := h.Engine.CompletePassword(r.Context(), req.RequestID, req.Input, req.Password)
	if err != nil {
		log.Println("password login failed: ", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"user_id": user.ID})
}

type registerRequest struct {
	RequestID string              `json:"request_id,omitempty"`
	Format    InputFormat         `json:"format"`
	Input     string              `json:"input"`
	Code      string              `json:"code"`
	Password  string              `json:"password,omitempty"`
	Profile   RegistrationProfile `json:"profile"`
}

func (h *AccountHandler) onRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewAuthError(ErrCodeInvalidInput, "invalid post body", ""))
		return
	}
	input := NormalizeInput(req.Format, req.Input)
	user, err := h.Engine.Register(r.Context(), req.RequestID, req.Format, input, req.Code, req.Password, req.Profile)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"user_id": user.ID})
}

type resetPasswordRequest struct {
	Format   InputFormat `json:"format"`
	Input    string      `json:"input"`
	Code     string      `json:"code"`
	Password string      `json:"password"`
}

func (h *AccountHandler) onResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewAuthError(ErrCodeInvalidInput, "invalid post body", ""))
		return
	}
	input := NormalizeInput(req.Format, req.Input)
	if err := h.Engine.ResetPassword(r.Context(), req.Format, input, req.Code, req.Password); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"success": true})
}

type inputRequest struct {
	Format InputFormat `json:"format"`
	Input  string      `json:"input"`
	Code   string      `json:"code,omitempty"`
}

func (h *AccountHandler) onSetPrimary(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewAuthError(ErrCodeInvalidInput, "invalid post body", ""))
		return
	}
	userID := h.Middleware.GetLoggedInUserId(r)
	input := NormalizeInput(req.Format, req.Input)
	if err := h.Engine.ChangePrimary(r.Context(), userID, req.Format, input); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"success": true})
}

func (h *AccountHandler) onAddUserInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewAuthError(ErrCodeInvalidInput, "invalid post body", ""))
		return
	}
	userID := h.Middleware.GetLoggedInUserId(r)
	input := NormalizeInput(req.Format, req.Input)
	if err := h.Engine.AddInput(r.Context(), userID, req.Format, input, req.Code); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"success": true})
}

func (h *AccountHandler) onRemoveInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewAuthError(ErrCodeInvalidInput, "invalid post body", ""))
		return
	}
	userID := h.Middleware.GetLoggedInUserId(r)
	input := NormalizeInput(req.Format, req.Input)
	if err := h.Engine.RemoveInput(r.Context(), userID, req.Format, input); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"success": true})
}

func (h *AccountHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("error encoding response: ", err)
	}
}

func (h *AccountHandler) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	var authErr *AuthError
	if errors.As(err, &authErr) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(authErr)
		return
	}
	w.WriteHeader(HTTPStatus(err))
	json.NewEncoder(w).Encode(map[string]any{
		"error": err.Error(),
		"code":  ErrorCode(err),
	})
}
