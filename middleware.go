package crosslogin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type userParamNameKey string

// Middleware extracts the authenticated user from a request, looking at
// the session first, then the auth-token cookie and Authorization header.
type Middleware struct {
	AuthTokenHeaderName string
	AuthTokenCookieName string
	UserParamName       string
	CallbackURLParam    string
	SessionGetter       func(r *http.Request, param string) any
	GetRedirURL         func(r *http.Request) string
	VerifyToken         func(tokenString string) (loggedInUserId string, err error)
}

func (a *Middleware) EnsureReasonableDefaults() {
	if a.UserParamName == "" {
		a.UserParamName = "loggedInUserId"
	}
	if a.CallbackURLParam == "" {
		a.CallbackURLParam = "ReturnUrl"
	}
	if a.AuthTokenHeaderName == "" {
		a.AuthTokenHeaderName = "Authorization"
	}
}

// GetLoggedInUserId returns the id of the authenticated user for the
// request, or "" when there is none.
func (a *Middleware) GetLoggedInUserId(r *http.Request) string {
	if v := r.Context().Value(userParamNameKey(a.UserParamName)); v != nil {
		if id := v.(string); id != "" {
			return id
		}
	}

	if a.SessionGetter != nil {
		if v := a.SessionGetter(r, a.UserParamName); v != nil && v != "" {
			return v.(string)
		}
	}

	if a.VerifyToken == nil {
		slog.Warn("no auth token verifier configured")
		return ""
	}

	var authTokens []string
	for _, h := range r.Header.Values(a.AuthTokenHeaderName) {
		authTokens = append(authTokens, strings.TrimPrefix(h, "Bearer "))
	}
	for _, cookie := range r.Cookies() {
		if cookie.Name == a.AuthTokenCookieName && len(cookie.Value) > 0 {
			authTokens = append(authTokens, cookie.Value)
		}
	}

	for _, authToken := range authTokens {
		id, err := a.VerifyToken(authToken)
		if err == nil && id != "" {
			return id
		} else if err != nil {
			slog.Warn("error verifying token", "error", err)
		}
	}
	return ""
}

// ExtractUser loads the authenticated user id into the request context
// for downstream handlers. It performs no redirects when nobody is
// logged in.
func (a *Middleware) ExtractUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, a.setLoggedInUserId(a.GetLoggedInUserId(r), r))
	})
}

// EnsureUser is ExtractUser plus enforcement: unauthenticated requests
// are redirected to the login surface when one is configured, otherwise
// answered with 401.
func (a *Middleware) EnsureUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := a.GetLoggedInUserId(r)
		if userID == "" {
			redirUrl := ""
			if a.GetRedirURL != nil {
				redirUrl = a.GetRedirURL(r)
			}
			if redirUrl != "" {
				encoded := strings.Replace(url.QueryEscape(r.URL.Path), "+", "%20", -1)
				http.Redirect(w, r, fmt.Sprintf("%s?%s=%s", redirUrl, a.CallbackURLParam, encoded), http.StatusFound)
			} else {
				http.Error(w, "Login Required", http.StatusUnauthorized)
			}
			return
		}
		next.ServeHTTP(w, a.setLoggedInUserId(userID, r))
	})
}

func (a *Middleware) setLoggedInUserId(userId string, r *http.Request) *http.Request {
	ctx := context.WithValue(r.Context(), userParamNameKey(a.UserParamName), userId)
	return r.WithContext(ctx)
}
