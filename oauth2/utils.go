package oauth2

import (
	"crypto/rand"
	"encoding/base64"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

func generateStateOauthCookie(w http.ResponseWriter) string {
	var expiration = time.Now().Add(30 * 24 * time.Hour)
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Println("Error generating rand: ", err)
	}
	state := base64.URLEncoding.EncodeToString(b)
	cookie := http.Cookie{Name: "oauthstate", Value: state, Path: "/", Expires: expiration}
	http.SetCookie(w, &cookie)
	return state
}

// OauthRedirector starts the provider flow. The login request id is
// stashed in a short-lived cookie so the callback can correlate the
// round trip back to the handshake that started it.
func OauthRedirector(oauthConfig *oauth2.Config) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		requestId := r.URL.Query().Get("requestId")
		if requestId != "" {
			http.SetCookie(w, &http.Cookie{
				Name:   "oauthRequestId",
				Value:  requestId,
				Path:   "/",
				MaxAge: 300, // keep this short
			})
		}
		callbackURL := r.URL.Query().Get("callbackURL")
		if callbackURL != "" {
			http.SetCookie(w, &http.Cookie{
				Name:   "oauthCallbackURL",
				Value:  callbackURL,
				Path:   "/",
				MaxAge: 120,
			})
		}
		oauthState := generateStateOauthCookie(w)
		u := oauthConfig.AuthCodeURL(oauthState)
		http.Redirect(w, r, u, http.StatusFound)
	}
}

// RequestIdFromCallback reads back the request id stashed by the
// redirector, or "" when the flow started without one.
func RequestIdFromCallback(r *http.Request) string {
	c, err := r.Cookie("oauthRequestId")
	if err != nil {
		return ""
	}
	return c.Value
}

func checkOauthState(w http.ResponseWriter, r *http.Request) bool {
	oauthState, _ := r.Cookie("oauthstate")
	if oauthState == nil {
		http.Error(w, "OauthState is nil", http.StatusBadRequest)
		return false
	}
	if r.FormValue("state") != oauthState.Value {
		http.SetCookie(w, &http.Cookie{
			Name:   "oauthstate",
			MaxAge: 0,
		})
		http.Error(w, "invalid oauth state", http.StatusBadRequest)
		return false
	}
	return true
}
