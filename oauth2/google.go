package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	cl "github.com/crosslogin/crosslogin"
)

// ProviderGoogle is the provider code used for claims from this package.
const ProviderGoogle = "google"

type GoogleOAuth2 struct {
	*BaseOAuth2

	// UserInfoURL is the URL to fetch user info from. Defaults to
	// Google's API. Can be overridden for testing.
	UserInfoURL string
}

func NewGoogleOAuth2(clientId string, clientSecret string, callbackUrl string, handleClaim ClaimHandlerFunc) *GoogleOAuth2 {
	if clientId == "" {
		clientId = os.Getenv("OAUTH2_GOOGLE_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("OAUTH2_GOOGLE_CLIENT_SECRET")
	}
	if callbackUrl == "" {
		callbackUrl = os.Getenv("OAUTH2_GOOGLE_CALLBACK_URL")
	}

	out := GoogleOAuth2{
		BaseOAuth2:  NewBaseOAuth2(ProviderGoogle, clientId, clientSecret, callbackUrl, handleClaim),
		UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
	}
	out.BaseOAuth2.oauthConfig.Endpoint = google.Endpoint
	out.BaseOAuth2.oauthConfig.Scopes = []string{
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}

	out.mux.HandleFunc("/callback/", out.handleCallback)

	return &out
}

// Definition describes the provider for registry registration.
func (g *GoogleOAuth2) Definition() cl.ProviderDefinition {
	return cl.ProviderDefinition{
		Code:         ProviderGoogle,
		Label:        "Google",
		HandlesEmail: true,
	}
}

// Exchange turns a callback payload ("code") into a verified claim.
func (g *GoogleOAuth2) Exchange(ctx context.Context, payload map[string]any) (*cl.ProviderClaim, error) {
	code, _ := payload["code"].(string)
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}
	token, err := g.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	userInfo, err := g.getUserData(token)
	if err != nil {
		return nil, err
	}
	return g.claimFromUserInfo(userInfo)
}

func (g *GoogleOAuth2) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !checkOauthState(w, r) {
		return
	}

	code := r.FormValue("code")
	token, err := g.oauthConfig.Exchange(g.ExchangeContext(), code)
	if err != nil {
		log.Println("code exchange wrong: ", err)
	} else {
		var userInfo map[string]any
		userInfo, err = g.getUserData(token)
		if err == nil {
			var claim *cl.ProviderClaim
			claim, err = g.claimFromUserInfo(userInfo)
			if err == nil {
				g.HandleClaim(claim, token, w, r)
			}
		}
	}
	if err != nil {
		log.Println("Error, so redirecting: ", err)
		http.Redirect(w, r, g.AuthFailureUrl, http.StatusTemporaryRedirect)
	}
}

func (g *GoogleOAuth2) claimFromUserInfo(userInfo map[string]any) (*cl.ProviderClaim, error) {
	email, _ := userInfo["email"].(string)
	if email == "" {
		return nil, fmt.Errorf("google user info has no email")
	}
	subject, _ := userInfo["id"].(string)
	return &cl.ProviderClaim{
		Provider: ProviderGoogle,
		Subject:  subject,
		Format:   cl.FormatEmail,
		Input:    cl.NormalizeInput(cl.FormatEmail, email),
		Profile:  userInfo,
	}, nil
}

func (g *GoogleOAuth2) getUserData(token *oauth2.Token) (map[string]any, error) {
	response, err := g.getHTTPClient().Get(g.UserInfoURL + "?access_token=" + token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info: %s", err.Error())
	}
	defer response.Body.Close()
	contents, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed read response: %s", err.Error())
	}
	var userInfo map[string]any
	if err := json.Unmarshal(contents, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %s", err.Error())
	}
	return userInfo, nil
}
