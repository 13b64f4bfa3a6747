package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	cl "github.com/crosslogin/crosslogin"
)

// ProviderGithub is the provider code used for claims from this package.
const ProviderGithub = "github"

type GithubOAuth2 struct {
	*BaseOAuth2

	// UserInfoURL is the URL to fetch user info from. Defaults to GitHub's API.
	// Can be overridden for testing.
	UserInfoURL string
}

func NewGithubOAuth2(clientId string, clientSecret string, callbackUrl string, handleClaim ClaimHandlerFunc) *GithubOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CALLBACK_URL"))
	}

	out := GithubOAuth2{
		BaseOAuth2:  NewBaseOAuth2(ProviderGithub, clientId, clientSecret, callbackUrl, handleClaim),
		UserInfoURL: "https://api.github.com/user",
	}
	out.BaseOAuth2.oauthConfig.Endpoint = github.Endpoint
	out.BaseOAuth2.oauthConfig.Scopes = []string{
		"read:user", "user:email",
	}

	out.mux.HandleFunc("/callback/", out.handleCallback)

	return &out
}

// Definition describes the provider for registry registration.
func (g *GithubOAuth2) Definition() cl.ProviderDefinition {
	return cl.ProviderDefinition{
		Code:         ProviderGithub,
		Label:        "GitHub",
		HandlesEmail: true,
	}
}

// Exchange turns a callback payload ("code") into a verified claim.
func (g *GithubOAuth2) Exchange(ctx context.Context, payload map[string]any) (*cl.ProviderClaim, error) {
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

func (g *GithubOAuth2) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !checkOauthState(w, r) {
		return
	}

	code := r.FormValue("code")
	token, err := g.oauthConfig.Exchange(g.ExchangeContext(), code)
	if err != nil {
		slog.Info("Invalid code exchange", "err", err)
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
		slog.Info("redirecting due to error ", "err", err)
		http.Redirect(w, r, g.AuthFailureUrl, http.StatusTemporaryRedirect)
	}
}

func (g *GithubOAuth2) claimFromUserInfo(userInfo map[string]any) (*cl.ProviderClaim, error) {
	email, _ := userInfo["email"].(string)
	if email == "" {
		return nil, fmt.Errorf("github user info has no public email")
	}
	var subject string
	switch id := userInfo["id"].(type) {
	case float64:
		subject = fmt.Sprintf("%.0f", id)
	case string:
		subject = id
	}
	return &cl.ProviderClaim{
		Provider: ProviderGithub,
		Subject:  subject,
		Format:   cl.FormatEmail,
		Input:    cl.NormalizeInput(cl.FormatEmail, email),
		Profile:  userInfo,
	}, nil
}

func (g *GithubOAuth2) getUserData(token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequest("GET", g.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %s", err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	response, err := g.getHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info from github: %s", err.Error())
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
