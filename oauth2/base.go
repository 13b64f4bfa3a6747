package oauth2

import (
	"context"
	"net/http"
	"os"

	"golang.org/x/oauth2"

	cl "github.com/crosslogin/crosslogin"
)

// ClaimHandlerFunc receives the verified claim produced by a provider
// callback. Applications typically complete the handshake here and
// redirect back to the login result page.
type ClaimHandlerFunc func(claim *cl.ProviderClaim, token *oauth2.Token, w http.ResponseWriter, r *http.Request)

// BaseOAuth2 carries the pieces shared by all OAuth2 providers: client
// configuration, the redirector and the callback mux.
type BaseOAuth2 struct {
	ProviderCode string
	ClientId     string
	ClientSecret string
	CallbackURL  string
	HandleClaim  ClaimHandlerFunc

	// AuthFailureUrl is where failed exchanges get redirected.
	AuthFailureUrl string

	// HTTPClient is injectable for testing; nil means http.DefaultClient.
	HTTPClient *http.Client

	oauthConfig oauth2.Config
	mux         *http.ServeMux
}

func NewBaseOAuth2(providerCode string, clientId string, clientSecret string, callbackUrl string, handleClaim ClaimHandlerFunc) *BaseOAuth2 {
	if clientId == "" {
		clientId = os.Getenv("OAUTH2_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("OAUTH2_CLIENT_SECRET")
	}
	if callbackUrl == "" {
		callbackUrl = os.Getenv("OAUTH2_CALLBACK_URL")
	}
	out := &BaseOAuth2{
		ProviderCode:   providerCode,
		ClientId:       clientId,
		ClientSecret:   clientSecret,
		CallbackURL:    callbackUrl,
		HandleClaim:    handleClaim,
		AuthFailureUrl: "/auth/" + providerCode + "/fail/",
		mux:            http.NewServeMux(),
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
		},
	}
	out.setupHandlers()
	return out
}

func (b *BaseOAuth2) setupHandlers() {
	b.mux.HandleFunc("/", OauthRedirector(&b.oauthConfig))
}

// ServeHTTP lets a provider be mounted under a prefix, e.g. /auth/google.
func (b *BaseOAuth2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

// SetOAuthEndpoint overrides the provider endpoints, mainly for tests.
func (b *BaseOAuth2) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

// SetHTTPClient injects the HTTP client used for exchanges and user
// info fetches, mainly for tests.
func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.HTTPClient = client
}

// ExchangeContext returns the context used for the token exchange,
// carrying the injectable HTTP client when one is set.
func (b *BaseOAuth2) ExchangeContext() context.Context {
	if b.HTTPClient != nil {
		return context.WithValue(context.Background(), oauth2.HTTPClient, b.HTTPClient)
	}
	return context.Background()
}

func (b *BaseOAuth2) getHTTPClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}
