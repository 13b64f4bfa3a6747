package saml

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/crewjam/saml"
	"github.com/crewjam/saml/samlsp"
	"github.com/gorilla/mux"

	cl "github.com/crosslogin/crosslogin"
)

// ProviderSaml is the provider code used for claims from this package.
const ProviderSaml = "saml"

// ClaimHandlerFunc receives the verified claim extracted from a SAML
// assertion at the ACS endpoint.
type ClaimHandlerFunc func(claim *cl.ProviderClaim, w http.ResponseWriter, r *http.Request)

var samlMiddleware *samlsp.Middleware

var SAML_ISSUER = strings.TrimSpace(os.Getenv("SAML_ISSUER"))
var SAML_LOGIN_URL = strings.TrimSpace(os.Getenv("SAML_LOGIN_URL"))
var SAML_METADATA_URL = strings.TrimSpace(os.Getenv("SAML_METADATA_URL"))
var SAML_BASE_URL = strings.TrimSpace(os.Getenv("SAML_BASE_URL"))

const SAML_CERT_FILE = "saml_service.cert"
const SAML_KEY_FILE = "saml_service.key"

// Definition describes the provider for registry registration. SAML is
// update-only: the IdP vouches for an email but the account must already
// exist on our side.
func Definition() cl.ProviderDefinition {
	return cl.ProviderDefinition{
		Code:         ProviderSaml,
		Label:        "Single sign-on",
		HandlesEmail: true,
		UpdateOnly:   true,
	}
}

func logout(w http.ResponseWriter, r *http.Request) {
	nameID := samlsp.AttributeFromContext(r.Context(), "urn:oasis:names:tc:SAML:attribute:subject-id")
	url, err := samlMiddleware.ServiceProvider.MakeRedirectLogoutRequest(nameID, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := samlMiddleware.Session.DeleteSession(w, r); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Add("Location", url.String())
	w.WriteHeader(http.StatusFound)
}

// RegisterSamlAuth mounts the SAML login, logout and ACS endpoints on
// the router. A successful assertion produces an email claim which is
// handed to handleClaim for handshake completion.
func RegisterSamlAuth(rg *mux.Router, callbackUrl string, handleClaim ClaimHandlerFunc) (err error) {
	keyPair, err := tls.LoadX509KeyPair(SAML_CERT_FILE, SAML_KEY_FILE)
	if err != nil {
		log.Println("Error loading key pair: ", err)
		return err
	}
	keyPair.Leaf, err = x509.ParseCertificate(keyPair.Certificate[0])
	if err != nil {
		log.Println("Error parsing key pair: ", err)
		return
	}

	idpMetadataURL, err := url.Parse(SAML_METADATA_URL)
	if err != nil {
		log.Println("Error parsing metadata url: ", SAML_METADATA_URL, err)
		return
	}
	idpMetadata, err := samlsp.FetchMetadata(context.Background(), http.DefaultClient, *idpMetadataURL)
	if err != nil {
		log.Println("Error loading metadata: ", SAML_METADATA_URL, err)
		return
	}

	rootURL, err := url.Parse(fmt.Sprintf("%s/auth/", SAML_BASE_URL))
	if err != nil {
		log.Println("Error parsing base url: ", SAML_BASE_URL, err)
		return
	}

	samlMiddleware, _ = samlsp.New(samlsp.Options{
		URL:                *rootURL,
		DefaultRedirectURI: callbackUrl,
		Key:                keyPair.PrivateKey.(*rsa.PrivateKey),
		Certificate:        keyPair.Leaf,
		IDPMetadata:        idpMetadata,
		SignRequest:        true, // some IdP require the SLO request to be signed
	})

	// The login endpoint drives the redirect binding by hand instead of
	// protecting routes with RequireAccount, so SAML stays one choice on
	// a login page alongside the other providers.
	rg.HandleFunc("/saml/login", func(w http.ResponseWriter, r *http.Request) {
		authReq, err := samlMiddleware.ServiceProvider.MakeAuthenticationRequest(SAML_LOGIN_URL, saml.HTTPRedirectBinding, samlMiddleware.ResponseBinding)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		returnTo := r.URL.Query().Get("returnTo")
		returnToUrl, err := url.Parse(returnTo)
		if err != nil || returnTo == "" {
			returnToUrl, _ = url.Parse(SAML_BASE_URL)
		}
		relayState, err := samlMiddleware.RequestTracker.TrackRequest(w, &http.Request{URL: returnToUrl}, authReq.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		redirectURL, err := authReq.Redirect(relayState, &samlMiddleware.ServiceProvider)
		if err != nil {
			log.Println("error creating redirect URI: ", redirectURL)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, redirectURL.String(), http.StatusFound)
	})
	rg.Handle("/saml/logout", http.HandlerFunc(logout))
	rg.HandleFunc("/saml/acs", func(w http.ResponseWriter, r *http.Request) {
		m := samlMiddleware
		if err := r.ParseForm(); err != nil {
			log.Println("Error parsing ACS form: ", err)
			m.OnError(w, r, err)
			return
		}

		possibleRequestIDs := []string{}
		if m.ServiceProvider.AllowIDPInitiated {
			possibleRequestIDs = append(possibleRequestIDs, "")
		}

		trackedRequests := m.RequestTracker.GetTrackedRequests(r)
		for _, tr := range trackedRequests {
			possibleRequestIDs = append(possibleRequestIDs, tr.SAMLRequestID)
		}

		assertion, err := m.ServiceProvider.ParseResponse(r, possibleRequestIDs)
		if err != nil {
			log.Println("Error parsing ACS response: ", r.Form, err)
			m.OnError(w, r, err)
			return
		}

		if err = m.Session.CreateSession(w, r, assertion); err != nil {
			log.Println("Error creating session: ", err)
			m.OnError(w, r, err)
			return
		}

		claim, err := claimFromAssertion(assertion)
		if err != nil {
			log.Println("Error extracting claim from assertion: ", err)
			m.OnError(w, r, err)
			return
		}
		handleClaim(claim, w, r)
	})
	rg.Handle("/saml/", samlMiddleware)
	return
}

func claimFromAssertion(assertion *saml.Assertion) (*cl.ProviderClaim, error) {
	profile := map[string]any{}
	email := ""
	for _, stmt := range assertion.AttributeStatements {
		for _, attr := range stmt.Attributes {
			if len(attr.Values) == 0 {
				continue
			}
			profile[attr.Name] = attr.Values[0].Value
			if strings.HasSuffix(attr.Name, "/claims/emailaddress") {
				email = attr.Values[0].Value
			}
		}
	}
	if email == "" {
		return nil, fmt.Errorf("assertion carries no email address claim")
	}
	subject := ""
	if assertion.Subject != nil && assertion.Subject.NameID != nil {
		subject = assertion.Subject.NameID.Value
	}
	return &cl.ProviderClaim{
		Provider: ProviderSaml,
		Subject:  subject,
		Format:   cl.FormatEmail,
		Input:    cl.NormalizeInput(cl.FormatEmail, email),
		Profile:  profile,
	}, nil
}
