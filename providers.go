package crosslogin

import "context"

// ProviderDefinition describes one configured authentication method and
// its capability profile. Definitions are configuration, not persisted
// state.
type ProviderDefinition struct {
	Code               string // stable provider identifier, e.g. "google", "password", "otp-email"
	Label              string
	HandlesEmail       bool
	HandlesPhone       bool
	IsCodeVerification bool
	// UpdateOnly providers may only augment an existing account and are
	// never offered when originating a new login.
	UpdateOnly bool
}

// Handles reports whether the provider can serve inputs of the format.
func (d *ProviderDefinition) Handles(format InputFormat) bool {
	switch format {
	case FormatEmail:
		return d.HandlesEmail
	case FormatPhone:
		return d.HandlesPhone
	default:
		return false
	}
}

// ProviderClaim is a verified identity assertion produced by a federated
// provider after its callback exchange.
type ProviderClaim struct {
	Provider string         // provider code
	Subject  string         // opaque subject id from the provider
	Format   InputFormat    // format of the asserted input
	Input    string         // normalized input the provider vouches for
	Profile  map[string]any // optional profile data from the provider
}

// Exchanger turns a federated callback payload into a verified claim.
// Implementations live in the oauth2 and saml subpackages; anything that
// can produce a ProviderClaim can plug in here.
type Exchanger interface {
	Exchange(ctx context.Context, payload map[string]any) (*ProviderClaim, error)
}

// ProviderRegistry holds the ordered set of configured providers keyed by
// code. It is immutable after construction, so reads need no locking.
type ProviderRegistry struct {
	defs       []ProviderDefinition
	byCode     map[string]*ProviderDefinition
	exchangers map[string]Exchanger
}

// NewProviderRegistry registers the given providers. Order is preserved
// for ResolveForInput; codes must be unique, later duplicates win.
func NewProviderRegistry(defs ...ProviderDefinition) *ProviderRegistry {
	r := &ProviderRegistry{
		defs:       defs,
		byCode:     make(map[string]*ProviderDefinition, len(defs)),
		exchangers: make(map[string]Exchanger),
	}
	for i := range r.defs {
		r.byCode[r.defs[i].Code] = &r.defs[i]
	}
	return r
}

// WithExchanger attaches the federated exchange capability for a provider
// code. Returns the registry for chaining during configuration.
func (r *ProviderRegistry) WithExchanger(code string, ex Exchanger) *ProviderRegistry {
	r.exchangers[code] = ex
	return r
}

// Get returns the definition for the code or ErrUnknownProvider.
func (r *ProviderRegistry) Get(code string) (*ProviderDefinition, error) {
	d, ok := r.byCode[code]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return d, nil
}

// Exchanger returns the federated exchange capability for the code, or
// ErrUnknownProvider when none is registered.
func (r *ProviderRegistry) Exchanger(code string) (Exchanger, error) {
	ex, ok := r.exchangers[code]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return ex, nil
}

// ResolveForInput returns, in registration order, the providers able to
// handle the input format. When updating an existing account
// (updating=true) update-only providers are included; when originating a
// new login they are filtered out.
func (r *ProviderRegistry) ResolveForInput(format InputFormat, updating bool) []ProviderDefinition {
	var out []ProviderDefinition
	for _, d := range r.defs {
		if !d.Handles(format) {
			continue
		}
		if d.UpdateOnly && !updating {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Well-known provider codes
const (
	ProviderPassword = "password"
	ProviderOTPEmail = "otp-email"
	ProviderOTPSMS   = "otp-sms"
)

// DefaultProviders returns the built-in provider set: password over
// email, and one-time codes over email and SMS. Federated providers are
// appended by the application from its configuration.
func DefaultProviders() []ProviderDefinition {
	return []ProviderDefinition{
		{Code: ProviderPassword, Label: "Password", HandlesEmail: true},
		{Code: ProviderOTPEmail, Label: "Email code", HandlesEmail: true, IsCodeVerification: true},
		{Code: ProviderOTPSMS, Label: "Text message code", HandlesPhone: true, IsCodeVerification: true},
	}
}
