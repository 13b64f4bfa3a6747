package crosslogin

import (
	"regexp"
	"strings"
	"time"
)

// InputFormat classifies a login input string.
type InputFormat string

const (
	FormatEmail InputFormat = "email"
	FormatPhone InputFormat = "phone"
	FormatOther InputFormat = "other"
)

// LoginProvider links a login input to one authentication method.
// Identifier carries the opaque subject id returned by a federated
// provider (e.g. the OAuth "sub" claim) and is empty for code or
// password methods.
type LoginProvider struct {
	Code         string `json:"code"`
	Identifier   string `json:"identifier,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`
}

// LoginInput is one authentication surface belonging to a user: a
// normalized email address, a phone number, or an opaque handle.
type LoginInput struct {
	Input       string          `json:"input"`
	Format      InputFormat     `json:"format"`
	CountryCode string          `json:"country_code,omitempty"`
	CallingCode string          `json:"calling_code,omitempty"`
	Providers   []LoginProvider `json:"providers,omitempty"`
	IsPrimary   bool            `json:"is_primary"`
	IsValidated bool            `json:"is_validated"`
}

// Provider returns the link with the given provider code, or nil.
func (in *LoginInput) Provider(code string) *LoginProvider {
	for i := range in.Providers {
		if in.Providers[i].Code == code {
			return &in.Providers[i]
		}
	}
	return nil
}

// User is the identity root. Inputs are ordered; at most one input per
// format carries IsPrimary.
type User struct {
	ID           string       `json:"id"`
	FirstName    string       `json:"first_name,omitempty"`
	LastName     string       `json:"last_name,omitempty"`
	DisplayName  string       `json:"display_name,omitempty"`
	Username     string       `json:"username,omitempty"`
	IsLocked     bool         `json:"is_locked"`
	DateOfBirth  *time.Time   `json:"date_of_birth,omitempty"`
	CreatedOn    time.Time    `json:"created_on"`
	LastSignedIn time.Time    `json:"last_signed_in"`
	Inputs       []LoginInput `json:"inputs"`

	// Version is the optimistic concurrency token checked by
	// UserStore.Update.
	Version int `json:"version"`
}

// FindInput returns the input matching (format, normalized input), or nil.
func (u *User) FindInput(format InputFormat, input string) *LoginInput {
	for i := range u.Inputs {
		if u.Inputs[i].Format == format && u.Inputs[i].Input == input {
			return &u.Inputs[i]
		}
	}
	return nil
}

// PrimaryInput returns the primary input for the format, or nil.
func (u *User) PrimaryInput(format InputFormat) *LoginInput {
	for i := range u.Inputs {
		if u.Inputs[i].Format == format && u.Inputs[i].IsPrimary {
			return &u.Inputs[i]
		}
	}
	return nil
}

// LoginRequest correlates a login attempt across a redirect or device
// boundary. It stays readable until ExpiresOn; it is not single-use.
type LoginRequest struct {
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedOn time.Time `json:"created_on"`
	ExpiresOn time.Time `json:"expires_on"`
}

// Expired reports whether the request is past its TTL at the given time.
func (r *LoginRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresOn)
}

// CodePurpose tells what a verification code authorizes.
type CodePurpose string

const (
	PurposeLogin         CodePurpose = "login"
	PurposeRegistration  CodePurpose = "registration"
	PurposePasswordReset CodePurpose = "password_reset"
	PurposeAddInput      CodePurpose = "add_input"
)

// VerificationCode is a single-use code bound to one target and purpose.
// At most one unconsumed, unexpired code exists per (target, purpose).
type VerificationCode struct {
	Target   string      `json:"target"`
	Purpose  CodePurpose `json:"purpose"`
	Code     string      `json:"code"`
	IssuedOn time.Time   `json:"issued_on"`
	ExpiresOn time.Time  `json:"expires_on"`
	Consumed bool        `json:"consumed"`
}

// Expired reports whether the code is past its TTL at the given time.
func (c *VerificationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresOn)
}

// InputKey creates a consistent lookup key from format and normalized input.
func InputKey(format InputFormat, input string) string {
	return string(format) + ":" + input
}

// InputTarget keys a verification code to a (format, input) pair.
func InputTarget(format InputFormat, input string) string {
	return InputKey(format, input)
}

// UserTarget keys a verification code to an existing user.
func UserTarget(userID string) string {
	return "user:" + userID
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// DetectInputFormat infers the format of a raw login input: anything with
// a structurally valid email shape is an email, a leading "+" or digit
// makes it a phone number, everything else is an opaque handle.
func DetectInputFormat(raw string) InputFormat {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "@") {
		if emailPattern.MatchString(raw) {
			return FormatEmail
		}
		return FormatOther
	}
	if len(raw) > 0 && (raw[0] == '+' || (raw[0] >= '0' && raw[0] <= '9')) {
		return FormatPhone
	}
	return FormatOther
}

// NormalizeInput canonicalizes an input string for storage and lookup:
// emails are lower-cased and trimmed, phone numbers reduced to their
// digits (country calling code included), other inputs only trimmed.
func NormalizeInput(format InputFormat, raw string) string {
	raw = strings.TrimSpace(raw)
	switch format {
	case FormatEmail:
		return strings.ToLower(raw)
	case FormatPhone:
		var b strings.Builder
		for _, r := range raw {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		return b.String()
	default:
		return raw
	}
}
