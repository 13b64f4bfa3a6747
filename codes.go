package crosslogin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Code format defaults
const (
	DefaultCodeAlphabet = "0123456789"
	DefaultCodeLength   = 6
	DefaultCodeTTL      = 10 * time.Minute
)

// CodeManager generates, stores and validates single-use verification
// codes. Issuing a new code for a (target, purpose) pair replaces the
// previous one; validation consumes the record on success and on expiry.
type CodeManager struct {
	Store CodeStore

	// Alphabet and Length control the generated code format.
	// Defaults: digits, 6 characters.
	Alphabet string
	Length   int

	// TTL is the default validity window when Issue is called with zero ttl.
	TTL time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewCodeManager(store CodeStore) *CodeManager {
	return &CodeManager{Store: store}
}

func (m *CodeManager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *CodeManager) alphabet() string {
	if m.Alphabet != "" {
		return m.Alphabet
	}
	return DefaultCodeAlphabet
}

// Issue generates a fresh code for (target, purpose), invalidating any
// prior unconsumed code for the same pair, and returns the plaintext for
// the caller to hand to its CodeSender. The previous code is never
// returned or logged.
func (m *CodeManager) Issue(ctx context.Context, target string, purpose CodePurpose, length int, ttl time.Duration) (string, error) {
	if length <= 0 {
		length = m.Length
	}
	if length <= 0 {
		length = DefaultCodeLength
	}
	if ttl <= 0 {
		ttl = m.TTL
	}
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}

	code, err := randomCode(m.alphabet(), length)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	now := m.now()
	rec := &VerificationCode{
		Target:    target,
		Purpose:   purpose,
		Code:      code,
		IssuedOn:  now,
		ExpiresOn: now.Add(ttl),
	}
	// SaveCode replaces the prior record, so a stale code can never
	// validate after reissue.
	if err := m.Store.SaveCode(ctx, rec); err != nil {
		return "", err
	}
	return code, nil
}

// Validate checks a supplied code against the stored record for
// (target, purpose). It fails closed: a missing or consumed record is
// ErrNotValid; an expired record is consumed and returns ErrExpired so
// the code cannot be retried; a mismatch leaves the record intact for a
// bounded retry window; a match consumes the record, after which further
// validations fail ErrNotValid.
func (m *CodeManager) Validate(ctx context.Context, target string, purpose CodePurpose, supplied string) error {
	rec, err := m.Store.GetCode(ctx, target, purpose)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotValid
		}
		return err
	}
	if rec.Consumed {
		return ErrNotValid
	}
	if rec.Expired(m.now()) {
		rec.Consumed = true
		if err := m.Store.SaveCode(ctx, rec); err != nil {
			return err
		}
		return ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(supplied)) != 1 {
		return ErrNotValid
	}
	rec.Consumed = true
	return m.Store.SaveCode(ctx, rec)
}

// randomCode draws each character uniformly from the alphabet using
// crypto/rand.
func randomCode(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
