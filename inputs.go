package crosslogin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultUpdateRetries bounds the optimistic-concurrency retry loop on
// per-user read-modify-write operations.
const DefaultUpdateRetries = 3

// InputRegistry enforces the invariants over a user's set of login
// inputs: global (format, input) uniqueness, at most one primary per
// format, deduplicated provider links, and at least one remaining input.
type InputRegistry struct {
	Users UserStore

	// MaxRetries bounds retries on Update conflicts before the loss is
	// surfaced as ErrConflict.
	MaxRetries int

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewInputRegistry(users UserStore) *InputRegistry {
	return &InputRegistry{Users: users}
}

func (g *InputRegistry) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *InputRegistry) retries() int {
	if g.MaxRetries > 0 {
		return g.MaxRetries
	}
	return DefaultUpdateRetries
}

// withUser runs a read-modify-write against the user row, retrying a
// bounded number of times when the version check loses to a concurrent
// writer.
func (g *InputRegistry) withUser(ctx context.Context, userID string, mutate func(*User) error) (*User, error) {
	var lastErr error
	for attempt := 0; attempt < g.retries(); attempt++ {
		user, err := g.Users.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := mutate(user); err != nil {
			return nil, err
		}
		if err := g.Users.Update(ctx, user); err != nil {
			if errors.Is(err, ErrConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return user, nil
	}
	return nil, lastErr
}

// ResolveOrCreateUser returns the user owning (format, input), creating
// one when the input has never been seen. Validity of the input must
// already be established by the caller (verification code or federated
// claim) before this is invoked: a brand-new user starts with a single
// primary, validated input. For an existing user the provider link is
// added if new (links are deduplicated by code) and LastSignedIn is
// updated.
func (g *InputRegistry) ResolveOrCreateUser(ctx context.Context, format InputFormat, input string, link LoginProvider) (*User, error) {
	if user, err := g.Users.FindByInput(ctx, format, input); err == nil {
		return g.recordSignIn(ctx, user.ID, format, input, link)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := g.now()
	user := &User{
		ID:           uuid.NewString(),
		CreatedOn:    now,
		LastSignedIn: now,
		Inputs: []LoginInput{{
			Input:       input,
			Format:      format,
			Providers:   []LoginProvider{link},
			IsPrimary:   true,
			IsValidated: true,
		}},
	}
	if err := g.Users.ClaimInput(ctx, format, input, user.ID); err != nil {
		if errors.Is(err, ErrDuplicateInput) {
			// Lost the race: another writer created this input first.
			// Their user wins; resolve through the index instead.
			existing, ferr := g.Users.FindByInput(ctx, format, input)
			if ferr != nil {
				return nil, ferr
			}
			return g.recordSignIn(ctx, existing.ID, format, input, link)
		}
		return nil, err
	}
	if err := g.Users.Create(ctx, user); err != nil {
		if rerr := g.Users.ReleaseInput(ctx, format, input); rerr != nil {
			slog.Warn("failed to release input claim after create failure", "input", InputKey(format, input), "err", rerr)
		}
		return nil, err
	}
	return user, nil
}

// recordSignIn attaches the provider link if missing and stamps
// LastSignedIn on the owning user.
func (g *InputRegistry) recordSignIn(ctx context.Context, userID string, format InputFormat, input string, link LoginProvider) (*User, error) {
	return g.withUser(ctx, userID, func(u *User) error {
		in := u.FindInput(format, input)
		if in == nil {
			return ErrNotFound
		}
		if link.Code != "" && in.Provider(link.Code) == nil {
			in.Providers = append(in.Providers, link)
		}
		u.LastSignedIn = g.now()
		return nil
	})
}

// AddInput attaches a new input to an existing user. The pair must not
// belong to any user, including this one, and the input must already be
// validated; it always starts non-primary.
func (g *InputRegistry) AddInput(ctx context.Context, userID string, in LoginInput) error {
	if !in.IsValidated {
		return ErrNotValidated
	}
	in.IsPrimary = false
	// Re-adding an input the user already owns would turn ClaimInput into
	// a no-op and a later release would drop the live reservation, so
	// reject self-duplicates before reserving.
	current, err := g.Users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if current.FindInput(in.Format, in.Input) != nil {
		return ErrDuplicateInput
	}
	if err := g.Users.ClaimInput(ctx, in.Format, in.Input, userID); err != nil {
		return err
	}
	if _, err = g.withUser(ctx, userID, func(u *User) error {
		if u.FindInput(in.Format, in.Input) != nil {
			return ErrDuplicateInput
		}
		u.Inputs = append(u.Inputs, in)
		return nil
	}); err != nil {
		if rerr := g.Users.ReleaseInput(ctx, in.Format, in.Input); rerr != nil {
			slog.Warn("failed to release input claim after add failure", "input", InputKey(in.Format, in.Input), "err", rerr)
		}
		return err
	}
	return nil
}

// SetPrimary promotes the target input to primary for its format,
// clearing the flag on every other input of that format first so the
// single-primary invariant holds at every observable point. The target
// must be validated.
func (g *InputRegistry) SetPrimary(ctx context.Context, userID string, format InputFormat, input string) error {
	_, err := g.withUser(ctx, userID, func(u *User) error {
		target := u.FindInput(format, input)
		if target == nil {
			return ErrNotFound
		}
		if !target.IsValidated {
			return ErrNotValidated
		}
		for i := range u.Inputs {
			if u.Inputs[i].Format == format {
				u.Inputs[i].IsPrimary = false
			}
		}
		target.IsPrimary = true
		return nil
	})
	return err
}

// RemoveInput detaches an input from the user. Removing the only
// remaining input is refused with ErrLastInput: a user must stay
// reachable by at least one verified surface.
func (g *InputRegistry) RemoveInput(ctx context.Context, userID string, format InputFormat, input string) error {
	_, err := g.withUser(ctx, userID, func(u *User) error {
		if u.FindInput(format, input) == nil {
			return ErrNotFound
		}
		if len(u.Inputs) == 1 {
			return ErrLastInput
		}
		kept := u.Inputs[:0]
		for _, in := range u.Inputs {
			if in.Format == format && in.Input == input {
				continue
			}
			kept = append(kept, in)
		}
		u.Inputs = kept
		return nil
	})
	if err != nil {
		return err
	}
	return g.Users.ReleaseInput(ctx, format, input)
}

// DeleteUser removes the user row and releases every input reservation
// it held. Deletion is not a soft delete.
func (g *InputRegistry) DeleteUser(ctx context.Context, userID string) error {
	user, err := g.Users.Get(ctx, userID)
	if err != nil {
		return err
	}
	for _, in := range user.Inputs {
		if err := g.Users.ReleaseInput(ctx, in.Format, in.Input); err != nil {
			slog.Warn("failed to release input on user delete", "input", InputKey(in.Format, in.Input), "err", err)
		}
	}
	return g.Users.Delete(ctx, userID)
}
