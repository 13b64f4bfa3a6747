package stores

import (
	"context"
	"errors"
	"testing"

	cl "github.com/crosslogin/crosslogin"
)

func newUser(id, email string) *cl.User {
	return &cl.User{
		ID: id,
		Inputs: []cl.LoginInput{{
			Input:       email,
			Format:      cl.FormatEmail,
			IsPrimary:   true,
			IsValidated: true,
		}},
	}
}

func TestFSUserStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewFSUserStore(t.TempDir())

	user := newUser("u1", "alice@example.com")
	if err := s.Create(ctx, user); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if user.Version != 1 {
		t.Errorf("Version after create = %d, want 1", user.Version)
	}

	got, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "u1" || len(got.Inputs) != 1 {
		t.Errorf("Get = %+v", got)
	}

	// Creating the same id twice fails
	if err := s.Create(ctx, newUser("u1", "other@example.com")); !errors.Is(err, cl.ErrConflict) {
		t.Errorf("duplicate Create = %v, want ErrConflict", err)
	}

	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "u1"); !errors.Is(err, cl.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "u1"); !errors.Is(err, cl.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestFSUserStoreUpdateVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := NewFSUserStore(t.TempDir())

	user := newUser("u1", "alice@example.com")
	if err := s.Create(ctx, user); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	a, _ := s.Get(ctx, "u1")
	b, _ := s.Get(ctx, "u1")

	a.DisplayName = "first writer"
	if err := s.Update(ctx, a); err != nil {
		t.Fatalf("first Update failed: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("Version after update = %d, want 2", a.Version)
	}

	// The stale copy loses
	b.DisplayName = "second writer"
	if err := s.Update(ctx, b); !errors.Is(err, cl.ErrConflict) {
		t.Errorf("stale Update = %v, want ErrConflict", err)
	}

	got, _ := s.Get(ctx, "u1")
	if got.DisplayName != "first writer" {
		t.Errorf("DisplayName = %q, stale write went through", got.DisplayName)
	}
}

func TestFSUserStoreInputClaims(t *testing.T) {
	ctx := context.Background()
	s := NewFSUserStore(t.TempDir())

	if err := s.Create(ctx, newUser("u1", "alice@example.com")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.ClaimInput(ctx, cl.FormatEmail, "alice@example.com", "u1"); err != nil {
		t.Fatalf("ClaimInput failed: %v", err)
	}

	got, err := s.FindByInput(ctx, cl.FormatEmail, "alice@example.com")
	if err != nil || got.ID != "u1" {
		t.Fatalf("FindByInput = (%+v, %v)", got, err)
	}

	// Re-claiming by the holder is a no-op
	if err := s.ClaimInput(ctx, cl.FormatEmail, "alice@example.com", "u1"); err != nil {
		t.Errorf("re-claim by holder = %v, want nil", err)
	}
	// Claiming by anyone else is refused
	if err := s.ClaimInput(ctx, cl.FormatEmail, "alice@example.com", "u2"); !errors.Is(err, cl.ErrDuplicateInput) {
		t.Errorf("claim by other = %v, want ErrDuplicateInput", err)
	}

	if err := s.ReleaseInput(ctx, cl.FormatEmail, "alice@example.com"); err != nil {
		t.Fatalf("ReleaseInput failed: %v", err)
	}
	if _, err := s.FindByInput(ctx, cl.FormatEmail, "alice@example.com"); !errors.Is(err, cl.ErrNotFound) {
		t.Errorf("FindByInput after release = %v, want ErrNotFound", err)
	}
	// Releasing twice is harmless
	if err := s.ReleaseInput(ctx, cl.FormatEmail, "alice@example.com"); err != nil {
		t.Errorf("second ReleaseInput = %v", err)
	}

	// The released pair is claimable again
	if err := s.ClaimInput(ctx, cl.FormatEmail, "alice@example.com", "u2"); err != nil {
		t.Errorf("re-claim after release = %v", err)
	}
}

func TestFSUserStoreFindByDisplayName(t *testing.T) {
	ctx := context.Background()
	s := NewFSUserStore(t.TempDir())

	for _, u := range []struct{ id, email, name string }{
		{"u1", "alice@example.com", "Alice Smith"},
		{"u2", "bob@example.com", "Bob Smith"},
		{"u3", "carol@example.com", "Carol Jones"},
	} {
		user := newUser(u.id, u.email)
		user.DisplayName = u.name
		if err := s.Create(ctx, user); err != nil {
			t.Fatalf("Create %s failed: %v", u.id, err)
		}
	}

	smiths, err := s.FindByDisplayName(ctx, "smith")
	if err != nil {
		t.Fatalf("FindByDisplayName failed: %v", err)
	}
	if len(smiths) != 2 {
		t.Errorf("len(smiths) = %d, want 2", len(smiths))
	}

	none, err := s.FindByDisplayName(ctx, "zzz")
	if err != nil || len(none) != 0 {
		t.Errorf("FindByDisplayName(zzz) = (%d, %v), want empty", len(none), err)
	}

	// An empty store is not an error
	empty := NewFSUserStore(t.TempDir())
	if got, err := empty.FindByDisplayName(ctx, "anyone"); err != nil || got != nil {
		t.Errorf("empty store = (%v, %v)", got, err)
	}
}
