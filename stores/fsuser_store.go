package stores

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	cl "github.com/crosslogin/crosslogin"
)

// inputClaim is one row of the (format, input) uniqueness index.
type inputClaim struct {
	InputKey string `json:"input_key"`
	UserID   string `json:"user_id"`
}

// FSUserStore stores users and the input index as JSON files. Insert-if-
// absent is done with O_EXCL creates; the version check on Update is
// serialized with an in-process mutex, which is enough for a single
// broker process and for tests.
type FSUserStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) userPath(id string) string {
	return filepath.Join(s.StoragePath, "users", safeFilename(cl.RowKey(cl.PartitionUser, id)))
}

func (s *FSUserStore) claimPath(format cl.InputFormat, input string) string {
	return filepath.Join(s.StoragePath, "inputs", safeFilename(cl.InputKey(format, input)))
}

func (s *FSUserStore) Get(ctx context.Context, id string) (*cl.User, error) {
	data, err := os.ReadFile(s.userPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cl.ErrNotFound
		}
		return nil, err
	}
	var user cl.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *FSUserStore) FindByInput(ctx context.Context, format cl.InputFormat, input string) (*cl.User, error) {
	data, err := os.ReadFile(s.claimPath(format, input))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cl.ErrNotFound
		}
		return nil, err
	}
	var claim inputClaim
	if err := json.Unmarshal(data, &claim); err != nil {
		return nil, err
	}
	return s.Get(ctx, claim.UserID)
}

// FindByDisplayName matches case-insensitively on a substring of the
// display name.
func (s *FSUserStore) FindByDisplayName(ctx context.Context, name string) ([]*cl.User, error) {
	usersDir := filepath.Join(s.StoragePath, "users")
	entries, err := os.ReadDir(usersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	needle := strings.ToLower(name)
	var out []*cl.User
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(usersDir, entry.Name()))
		if err != nil {
			continue
		}
		var user cl.User
		if err := json.Unmarshal(data, &user); err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(user.DisplayName), needle) {
			out = append(out, &user)
		}
	}
	return out, nil
}

func (s *FSUserStore) Create(ctx context.Context, user *cl.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.userPath(user.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	user.Version = 1
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return cl.ErrConflict
		}
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func (s *FSUserStore) Update(ctx context.Context, user *cl.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, user.ID)
	if err != nil {
		return err
	}
	if current.Version != user.Version {
		return cl.ErrConflict
	}
	user.Version++
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(s.userPath(user.ID), data)
}

func (s *FSUserStore) Delete(ctx context.Context, id string) error {
	err := os.Remove(s.userPath(id))
	if os.IsNotExist(err) {
		return cl.ErrNotFound
	}
	return err
}

func (s *FSUserStore) ClaimInput(ctx context.Context, format cl.InputFormat, input string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.claimPath(format, input)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(inputClaim{InputKey: cl.InputKey(format, input), UserID: userID})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr == nil {
				var claim inputClaim
				if json.Unmarshal(existing, &claim) == nil && claim.UserID == userID {
					return nil // already held by this user
				}
			}
			return cl.ErrDuplicateInput
		}
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func (s *FSUserStore) ReleaseInput(ctx context.Context, format cl.InputFormat, input string) error {
	err := os.Remove(s.claimPath(format, input))
	if os.IsNotExist(err) {
		return nil // already released
	}
	return err
}
