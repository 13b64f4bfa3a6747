package stores

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	cl "github.com/crosslogin/crosslogin"
)

// FSCodeStore stores verification codes as JSON files keyed by
// (target, purpose). Saving overwrites the prior record for the key, so
// a reissued code always replaces the old one.
type FSCodeStore struct {
	StoragePath string
}

func NewFSCodeStore(storagePath string) *FSCodeStore {
	return &FSCodeStore{StoragePath: storagePath}
}

func (s *FSCodeStore) codePath(target string, purpose cl.CodePurpose) string {
	id := target + "_" + string(purpose)
	return filepath.Join(s.StoragePath, "codes", safeFilename(cl.RowKey(cl.PartitionCode, id)))
}

func (s *FSCodeStore) GetCode(ctx context.Context, target string, purpose cl.CodePurpose) (*cl.VerificationCode, error) {
	data, err := os.ReadFile(s.codePath(target, purpose))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cl.ErrNotFound
		}
		return nil, err
	}
	var code cl.VerificationCode
	if err := json.Unmarshal(data, &code); err != nil {
		return nil, err
	}
	return &code, nil
}

func (s *FSCodeStore) SaveCode(ctx context.Context, code *cl.VerificationCode) error {
	path := s.codePath(code.Target, code.Purpose)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(code, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func (s *FSCodeStore) DeleteCode(ctx context.Context, target string, purpose cl.CodePurpose) error {
	err := os.Remove(s.codePath(target, purpose))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
