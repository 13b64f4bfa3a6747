package stores

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	cl "github.com/crosslogin/crosslogin"
)

// FSRequestStore stores login requests as JSON files under their own
// partition directory.
type FSRequestStore struct {
	StoragePath string
}

func NewFSRequestStore(storagePath string) *FSRequestStore {
	return &FSRequestStore{StoragePath: storagePath}
}

func (s *FSRequestStore) requestPath(requestID string) string {
	return filepath.Join(s.StoragePath, "requests", safeFilename(cl.RowKey(cl.PartitionRequest, requestID)))
}

func (s *FSRequestStore) GetRequest(ctx context.Context, requestID string) (*cl.LoginRequest, error) {
	data, err := os.ReadFile(s.requestPath(requestID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cl.ErrNotFound
		}
		return nil, err
	}
	var req cl.LoginRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *FSRequestStore) SaveRequest(ctx context.Context, req *cl.LoginRequest) error {
	path := s.requestPath(req.RequestID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func (s *FSRequestStore) DeleteRequest(ctx context.Context, requestID string) error {
	err := os.Remove(s.requestPath(requestID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
