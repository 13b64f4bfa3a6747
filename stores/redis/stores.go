package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	cl "github.com/crosslogin/crosslogin"
)

// RequestStore implements cl.RequestStore on Redis. Rows are JSON values
// keyed by the composite row key and carry a TTL matching the request
// expiry, so Redis reaps what the broker never reads.
type RequestStore struct {
	client *redis.Client
	prefix string
}

// NewRequestStore creates a new Redis-backed RequestStore.
func NewRequestStore(client *redis.Client, prefix string) *RequestStore {
	if prefix == "" {
		prefix = "crosslogin:"
	}
	return &RequestStore{client: client, prefix: prefix}
}

func (s *RequestStore) requestKey(requestID string) string {
	return s.prefix + cl.RowKey(cl.PartitionRequest, requestID)
}

func (s *RequestStore) GetRequest(ctx context.Context, requestID string) (*cl.LoginRequest, error) {
	data, err := s.client.Get(ctx, s.requestKey(requestID)).Bytes()
	if err == redis.Nil {
		return nil, cl.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var req cl.LoginRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *RequestStore) SaveRequest(ctx context.Context, req *cl.LoginRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	// Keep expired rows around briefly so readers see ErrExpired
	// rather than ErrNotFound right at the boundary.
	ttl := time.Until(req.ExpiresOn) + time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.client.Set(ctx, s.requestKey(req.RequestID), data, ttl).Err()
}

func (s *RequestStore) DeleteRequest(ctx context.Context, requestID string) error {
	return s.client.Del(ctx, s.requestKey(requestID)).Err()
}

// CodeStore implements cl.CodeStore on Redis. SET replaces any earlier
// code for the same (target, purpose), which is exactly the reissue
// semantics the code manager wants.
type CodeStore struct {
	client *redis.Client
	prefix string
}

// NewCodeStore creates a new Redis-backed CodeStore.
func NewCodeStore(client *redis.Client, prefix string) *CodeStore {
	if prefix == "" {
		prefix = "crosslogin:"
	}
	return &CodeStore{client: client, prefix: prefix}
}

func (s *CodeStore) codeKey(target string, purpose cl.CodePurpose) string {
	return s.prefix + cl.RowKey(cl.PartitionCode, target+"|"+string(purpose))
}

func (s *CodeStore) GetCode(ctx context.Context, target string, purpose cl.CodePurpose) (*cl.VerificationCode, error) {
	data, err := s.client.Get(ctx, s.codeKey(target, purpose)).Bytes()
	if err == redis.Nil {
		return nil, cl.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var code cl.VerificationCode
	if err := json.Unmarshal(data, &code); err != nil {
		return nil, err
	}
	return &code, nil
}

func (s *CodeStore) SaveCode(ctx context.Context, code *cl.VerificationCode) error {
	data, err := json.Marshal(code)
	if err != nil {
		return err
	}
	ttl := time.Until(code.ExpiresOn) + time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.client.Set(ctx, s.codeKey(code.Target, code.Purpose), data, ttl).Err()
}

func (s *CodeStore) DeleteCode(ctx context.Context, target string, purpose cl.CodePurpose) error {
	return s.client.Del(ctx, s.codeKey(target, purpose)).Err()
}
