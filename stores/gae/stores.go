//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	cl "github.com/crosslogin/crosslogin"
)

// Kind constants for Datastore entities. The kind plays the role of the
// partition discriminator; within a kind the key name is the bare id.
const (
	KindUser       = cl.PartitionUser
	KindRequest    = cl.PartitionRequest
	KindCode       = cl.PartitionCode
	KindInputClaim = "InputClaim"
)

// ============================================================================
// UserStore
// ============================================================================

// UserStore implements cl.UserStore using Google Cloud Datastore.
type UserStore struct {
	client    *datastore.Client
	namespace string
}

// NewUserStore creates a new Datastore-backed UserStore.
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{client: client, namespace: namespace}
}

func (s *UserStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *UserStore) entityFor(user *cl.User) (*UserEntity, error) {
	record, err := json.Marshal(user)
	if err != nil {
		return nil, err
	}
	return &UserEntity{
		Key:      s.namespacedKey(KindUser, user.ID),
		IsLocked: user.IsLocked,
		NameFold: strings.ToLower(user.DisplayName),
		Record:   record,
		Updated:  time.Now(),
		Version:  user.Version,
	}, nil
}

func (s *UserStore) Get(ctx context.Context, id string) (*cl.User, error) {
	key := s.namespacedKey(KindUser, id)
	var entity UserEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, cl.ErrNotFound
		}
		return nil, err
	}
	return entity.ToUser()
}

func (s *UserStore) FindByInput(ctx context.Context, format cl.InputFormat, input string) (*cl.User, error) {
	key := s.namespacedKey(KindInputClaim, cl.InputKey(format, input))
	var claim InputClaimEntity
	if err := s.client.Get(ctx, key, &claim); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, cl.ErrNotFound
		}
		return nil, err
	}
	return s.Get(ctx, claim.UserID)
}

// FindByDisplayName matches on a case-folded prefix of the display name.
// Datastore has no substring operator, so the prefix is the closest
// server-side filter available.
func (s *UserStore) FindByDisplayName(ctx context.Context, name string) ([]*cl.User, error) {
	needle := strings.ToLower(name)
	query := datastore.NewQuery(KindUser).
		FilterField("name_fold", ">=", needle).
		FilterField("name_fold", "<", needle+"�")
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	var users []*cl.User
	it := s.client.Run(ctx, query)
	for {
		var entity UserEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		user, err := entity.ToUser()
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (s *UserStore) Create(ctx context.Context, user *cl.User) error {
	user.Version = 1
	entity, err := s.entityFor(user)
	if err != nil {
		return err
	}

	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		err := tx.Get(entity.Key, &existing)
		if err == nil {
			return cl.ErrConflict
		}
		if err != datastore.ErrNoSuchEntity {
			return err
		}
		_, err = tx.Put(entity.Key, entity)
		return err
	})
	return err
}

func (s *UserStore) Update(ctx context.Context, user *cl.User) error {
	key := s.namespacedKey(KindUser, user.ID)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var current UserEntity
		if err := tx.Get(key, &current); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return cl.ErrNotFound
			}
			return err
		}
		if current.Version != user.Version {
			return cl.ErrConflict
		}
		next := *user
		next.Version = user.Version + 1
		entity, err := s.entityFor(&next)
		if err != nil {
			return err
		}
		_, err = tx.Put(key, entity)
		return err
	})
	if err != nil {
		return err
	}
	user.Version++
	return nil
}

func (s *UserStore) Delete(ctx context.Context, id string) error {
	key := s.namespacedKey(KindUser, id)
	var entity UserEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return cl.ErrNotFound
		}
		return err
	}
	return s.client.Delete(ctx, key)
}

func (s *UserStore) ClaimInput(ctx context.Context, format cl.InputFormat, input string, userID string) error {
	key := s.namespacedKey(KindInputClaim, cl.InputKey(format, input))

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing InputClaimEntity
		err := tx.Get(key, &existing)
		if err == nil {
			if existing.UserID == userID {
				return nil // already held by this user
			}
			return cl.ErrDuplicateInput
		}
		if err != datastore.ErrNoSuchEntity {
			return err
		}
		_, err = tx.Put(key, &InputClaimEntity{Key: key, UserID: userID})
		return err
	})
	return err
}

func (s *UserStore) ReleaseInput(ctx context.Context, format cl.InputFormat, input string) error {
	key := s.namespacedKey(KindInputClaim, cl.InputKey(format, input))
	err := s.client.Delete(ctx, key)
	if err == datastore.ErrNoSuchEntity {
		return nil
	}
	return err
}

// ============================================================================
// RequestStore
// ============================================================================

// RequestStore implements cl.RequestStore using Google Cloud Datastore.
type RequestStore struct {
	client    *datastore.Client
	namespace string
}

// NewRequestStore creates a new Datastore-backed RequestStore.
func NewRequestStore(client *datastore.Client, namespace string) *RequestStore {
	return &RequestStore{client: client, namespace: namespace}
}

func (s *RequestStore) requestKey(requestID string) *datastore.Key {
	key := datastore.NameKey(KindRequest, requestID, nil)
	key.Namespace = s.namespace
	return key
}

func (s *RequestStore) GetRequest(ctx context.Context, requestID string) (*cl.LoginRequest, error) {
	var entity RequestEntity
	if err := s.client.Get(ctx, s.requestKey(requestID), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, cl.ErrNotFound
		}
		return nil, err
	}
	return entity.ToRequest(), nil
}

func (s *RequestStore) SaveRequest(ctx context.Context, req *cl.LoginRequest) error {
	key := s.requestKey(req.RequestID)
	entity := &RequestEntity{
		Key:       key,
		UserID:    req.UserID,
		CreatedOn: req.CreatedOn,
		ExpiresOn: req.ExpiresOn,
	}
	_, err := s.client.Put(ctx, key, entity)
	return err
}

func (s *RequestStore) DeleteRequest(ctx context.Context, requestID string) error {
	err := s.client.Delete(ctx, s.requestKey(requestID))
	if err == datastore.ErrNoSuchEntity {
		return nil
	}
	return err
}

// ============================================================================
// CodeStore
// ============================================================================

// CodeStore implements cl.CodeStore using Google Cloud Datastore. The key
// name folds target and purpose together, so saving a code replaces any
// earlier code for the same pair.
type CodeStore struct {
	client    *datastore.Client
	namespace string
}

// NewCodeStore creates a new Datastore-backed CodeStore.
func NewCodeStore(client *datastore.Client, namespace string) *CodeStore {
	return &CodeStore{client: client, namespace: namespace}
}

func (s *CodeStore) codeKey(target string, purpose cl.CodePurpose) *datastore.Key {
	key := datastore.NameKey(KindCode, target+"|"+string(purpose), nil)
	key.Namespace = s.namespace
	return key
}

func (s *CodeStore) GetCode(ctx context.Context, target string, purpose cl.CodePurpose) (*cl.VerificationCode, error) {
	var entity CodeEntity
	if err := s.client.Get(ctx, s.codeKey(target, purpose), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, cl.ErrNotFound
		}
		return nil, err
	}
	return entity.ToCode(), nil
}

func (s *CodeStore) SaveCode(ctx context.Context, code *cl.VerificationCode) error {
	key := s.codeKey(code.Target, code.Purpose)
	_, err := s.client.Put(ctx, key, CodeToEntity(code, key))
	return err
}

func (s *CodeStore) DeleteCode(ctx context.Context, target string, purpose cl.CodePurpose) error {
	err := s.client.Delete(ctx, s.codeKey(target, purpose))
	if err == datastore.ErrNoSuchEntity {
		return nil
	}
	return err
}
