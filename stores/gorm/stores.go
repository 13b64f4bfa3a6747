//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	cl "github.com/crosslogin/crosslogin"
)

// AutoMigrate runs database migrations for all crosslogin tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&InputClaimModel{},
		&RequestModel{},
		&CodeModel{},
	)
}

// =============================================================================
// UserStore
// =============================================================================

// UserStore implements cl.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Get(ctx context.Context, id string) (*cl.User, error) {
	var model UserModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cl.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *UserStore) FindByInput(ctx context.Context, format cl.InputFormat, input string) (*cl.User, error) {
	var claim InputClaimModel
	err := s.db.WithContext(ctx).First(&claim, "input_key = ?", cl.InputKey(format, input)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cl.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, claim.UserID)
}

func (s *UserStore) FindByDisplayName(ctx context.Context, name string) ([]*cl.User, error) {
	var models []UserModel
	needle := "%" + strings.ToLower(name) + "%"
	err := s.db.WithContext(ctx).
		Where("LOWER(display_name) LIKE ?", needle).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	users := make([]*cl.User, 0, len(models))
	for i := range models {
		users = append(users, models[i].ToUser())
	}
	return users, nil
}

func (s *UserStore) Create(ctx context.Context, user *cl.User) error {
	user.Version = 1
	err := s.db.WithContext(ctx).Create(UserToModel(user)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return cl.ErrConflict
	}
	return err
}

func (s *UserStore) Update(ctx context.Context, user *cl.User) error {
	model := UserToModel(user)
	model.Version = user.Version + 1
	result := s.db.WithContext(ctx).
		Model(&UserModel{}).
		Where("id = ? AND version = ?", user.ID, user.Version).
		Select("*").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Either the row is gone or someone moved the version.
		if _, err := s.Get(ctx, user.ID); err != nil {
			return err
		}
		return cl.ErrConflict
	}
	user.Version++
	return nil
}

func (s *UserStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&UserModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return cl.ErrNotFound
	}
	return nil
}

func (s *UserStore) ClaimInput(ctx context.Context, format cl.InputFormat, input string, userID string) error {
	key := cl.InputKey(format, input)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing InputClaimModel
		err := tx.First(&existing, "input_key = ?", key).Error
		if err == nil {
			if existing.UserID == userID {
				return nil // already held by this user
			}
			return cl.ErrDuplicateInput
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = tx.Create(&InputClaimModel{InputKey: key, UserID: userID}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return cl.ErrDuplicateInput
		}
		return err
	})
}

func (s *UserStore) ReleaseInput(ctx context.Context, format cl.InputFormat, input string) error {
	return s.db.WithContext(ctx).
		Delete(&InputClaimModel{}, "input_key = ?", cl.InputKey(format, input)).Error
}

// =============================================================================
// RequestStore
// =============================================================================

// RequestStore implements cl.RequestStore using GORM
type RequestStore struct {
	db *gorm.DB
}

func NewRequestStore(db *gorm.DB) *RequestStore {
	return &RequestStore{db: db}
}

func (s *RequestStore) GetRequest(ctx context.Context, requestID string) (*cl.LoginRequest, error) {
	var model RequestModel
	err := s.db.WithContext(ctx).First(&model, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cl.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ToRequest(), nil
}

func (s *RequestStore) SaveRequest(ctx context.Context, req *cl.LoginRequest) error {
	model := &RequestModel{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		CreatedOn: req.CreatedOn,
		ExpiresOn: req.ExpiresOn,
	}
	return s.db.WithContext(ctx).Save(model).Error
}

func (s *RequestStore) DeleteRequest(ctx context.Context, requestID string) error {
	return s.db.WithContext(ctx).Delete(&RequestModel{}, "request_id = ?", requestID).Error
}

// =============================================================================
// CodeStore
// =============================================================================

// CodeStore implements cl.CodeStore using GORM
type CodeStore struct {
	db *gorm.DB
}

func NewCodeStore(db *gorm.DB) *CodeStore {
	return &CodeStore{db: db}
}

func (s *CodeStore) GetCode(ctx context.Context, target string, purpose cl.CodePurpose) (*cl.VerificationCode, error) {
	var model CodeModel
	err := s.db.WithContext(ctx).
		First(&model, "target = ? AND purpose = ?", target, string(purpose)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cl.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ToCode(), nil
}

func (s *CodeStore) SaveCode(ctx context.Context, code *cl.VerificationCode) error {
	return s.db.WithContext(ctx).Save(CodeToModel(code)).Error
}

func (s *CodeStore) DeleteCode(ctx context.Context, target string, purpose cl.CodePurpose) error {
	return s.db.WithContext(ctx).
		Delete(&CodeModel{}, "target = ? AND purpose = ?", target, string(purpose)).Error
}
