//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"

	cl "github.com/crosslogin/crosslogin"
)

// UserEntity is the Datastore entity for users. The full record is kept
// as JSON in an unindexed property; the indexed fields exist only to
// serve queries and the optimistic version check.
type UserEntity struct {
	Key      *datastore.Key `datastore:"__key__"`
	IsLocked bool           `datastore:"is_locked"`
	NameFold string         `datastore:"name_fold"`
	Record   []byte         `datastore:"record,noindex"` // JSON encoded
	Updated  time.Time      `datastore:"updated"`
	Version  int            `datastore:"version"`
}

func (e *UserEntity) ToUser() (*cl.User, error) {
	var user cl.User
	if err := json.Unmarshal(e.Record, &user); err != nil {
		return nil, err
	}
	user.Version = e.Version
	return &user, nil
}

// InputClaimEntity is one row of the (format, input) uniqueness index.
// Key name: cl.InputKey(format, input).
type InputClaimEntity struct {
	Key    *datastore.Key `datastore:"__key__"`
	UserID string         `datastore:"user_id"`
}

// RequestEntity is the Datastore entity for login requests.
type RequestEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	CreatedOn time.Time      `datastore:"created_on"`
	ExpiresOn time.Time      `datastore:"expires_on"`
}

func (e *RequestEntity) ToRequest() *cl.LoginRequest {
	return &cl.LoginRequest{
		RequestID: e.Key.Name,
		UserID:    e.UserID,
		CreatedOn: e.CreatedOn,
		ExpiresOn: e.ExpiresOn,
	}
}

// CodeEntity is the Datastore entity for verification codes.
// Key name: target + "|" + purpose.
type CodeEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Target    string         `datastore:"target"`
	Purpose   string         `datastore:"purpose"`
	Code      string         `datastore:"code,noindex"`
	IssuedOn  time.Time      `datastore:"issued_on"`
	ExpiresOn time.Time      `datastore:"expires_on"`
	Consumed  bool           `datastore:"consumed"`
}

func (e *CodeEntity) ToCode() *cl.VerificationCode {
	return &cl.VerificationCode{
		Target:    e.Target,
		Purpose:   cl.CodePurpose(e.Purpose),
		Code:      e.Code,
		IssuedOn:  e.IssuedOn,
		ExpiresOn: e.ExpiresOn,
		Consumed:  e.Consumed,
	}
}

func CodeToEntity(c *cl.VerificationCode, key *datastore.Key) *CodeEntity {
	return &CodeEntity{
		Key:       key,
		Target:    c.Target,
		Purpose:   string(c.Purpose),
		Code:      c.Code,
		IssuedOn:  c.IssuedOn,
		ExpiresOn: c.ExpiresOn,
		Consumed:  c.Consumed,
	}
}
