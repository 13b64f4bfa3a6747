//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	cl "github.com/crosslogin/crosslogin"
)

// InputList stores a user's ordered login inputs as a JSON column.
type InputList []cl.LoginInput

func (l InputList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *InputList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// UserModel is the GORM model for users
type UserModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	FirstName    string `gorm:"size:128"`
	LastName     string `gorm:"size:128"`
	DisplayName  string `gorm:"size:256;index"`
	Username     string `gorm:"size:64;index"`
	IsLocked     bool   `gorm:"default:false"`
	DateOfBirth  *time.Time
	CreatedOn    time.Time
	LastSignedIn time.Time
	Inputs       InputList `gorm:"type:jsonb"`
	Version      int
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *cl.User {
	return &cl.User{
		ID:           m.ID,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		DisplayName:  m.DisplayName,
		Username:     m.Username,
		IsLocked:     m.IsLocked,
		DateOfBirth:  m.DateOfBirth,
		CreatedOn:    m.CreatedOn,
		LastSignedIn: m.LastSignedIn,
		Inputs:       []cl.LoginInput(m.Inputs),
		Version:      m.Version,
	}
}

func UserToModel(u *cl.User) *UserModel {
	return &UserModel{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		DisplayName:  u.DisplayName,
		Username:     u.Username,
		IsLocked:     u.IsLocked,
		DateOfBirth:  u.DateOfBirth,
		CreatedOn:    u.CreatedOn,
		LastSignedIn: u.LastSignedIn,
		Inputs:       InputList(u.Inputs),
		Version:      u.Version,
	}
}

// InputClaimModel is the GORM model for the (format, input) uniqueness
// index. The primary key is cl.InputKey(format, input).
type InputClaimModel struct {
	InputKey string `gorm:"primaryKey;size:320"`
	UserID   string `gorm:"size:64;index"`
}

func (InputClaimModel) TableName() string {
	return "input_claims"
}

// RequestModel is the GORM model for login requests
type RequestModel struct {
	RequestID string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"size:64"`
	CreatedOn time.Time
	ExpiresOn time.Time `gorm:"index"`
}

func (RequestModel) TableName() string {
	return "login_requests"
}

func (m *RequestModel) ToRequest() *cl.LoginRequest {
	return &cl.LoginRequest{
		RequestID: m.RequestID,
		UserID:    m.UserID,
		CreatedOn: m.CreatedOn,
		ExpiresOn: m.ExpiresOn,
	}
}

// CodeModel is the GORM model for verification codes. The composite
// primary key makes the one-code-per-(target, purpose) rule a property
// of the schema.
type CodeModel struct {
	Target    string `gorm:"primaryKey;size:320"`
	Purpose   string `gorm:"primaryKey;size:32"`
	Code      string `gorm:"size:64"`
	IssuedOn  time.Time
	ExpiresOn time.Time `gorm:"index"`
	Consumed  bool
}

func (CodeModel) TableName() string {
	return "verification_codes"
}

func (m *CodeModel) ToCode() *cl.VerificationCode {
	return &cl.VerificationCode{
		Target:    m.Target,
		Purpose:   cl.CodePurpose(m.Purpose),
		Code:      m.Code,
		IssuedOn:  m.IssuedOn,
		ExpiresOn: m.ExpiresOn,
		Consumed:  m.Consumed,
	}
}

func CodeToModel(c *cl.VerificationCode) *CodeModel {
	return &CodeModel{
		Target:    c.Target,
		Purpose:   string(c.Purpose),
		Code:      c.Code,
		IssuedOn:  c.IssuedOn,
		ExpiresOn: c.ExpiresOn,
		Consumed:  c.Consumed,
	}
}
