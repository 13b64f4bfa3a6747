package crosslogin

import "context"

// Partition discriminators for the document store. Every persisted entity
// lives under the partition named after its type and is addressed by the
// composite row key produced by RowKey.
const (
	PartitionUser    = "User"
	PartitionRequest = "CloudRequest"
	PartitionCode    = "VerificationCode"
)

// RowKey builds the composite row key for an entity. The format is kept
// stable for interop with existing data.
func RowKey(discriminator, id string) string {
	return discriminator + "|" + id
}

// UserStore is the persistence contract for User rows plus the
// (format, input) uniqueness index.
//
// Create is insert-if-absent on the user id and fails with ErrConflict
// when the id already exists. Update is a compare-and-swap on
// User.Version and fails with ErrConflict when the stored version has
// moved on; callers re-read and retry.
//
// ClaimInput atomically reserves a (format, input) pair for a user and
// fails with ErrDuplicateInput when another user already holds it.
// Claiming a pair the same user already holds is a no-op. ReleaseInput
// drops a reservation. FindByInput resolves the owning user through the
// same index.
type UserStore interface {
	Get(ctx context.Context, id string) (*User, error)
	FindByInput(ctx context.Context, format InputFormat, input string) (*User, error)
	FindByDisplayName(ctx context.Context, name string) ([]*User, error)
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	Delete(ctx context.Context, id string) error

	ClaimInput(ctx context.Context, format InputFormat, input string, userID string) error
	ReleaseInput(ctx context.Context, format InputFormat, input string) error
}

// RequestStore persists login requests under their own partition so they
// never collide with user rows. Missing requests are ErrNotFound.
type RequestStore interface {
	GetRequest(ctx context.Context, requestID string) (*LoginRequest, error)
	SaveRequest(ctx context.Context, req *LoginRequest) error
	DeleteRequest(ctx context.Context, requestID string) error
}

// CodeStore persists verification codes keyed by (target, purpose).
// SaveCode replaces any prior code for the same key, so an in-flight
// validation of a stale code always fails. Missing codes are ErrNotFound.
type CodeStore interface {
	GetCode(ctx context.Context, target string, purpose CodePurpose) (*VerificationCode, error)
	SaveCode(ctx context.Context, code *VerificationCode) error
	DeleteCode(ctx context.Context, target string, purpose CodePurpose) error
}
