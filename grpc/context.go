// Package grpc lets gRPC services sitting behind the login broker
// accept its auth tokens: an interceptor verifies the token carried in
// metadata and resolves it to a user id for handlers.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// Default metadata keys for authentication context.
// These can be customized via Config if needed.
const (
	// DefaultMetadataKeyAuthToken is the default gRPC metadata key for the broker auth token
	DefaultMetadataKeyAuthToken = "x-auth-token"

	// DefaultMetadataKeyUserID is the default gRPC metadata key for a pre-resolved user ID
	DefaultMetadataKeyUserID = "x-user-id"

	// DefaultMetadataKeySwitchUser is the default gRPC metadata key for switching to a different user (testing only)
	DefaultMetadataKeySwitchUser = "x-switch-user"
)

type ctxKey int

const userIDKey ctxKey = iota

// TokenVerifier resolves a broker auth token to the user id it was
// issued for. The login engine's VerifyAuthToken satisfies this.
type TokenVerifier func(token string) (userID string, err error)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyAuthToken is the gRPC metadata key for the broker auth token.
	// Defaults to "x-auth-token".
	MetadataKeyAuthToken string

	// MetadataKeyUserID is the gRPC metadata key for a pre-resolved user ID,
	// trusted only when no verifier is configured (e.g. behind a gateway
	// that already validated the token). Defaults to "x-user-id".
	MetadataKeyUserID string

	// MetadataKeySwitchUser is the gRPC metadata key for switching to a different user.
	// Only used when switch auth is enabled. Defaults to "x-switch-user".
	MetadataKeySwitchUser string

	// EnableSwitchAuth when true allows the switch-user key to override the user ID.
	// Should only be enabled in development/testing environments.
	EnableSwitchAuth bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthToken:  DefaultMetadataKeyAuthToken,
		MetadataKeyUserID:     DefaultMetadataKeyUserID,
		MetadataKeySwitchUser: DefaultMetadataKeySwitchUser,
		EnableSwitchAuth:      false,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthToken == "" {
		c.MetadataKeyAuthToken = DefaultMetadataKeyAuthToken
	}
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
	if c.MetadataKeySwitchUser == "" {
		c.MetadataKeySwitchUser = DefaultMetadataKeySwitchUser
	}
}

// WithUserID returns a context carrying the resolved user id. The
// interceptor calls this after token verification.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext extracts the authenticated user ID from the context.
// A user id resolved by the interceptor wins; otherwise the metadata
// user-id key is consulted. Returns empty string if no user is
// authenticated.
func UserIDFromContext(ctx context.Context) string {
	return UserIDFromContextWithConfig(ctx, nil)
}

// UserIDFromContextWithConfig extracts the authenticated user ID using the specified config.
func UserIDFromContextWithConfig(ctx context.Context, config *Config) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok && userID != "" {
		return userID
	}

	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	// Check for switch user first (only if enabled)
	if config.EnableSwitchAuth {
		if values := md.Get(config.MetadataKeySwitchUser); len(values) > 0 && values[0] != "" {
			return values[0]
		}
	}

	if values := md.Get(config.MetadataKeyUserID); len(values) > 0 {
		return values[0]
	}

	return ""
}

// AuthTokenToOutgoingContext adds the broker auth token to outgoing gRPC context metadata.
func AuthTokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return AuthTokenToOutgoingContextWithKey(ctx, token, DefaultMetadataKeyAuthToken)
}

// AuthTokenToOutgoingContextWithKey adds the auth token with a custom key.
func AuthTokenToOutgoingContextWithKey(ctx context.Context, token string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, token)
}

// UserIDToOutgoingContext adds a pre-resolved user ID to outgoing gRPC context metadata.
func UserIDToOutgoingContext(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyUserID, userID)
}

// SwitchUserToOutgoingContext adds a switch-user header to outgoing gRPC context metadata.
// This is only effective when EnableSwitchAuth is set on the server.
func SwitchUserToOutgoingContext(ctx context.Context, switchToUserID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeySwitchUser, switchToUserID)
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// IsAuthenticatedWithConfig returns true if there is an authenticated user using the specified config.
func IsAuthenticatedWithConfig(ctx context.Context, config *Config) bool {
	return UserIDFromContextWithConfig(ctx, config) != ""
}
