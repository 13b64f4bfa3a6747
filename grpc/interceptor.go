package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Verifier resolves auth tokens to user ids. When set, tokens from
	// metadata are verified and the resolved user id is placed in the
	// handler context. When nil, the user-id metadata key is trusted
	// as-is.
	Verifier TokenVerifier

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but UserIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Only used when RequireAuth is true.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewVerifyingConfig creates a config that verifies broker auth tokens
// with the given verifier and requires auth for all but the listed
// public methods.
func NewVerifyingConfig(verifier TokenVerifier, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig()
	config.Verifier = verifier
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig()
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   false,
		PublicMethods: make(map[string]bool),
	}
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that resolves
// the caller identity from metadata. With a verifier configured the
// auth token is checked and its subject injected into the context; the
// switch-user key applies only when EnableSwitchAuth is set.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = normalizeConfig(config)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		userID, err := resolveUserID(ctx, config)
		if err != nil && config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			return nil, status.Error(codes.Unauthenticated, "invalid auth token")
		}

		if config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			if userID == "" {
				return nil, status.Error(codes.Unauthenticated, "authentication required")
			}
		}

		if userID != "" {
			ctx = WithUserID(ctx, userID)
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that resolves
// the caller identity from metadata.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = normalizeConfig(config)

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		userID, err := resolveUserID(ctx, config)
		if err != nil && config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			return status.Error(codes.Unauthenticated, "invalid auth token")
		}

		if config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			if userID == "" {
				return status.Error(codes.Unauthenticated, "authentication required")
			}
		}

		if userID != "" {
			ss = &wrappedStream{ServerStream: ss, ctx: WithUserID(ctx, userID)}
		}
		return handler(srv, ss)
	}
}

// wrappedStream overrides the stream context so handlers see the
// resolved user id.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

func normalizeConfig(config *InterceptorConfig) *InterceptorConfig {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()
	return config
}

// resolveUserID extracts the caller identity from incoming metadata.
func resolveUserID(ctx context.Context, config *InterceptorConfig) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", nil
	}

	// Check for switch user first (only if enabled)
	if config.Config.EnableSwitchAuth {
		if values := md.Get(config.Config.MetadataKeySwitchUser); len(values) > 0 && values[0] != "" {
			return values[0], nil
		}
	}

	if config.Verifier != nil {
		values := md.Get(config.Config.MetadataKeyAuthToken)
		if len(values) == 0 || values[0] == "" {
			return "", nil
		}
		return config.Verifier(values[0])
	}

	if values := md.Get(config.Config.MetadataKeyUserID); len(values) > 0 {
		return values[0], nil
	}

	return "", nil
}
