package crosslogin

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTTL is the operational window for a login request. It is
// deliberately short and independent of session duration.
const DefaultRequestTTL = 5 * time.Minute

// RequestCorrelator creates and resolves the short-lived tokens that
// bridge a login flow across an HTTP redirect or device boundary.
type RequestCorrelator struct {
	Store RequestStore

	// TTL for newly created requests; DefaultRequestTTL when zero.
	TTL time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewRequestCorrelator(store RequestStore) *RequestCorrelator {
	return &RequestCorrelator{Store: store}
}

func (c *RequestCorrelator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Create registers a new login request. A caller-supplied requestID is
// honored so the caller can begin polling before the redirect completes;
// when empty one is generated.
func (c *RequestCorrelator) Create(ctx context.Context, requestID string) (*LoginRequest, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}
	now := c.now()
	req := &LoginRequest{
		RequestID: requestID,
		CreatedOn: now,
		ExpiresOn: now.Add(ttl),
	}
	if err := c.Store.SaveRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Resolve binds the winning user to the request once authentication
// completes. Re-resolving to the same user is a no-op; resolving to a
// different user than already bound is a logic error surfaced as
// ErrConflict, because a request belongs to exactly one login attempt.
func (c *RequestCorrelator) Resolve(ctx context.Context, requestID, userID string) error {
	req, err := c.Store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Expired(c.now()) {
		return ErrExpired
	}
	if req.UserID != "" {
		if req.UserID == userID {
			return nil
		}
		return ErrConflict
	}
	req.UserID = userID
	return c.Store.SaveRequest(ctx, req)
}

// Read returns the user bound to the request. Before resolution it is
// ErrNotFound; after resolution it keeps returning the same user on
// every read until expiry, tolerating re-polling and page reloads during
// the redirect chain. Past expiry every read is ErrExpired.
func (c *RequestCorrelator) Read(ctx context.Context, requestID string) (string, error) {
	req, err := c.Store.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	if req.Expired(c.now()) {
		return "", ErrExpired
	}
	if req.UserID == "" {
		return "", ErrNotFound
	}
	return req.UserID, nil
}
