// Package launchstate stores the short-lived state minted by an OIDC login
// initiation until the matching launch consumes it.
//
// A record is written once and taken exactly once: Take is an atomic
// fetch-and-delete in every implementation, so two concurrent launches naming the
// same state can never both observe it.
package launchstate

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Take for unknown, expired or already consumed states.
	ErrNotFound = errors.New("launchstate: state not found")
	// ErrExists is returned by Put when the state key is already present.
	ErrExists = errors.New("launchstate: state already exists")
)

// LaunchState is the record correlating a login initiation with its launch.
// The dynamodbav names match the attributes of the existing ltiCacheTable.
type LaunchState struct {
	State          string    `json:"state" dynamodbav:"key"`
	ClientID       string    `json:"client_id" dynamodbav:"client_id"`
	DeploymentID   string    `json:"deployment_id" dynamodbav:"lti_deployment_id"`
	Issuer         string    `json:"iss" dynamodbav:"iss"`
	Nonce          string    `json:"nonce" dynamodbav:"launch_id"`
	LTIMessageHint string    `json:"lti_message_hint,omitempty" dynamodbav:"lti_message_hint"`
	SourceIP       string    `json:"source_ip" dynamodbav:"ip"`
	CreatedAt      time.Time `json:"created_at" dynamodbav:"created_at,unixtime"`
	ExpiresAt      time.Time `json:"expires_at" dynamodbav:"ttl,unixtime"`
}

// Expired reports whether the record is past its TTL at now.
func (s LaunchState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Cache is the single-use store used by the login and launch flows.
type Cache interface {
	// Put stores s under s.State for ttl. Overwriting is an error (ErrExists).
	Put(ctx context.Context, s LaunchState, ttl time.Duration) error
	// Take returns and removes the record in one step. A record that is missing,
	// expired or already taken yields ErrNotFound.
	Take(ctx context.Context, state string) (LaunchState, error)
}

// Purger is implemented by caches that need explicit removal of abandoned states.
// DynamoDB relies on its native TTL instead.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int, error)
}

// prepare fills CreatedAt/ExpiresAt and validates the record before a write.
func prepare(s LaunchState, ttl time.Duration, now time.Time) (LaunchState, error) {
	s.State = strings.TrimSpace(s.State)
	if s.State == "" {
		return s, errors.New("launchstate: state is required")
	}
	if ttl <= 0 {
		return s, errors.New("launchstate: ttl must be positive")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.CreatedAt = s.CreatedAt.UTC().Truncate(time.Second)
	s.ExpiresAt = s.CreatedAt.Add(ttl)
	return s, nil
}

func nowOr(fn func() time.Time) time.Time {
	if fn != nil {
		return fn()
	}
	return time.Now()
}
