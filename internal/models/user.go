package models

import (
	"time"
)

// User represents a bot user and their usage counters.
// Created on first bot interaction; usage counters mutate only on job
// success. Users are soft-deleted (Deleted=true), never removed - retention
// is an external policy.
type User struct {
	ID              int64     `json:"id" bson:"user_id" badgerhold:"key"`
	Username        string    `json:"username,omitempty" bson:"username,omitempty"`
	FirstName       string    `json:"first_name,omitempty" bson:"first_name,omitempty"`
	LastName        string    `json:"last_name,omitempty" bson:"last_name,omitempty"`
	Registered      bool      `json:"registered" bson:"registered"`
	Deleted         bool      `json:"deleted" bson:"deleted"`
	Started         bool      `json:"started" bson:"started"`
	DownloadCount   int64     `json:"download_count" bson:"download_count"`
	BytesDownloaded int64     `json:"bytes_downloaded" bson:"bytes_downloaded"`
	// UsageTokens records the operation tokens already applied to the
	// counters, making IncrementUsage idempotent per token.
	UsageTokens  []string  `json:"usage_tokens,omitempty" bson:"usage_tokens,omitempty"`
	RegisteredAt time.Time `json:"registered_at" bson:"registered_at"`
	LastActiveAt time.Time `json:"last_active_at" bson:"last_active_at"`
}

// DisplayName returns the best human-readable name for the user
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return u.Username
	}
	return "there"
}

// Active reports whether the user is registered and not soft-deleted
func (u *User) Active() bool {
	return u.Registered && !u.Deleted
}
