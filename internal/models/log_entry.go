package models

import (
	"time"
)

// LogEvent identifies the kind of pipeline event a LogEntry records
type LogEvent string

const (
	LogEventEnqueued  LogEvent = "enqueued"
	LogEventStarted   LogEvent = "started"
	LogEventFetched   LogEvent = "fetched"
	LogEventProcessed LogEvent = "processed"
	LogEventPersisted LogEvent = "persisted"
	LogEventFailed    LogEvent = "failed"
	LogEventServed    LogEvent = "served"
	LogEventDeleted   LogEvent = "deleted"
)

// LogEntry is an append-only activity record. Entries are never updated or
// deleted by the core.
type LogEntry struct {
	ID        string    `json:"id" bson:"_id" badgerhold:"key"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	UserID    int64     `json:"user_id" bson:"user_id"`
	JobID     string    `json:"job_id" bson:"job_id" badgerhold:"index"`
	Event     LogEvent  `json:"event" bson:"event"`
	Detail    string    `json:"detail,omitempty" bson:"detail,omitempty"`
}
