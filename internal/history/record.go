// Package history persists a record of every finished streaming session and
// prunes old records on a cron schedule.
package history

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/EnvelopeHack/video-streamer/internal/stream"
)

// Record is one finished streaming session.
type Record struct {
	ID         string    `gorm:"primaryKey;size:26" json:"id"`
	SessionID  string    `gorm:"size:26;index" json:"session_id"`
	RemoteAddr string    `gorm:"size:255" json:"remote_addr"`
	Outcome    string    `gorm:"size:32;index" json:"outcome"`
	Error      string    `gorm:"size:1024" json:"error,omitempty"`
	UnitsSent  int64     `json:"units_sent"`
	BytesSent  int64     `json:"bytes_sent"`
	Restarts   int       `json:"restarts"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `gorm:"index" json:"ended_at"`
	DurationMS int64     `json:"duration_ms"`
}

// TableName pins the table name independent of gorm's pluralisation.
func (Record) TableName() string { return "session_history" }

// BeforeCreate assigns a ULID when none is set.
func (r *Record) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}
	return nil
}

// FromSummary converts a finished session into a record.
func FromSummary(s stream.Summary) *Record {
	ended := s.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	errMsg := s.Error
	if len(errMsg) > 1024 {
		errMsg = errMsg[:1024]
	}
	return &Record{
		SessionID:  s.ID,
		RemoteAddr: s.RemoteAddr,
		Outcome:    string(s.Outcome),
		Error:      errMsg,
		UnitsSent:  s.UnitsSent,
		BytesSent:  s.BytesSent,
		Restarts:   s.Restarts,
		StartedAt:  s.StartedAt,
		EndedAt:    ended,
		DurationMS: ended.Sub(s.StartedAt).Milliseconds(),
	}
}
