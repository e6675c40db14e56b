// Package domain defines the persistence models for the exception handling
// service. These types are mapped with GORM.
package domain

import "time"

// Incident is the server-side record of one unmapped failure. The client only
// ever sees ErrorCode; support staff use it to find the row and the matching
// log line.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ErrorCode: correlation code returned to the client (unique).
//   - StatusCode: HTTP status sent with the error body.
//   - Method / Path / RequestID: request the failure escaped from.
//   - ErrorType: Go type (or sentinel) of the failure.
//   - Message: flattened failure message, redacted.
//   - CreatedAt: UTC time the incident was recorded (indexed for retention).
type Incident struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	ErrorCode  string    `json:"error_code"  gorm:"type:varchar(64);not null;uniqueIndex"`
	StatusCode int       `json:"status_code" gorm:"not null"`
	Method     string    `json:"method"      gorm:"type:varchar(16);not null"`
	Path       string    `json:"path"        gorm:"type:text;not null"`
	RequestID  string    `json:"request_id"  gorm:"type:varchar(128)"`
	ErrorType  string    `json:"error_type"  gorm:"type:varchar(255)"`
	Message    string    `json:"message"     gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"  gorm:"index"`
}

// TableName returns the database table name for Incident.
func (Incident) TableName() string { return "incidents" }
