// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Incident
// model.
//
// All functions are context-aware and accept a *gorm.DB handle. They follow
// the "thin repository" approach: no business logic, only persistence and
// query composition.
//
// Error semantics:
//   - When an incident is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound).
//   - Other DB errors are propagated as-is.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-exception-handler/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateIncident inserts inc. A missing ID is filled with a random UUID and a
// zero CreatedAt with the current UTC time.
func CreateIncident(ctx context.Context, db *gorm.DB, inc *domain.Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(inc).Error
}

// GetIncidentByCode fetches the incident recorded under a correlation code,
// or ErrNotFound.
func GetIncidentByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Incident, error) {
	var inc domain.Incident
	if err := db.WithContext(ctx).Where("error_code = ?", code).First(&inc).Error; err != nil {
		return nil, err
	}
	return &inc, nil
}

// CountIncidents returns the total number of stored incidents.
func CountIncidents(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Incident{}).Count(&n).Error
	return n, err
}

// ListIncidentsPage returns incidents newest first.
func ListIncidentsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Incident, error) {
	var out []domain.Incident
	err := db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteIncidentsBefore removes incidents created strictly before cutoff and
// returns how many rows were deleted.
func DeleteIncidentsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&domain.Incident{})
	return res.RowsAffected, res.Error
}
