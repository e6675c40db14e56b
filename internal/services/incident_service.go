// Package services – IncidentService
//
// This file implements the IncidentService, which persists unmapped failures
// captured by the exception handler and serves them back to support staff by
// correlation code. It also owns retention: incidents older than Retention
// are purged by Purge, either on demand or from RunRetention.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-exception-handler/internal/domain"
	"github.com/tbourn/go-exception-handler/internal/errcode"
	"github.com/tbourn/go-exception-handler/internal/observability"
	"github.com/tbourn/go-exception-handler/internal/utils"
)

// IncidentRepo defines the repository contract required by IncidentService.
type IncidentRepo interface {
	// CreateIncident inserts a new incident row.
	CreateIncident(ctx context.Context, db *gorm.DB, inc *domain.Incident) error
	// GetIncidentByCode fetches the incident recorded under code.
	GetIncidentByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Incident, error)
	// CountIncidents returns the total number of incidents.
	CountIncidents(ctx context.Context, db *gorm.DB) (int64, error)
	// ListIncidentsPage returns a page of incidents, newest first.
	ListIncidentsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Incident, error)
	// DeleteIncidentsBefore removes incidents created before cutoff.
	DeleteIncidentsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
	// IncidentsStats returns the row count and newest CreatedAt.
	IncidentsStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error)
}

// IncidentService records and looks up incidents.
type IncidentService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the incident repository used by this service.
	Repo IncidentRepo

	// CodePattern validates lookup codes before touching the database.
	CodePattern *regexp.Regexp
	// Retention is how long incidents are kept; zero disables purging.
	Retention time.Duration

	now func() time.Time
}

// NewIncidentService constructs an IncidentService that accepts codes
// generated with prefix.
func NewIncidentService(db *gorm.DB, r IncidentRepo, prefix string, retention time.Duration) *IncidentService {
	return &IncidentService{
		DB:          db,
		Repo:        r,
		CodePattern: errcode.Pattern(prefix),
		Retention:   retention,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RecordIncident persists inc.
func (s *IncidentService) RecordIncident(ctx context.Context, inc *domain.Incident) error {
	if inc == nil {
		return errors.New("nil incident")
	}
	return s.Repo.CreateIncident(ctx, s.DB, inc)
}

// Get returns the incident recorded under code. Malformed codes yield
// ErrInvalidIncidentCode and unknown ones ErrIncidentNotFound.
func (s *IncidentService) Get(ctx context.Context, code string) (*domain.Incident, error) {
	code = strings.TrimSpace(code)
	if s.CodePattern != nil && !s.CodePattern.MatchString(code) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIncidentCode, code)
	}
	inc, err := s.Repo.GetIncidentByCode(ctx, s.DB, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIncidentNotFound
	}
	return inc, err
}

// ListPage returns a page of incidents, newest first, and the total count.
// It applies defaults for invalid page/pageSize.
func (s *IncidentService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Incident, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := utils.Offset(page, pageSize)

	total, err := s.Repo.CountIncidents(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Incident{}, 0, nil
	}

	items, err := s.Repo.ListIncidentsPage(ctx, s.DB, offset, pageSize)
	return items, total, err
}

// Stats returns the number of stored incidents and the newest CreatedAt,
// used to build list ETags.
func (s *IncidentService) Stats(ctx context.Context) (int64, *time.Time, error) {
	return s.Repo.IncidentsStats(ctx, s.DB)
}

// Purge deletes incidents older than Retention.
func (s *IncidentService) Purge(ctx context.Context) (int64, error) {
	if s.Retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.Retention)
	ctx, span := observability.Tracer().Start(ctx, "incidents.purge",
		trace.WithAttributes(attribute.String("cutoff", cutoff.Format(time.RFC3339))))
	defer span.End()

	n, err := s.Repo.DeleteIncidentsBefore(ctx, s.DB, cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purge incidents")
		return 0, err
	}
	span.SetAttributes(attribute.Int64("deleted", n))
	return n, nil
}

// RunRetention calls Purge every interval until ctx is done. Purge errors are
// logged and do not stop the loop.
func (s *IncidentService) RunRetention(ctx context.Context, interval time.Duration) {
	if s.Retention <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Purge(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("incident retention purge failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Dur("retention", s.Retention).Msg("incidents purged")
			}
		}
	}
}
