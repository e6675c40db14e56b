package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-exception-handler/internal/domain"
)

func newIncidentDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("incident_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if migrate {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedIncident(t *testing.T, db *gorm.DB, code string, at time.Time) *domain.Incident {
	t.Helper()
	inc := &domain.Incident{
		ErrorCode:  code,
		StatusCode: 500,
		Method:     "GET",
		Path:       "/api/v1/exceptions/plain",
		CreatedAt:  at,
	}
	if err := CreateIncident(context.Background(), db, inc); err != nil {
		t.Fatalf("CreateIncident(%s): %v", code, err)
	}
	return inc
}

func TestCreateIncident_Error_NoTable(t *testing.T) {
	db := newIncidentDB(t, false)
	if err := CreateIncident(context.Background(), db, &domain.Incident{ErrorCode: "ERR_1"}); err == nil {
		t.Fatalf("expected error creating without table")
	}
}

func TestCreateIncident_FillsIDAndTimestamp(t *testing.T) {
	db := newIncidentDB(t, true)

	start := time.Now().UTC().Add(-time.Minute)
	inc := &domain.Incident{ErrorCode: "ERR_ABCDEF01", StatusCode: 500, Method: "POST", Path: "/p"}
	if err := CreateIncident(context.Background(), db, inc); err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}
	if inc.ID == "" {
		t.Fatalf("expected generated ID")
	}
	if inc.CreatedAt.Before(start) || inc.CreatedAt.Location() != time.UTC {
		t.Fatalf("unexpected CreatedAt: %v", inc.CreatedAt)
	}
}

func TestCreateIncident_KeepsProvidedFields(t *testing.T) {
	db := newIncidentDB(t, true)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	inc := &domain.Incident{ID: "fixed-id", ErrorCode: "ERR_00000001", StatusCode: 500, Method: "GET", Path: "/p", CreatedAt: at}
	if err := CreateIncident(context.Background(), db, inc); err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}
	if inc.ID != "fixed-id" || !inc.CreatedAt.Equal(at) {
		t.Fatalf("provided fields overwritten: %+v", inc)
	}
}

func TestCreateIncident_DuplicateCode(t *testing.T) {
	db := newIncidentDB(t, true)
	seedIncident(t, db, "ERR_DEADBEEF", time.Now().UTC())

	err := CreateIncident(context.Background(), db, &domain.Incident{ErrorCode: "ERR_DEADBEEF", Method: "GET", Path: "/q"})
	if err == nil {
		t.Fatalf("expected unique constraint error")
	}
}

func TestGetIncidentByCode(t *testing.T) {
	db := newIncidentDB(t, true)
	want := seedIncident(t, db, "ERR_0BADF00D", time.Now().UTC())

	got, err := GetIncidentByCode(context.Background(), db, "ERR_0BADF00D")
	if err != nil {
		t.Fatalf("GetIncidentByCode: %v", err)
	}
	if got.ID != want.ID || got.Path != want.Path || got.StatusCode != 500 {
		t.Fatalf("unexpected incident: %+v", got)
	}

	_, err = GetIncidentByCode(context.Background(), db, "ERR_MISSING0")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListIncidentsPage_NewestFirst(t *testing.T) {
	db := newIncidentDB(t, true)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedIncident(t, db, fmt.Sprintf("ERR_0000000%d", i), base.Add(time.Duration(i)*time.Minute))
	}

	n, err := CountIncidents(context.Background(), db)
	if err != nil || n != 5 {
		t.Fatalf("CountIncidents = %d, %v; want 5", n, err)
	}

	page, err := ListIncidentsPage(context.Background(), db, 1, 2)
	if err != nil {
		t.Fatalf("ListIncidentsPage: %v", err)
	}
	if len(page) != 2 || page[0].ErrorCode != "ERR_00000003" || page[1].ErrorCode != "ERR_00000002" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestDeleteIncidentsBefore(t *testing.T) {
	db := newIncidentDB(t, true)
	now := time.Now().UTC()
	seedIncident(t, db, "ERR_00000OLD", now.Add(-48*time.Hour))
	seedIncident(t, db, "ERR_00000NEW", now)

	deleted, err := DeleteIncidentsBefore(context.Background(), db, now.Add(-24*time.Hour))
	if err != nil || deleted != 1 {
		t.Fatalf("DeleteIncidentsBefore = %d, %v; want 1", deleted, err)
	}
	if _, err := GetIncidentByCode(context.Background(), db, "ERR_00000OLD"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old incident still present: %v", err)
	}
	if _, err := GetIncidentByCode(context.Background(), db, "ERR_00000NEW"); err != nil {
		t.Fatalf("new incident missing: %v", err)
	}
}

func TestIncidentsStats(t *testing.T) {
	db := newIncidentDB(t, true)

	n, latest, err := IncidentsStats(context.Background(), db)
	if err != nil || n != 0 || latest != nil {
		t.Fatalf("empty stats = %d, %v, %v", n, latest, err)
	}

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	seedIncident(t, db, "ERR_00000A01", base)
	seedIncident(t, db, "ERR_00000A02", base.Add(time.Hour))

	n, latest, err = IncidentsStats(context.Background(), db)
	if err != nil {
		t.Fatalf("IncidentsStats: %v", err)
	}
	if n != 2 || latest == nil || !latest.Equal(base.Add(time.Hour)) {
		t.Fatalf("stats = %d, %v; want 2, %v", n, latest, base.Add(time.Hour))
	}
}
