package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) < 2 {
		t.Fatalf("expected at least two applied migrations, got %v", versions)
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("002_submissions.sql")
	if err != nil || v != 2 {
		t.Errorf("parseMigrationVersion = %d, %v; want 2, nil", v, err)
	}
	if _, err := parseMigrationVersion("submissions.sql"); err == nil {
		t.Error("expected error for unnumbered migration")
	}
}

func TestGeocode_Missing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetGeocode("kenya")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGeocode_PutGetReplace(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.PutGeocode(GeocodeEntry{Country: "uganda", Lat: 1.37, Lng: 32.29, ResolvedAt: at}); err != nil {
		t.Fatalf("PutGeocode: %v", err)
	}
	got, err := s.GetGeocode("uganda")
	if err != nil {
		t.Fatalf("GetGeocode: %v", err)
	}
	if got.Lat != 1.37 || got.Lng != 32.29 || !got.ResolvedAt.Equal(at) {
		t.Errorf("got %+v", got)
	}

	later := at.Add(time.Hour)
	if err := s.PutGeocode(GeocodeEntry{Country: "uganda", Lat: 1.5, Lng: 32.5, ResolvedAt: later}); err != nil {
		t.Fatalf("PutGeocode (replace): %v", err)
	}
	got, err = s.GetGeocode("uganda")
	if err != nil {
		t.Fatalf("GetGeocode: %v", err)
	}
	if got.Lat != 1.5 || !got.ResolvedAt.Equal(later) {
		t.Errorf("replace not applied: %+v", got)
	}

	n, err := s.ClearGeocodeCache()
	if err != nil {
		t.Fatalf("ClearGeocodeCache: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared %d rows, want 1", n)
	}
}

func TestSubmissions_ListOrderAndFilter(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := s.SaveSubmission(Submission{
			ID:          fmt.Sprintf("sub-%d", i),
			ProfileID:   "p1",
			SubmittedAt: base.Add(time.Duration(i) * time.Minute),
			Status:      SubmissionSucceeded,
			Country:     "Uganda",
		})
		if err != nil {
			t.Fatalf("SaveSubmission: %v", err)
		}
	}
	err := s.SaveSubmission(Submission{
		ID:            "other",
		ProfileID:     "p2",
		SubmittedAt:   base,
		Status:        SubmissionFailed,
		PhotoUploaded: true,
		Error:         "unexpected status 500",
	})
	if err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}

	subs, err := s.ListSubmissions("p1", 10)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("got %d submissions, want 3", len(subs))
	}
	if subs[0].ID != "sub-2" || subs[2].ID != "sub-0" {
		t.Errorf("order = %s,%s,%s; want newest first", subs[0].ID, subs[1].ID, subs[2].ID)
	}

	all, err := s.ListSubmissions("", 2)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("limit not applied: got %d", len(all))
	}

	p2, err := s.ListSubmissions("p2", 0)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(p2) != 1 || !p2[0].PhotoUploaded || p2[0].Status != SubmissionFailed || p2[0].Error == "" {
		t.Errorf("p2 = %+v", p2)
	}
}
