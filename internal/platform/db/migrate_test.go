package db

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_audit.sql":  {Data: []byte("CREATE TABLE audit_event (id UUID);")},
		"001_claims.sql": {Data: []byte("CREATE TABLE insurance_claims (id UUID);")},
		"010_index.sql":  {Data: []byte("CREATE INDEX x ON insurance_claims (id);")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	wantVersions := []int{1, 2, 10}
	for i, v := range wantVersions {
		if migrations[i].Version != v {
			t.Errorf("migration %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_claims.sql" {
		t.Errorf("expected name 001_claims.sql, got %s", migrations[0].Name)
	}
	if !strings.Contains(migrations[0].SQL, "insurance_claims") {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsNonMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"001_claims.sql": {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("docs")},
		"embed.go":       {Data: []byte("package migrations")},
		"seed.sql":       {Data: []byte("SELECT 2;")},
		"abc_bad.sql":    {Data: []byte("SELECT 3;")},
		"sub/002_x.sql":  {Data: []byte("SELECT 4;")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Version != 1 {
		t.Fatalf("expected only 001_claims.sql, got %+v", migrations)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 2;")},
	}
	if _, err := NewMigrator(nil, fsys).LoadMigrations(); err == nil {
		t.Error("expected duplicate version error")
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migrations))
	}
}

func TestStatusOf(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_claims.sql"},
		{Version: 2, Name: "002_audit.sql"},
	}
	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	statuses := statusOf(migrations, map[int]time.Time{1: at})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected 001 applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected 002 pending, got %+v", statuses[1])
	}
}

func TestNewMigrator_Schema(t *testing.T) {
	m := NewMigrator(nil, fstest.MapFS{})
	if m.schema != "public" {
		t.Errorf("expected default schema public, got %s", m.schema)
	}
	if m.WithSchema("claims").schema != "claims" {
		t.Error("WithSchema did not apply")
	}
	if m.WithSchema("").schema != "claims" {
		t.Error("empty schema must keep the current one")
	}
	if got := m.table(); got != `"claims"."schema_migrations"` {
		t.Errorf("unexpected table identifier %s", got)
	}
}
