// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSqliteDSN(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"bare file", "file:test.db", []string{"?_pragma=foreign_keys(1)", "&_txlock=immediate"}},
		{"keeps caller pragma", "file:test.db?_pragma=busy_timeout(100)", []string{"busy_timeout(100)", "&_pragma=foreign_keys(1)"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sqliteDSN(tt.in)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("sqliteDSN(%q) = %q, missing %q", tt.in, got, w)
				}
			}
			if strings.Count(got, "busy_timeout") != 1 {
				t.Errorf("sqliteDSN(%q) = %q, busy_timeout should appear once", tt.in, got)
			}
		})
	}
}

func TestCreateSchema_Idempotent(t *testing.T) {
	conn, err := Open("sqlite", "file:"+filepath.Join(t.TempDir(), "schema.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if err := CreateSchema(conn); err != nil {
			t.Fatalf("CreateSchema() call %d error = %v", i+1, err)
		}
	}

	tables := []string{"app_user", "refresh_token", "team", "team_member", "project",
		"project_version", "competition", "pk_match", "pk_lock", "vote", "stored_file"}
	for _, table := range tables {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpen_UnsupportedType(t *testing.T) {
	if _, err := Open("mysql", "root@/db"); err == nil {
		t.Error("expected error for unsupported database type")
	}
}
