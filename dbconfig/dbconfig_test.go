// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dbconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rbatllet/blockchain-cli/cerrors"
)

// isolateLayers points the file layer at an empty temp directory and clears
// the DB_* environment for the duration of the test.
func isolateLayers(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	orig := propertiesPath
	propertiesPath = func() string {
		return filepath.Join(dir, "database.properties")
	}
	t.Cleanup(func() { propertiesPath = orig })
	for _, name := range envNames {
		t.Setenv(name, "")
	}
}

// TestResolveDefaults ensures the hard default layer produces the embedded
// database.
func TestResolveDefaults(t *testing.T) {
	isolateLayers(t)

	cfg, _, err := Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Type != EngineSQLite {
		t.Errorf("default engine: got %v, want %v", cfg.Type, EngineSQLite)
	}
	if cfg.Database != DefaultDatabaseFile {
		t.Errorf("default database: got %v, want %v", cfg.Database,
			DefaultDatabaseFile)
	}
	if cfg.Pool != SQLitePoolParams {
		t.Errorf("default pool profile: got %+v, want %+v", cfg.Pool,
			SQLitePoolParams)
	}
}

// TestResolvePrecedence ensures per-field precedence: CLI over env, env
// over defaults, and fall-through for fields a higher layer omits.
func TestResolvePrecedence(t *testing.T) {
	isolateLayers(t)
	t.Setenv("DB_TYPE", "postgresql")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")

	cfg, _, err := Resolve(map[string]string{
		KeyHost: "cli-host",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Type != EnginePostgreSQL {
		t.Errorf("type: got %v, want postgresql", cfg.Type)
	}
	if cfg.Host != "cli-host" {
		t.Errorf("host: got %v, want cli-host (CLI overrides env)", cfg.Host)
	}
	if cfg.Port != 6543 {
		t.Errorf("port: got %v, want 6543 (env falls through)", cfg.Port)
	}
	if cfg.Pool != PostgreSQLPoolParams {
		t.Errorf("pool profile: got %+v, want %+v", cfg.Pool,
			PostgreSQLPoolParams)
	}
}

// TestResolveRejectsBadValues exercises validation failures.
func TestResolveRejectsBadValues(t *testing.T) {
	isolateLayers(t)

	tests := []struct {
		name      string
		overrides map[string]string
	}{{
		name:      "unknown engine",
		overrides: map[string]string{KeyType: "oracle"},
	}, {
		name:      "port too large",
		overrides: map[string]string{KeyPort: "70000"},
	}, {
		name:      "port zero",
		overrides: map[string]string{KeyPort: "0"},
	}, {
		name: "pool max below min",
		overrides: map[string]string{
			KeyPoolMin: "5", KeyPoolMax: "2",
		},
	}}

	for _, test := range tests {
		_, _, err := Resolve(test.overrides)
		if !errors.Is(err, cerrors.ErrConfig) {
			t.Errorf("%s: unexpected error: %v", test.name, err)
		}
	}
}

// TestDSN ensures each engine derives its driver DSN and that an explicit
// URL overrides the derived form.
func TestDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{{
		name: "sqlite file",
		cfg:  Config{Type: EngineSQLite, Database: "./chain.db"},
		want: "./chain.db",
	}, {
		name: "postgresql",
		cfg: Config{
			Type: EnginePostgreSQL, Host: "pg", Port: 5432,
			Database: "ledger", User: "u", Password: "p",
		},
		want: "host=pg port=5432 dbname=ledger sslmode=disable user=u password=p",
	}, {
		name: "h2 over pg wire",
		cfg:  Config{Type: EngineH2, Database: "ledger"},
		want: "host=localhost port=5435 dbname=ledger sslmode=disable",
	}, {
		name: "mysql",
		cfg: Config{
			Type: EngineMySQL, Host: "my", Port: 3306,
			Database: "ledger", User: "u", Password: "p",
		},
		want: "u:p@tcp(my:3306)/ledger",
	}, {
		name: "explicit url wins",
		cfg:  Config{Type: EnginePostgreSQL, URL: "postgres://u@h/db"},
		want: "postgres://u@h/db",
	}}

	for _, test := range tests {
		if got := test.cfg.DSN(); got != test.want {
			t.Errorf("%s: got %q, want %q", test.name, got, test.want)
		}
	}
}

// TestPropertiesLayer ensures the file layer loads and warns about loose
// permissions.
func TestPropertiesLayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.properties")
	content := "# test config\ndb.type=mysql\ndb.password=hunter2-secret\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	values, warnings, err := loadPropertiesLayer(path)
	if err != nil {
		t.Fatalf("loadPropertiesLayer: %v", err)
	}
	if values["db.type"] != "mysql" {
		t.Errorf("db.type: got %q, want mysql", values["db.type"])
	}
	var sawPerms bool
	for _, w := range warnings {
		if w.Code == "config-permissions" {
			sawPerms = true
		}
	}
	if !sawPerms {
		t.Error("expected a config-permissions warning for mode 0644")
	}
}

// TestMaskValue exercises the sensitive-data masker shapes.
func TestMaskValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"db.password", "hunter2", MaskedValue},
		{"api_token", "abc", MaskedValue},
		{"credentialStore", "x", MaskedValue},
		{"db.url", "postgres://alice:hunter2@db/ledger",
			"postgres://alice:" + MaskedValue + "@db/ledger"},
		{"db.url", "host=db password=hunter2 user=alice",
			"host=db password=" + MaskedValue + " user=" + MaskedValue},
		{"db.host", "db.internal", "db.internal"},
		{"db.password", "", ""},
	}

	for i, test := range tests {
		if got := MaskValue(test.key, test.value); got != test.want {
			t.Errorf("#%d (%s): got %q, want %q", i, test.key, got, test.want)
		}
	}
}

// TestMaskedConfig ensures Masked never exposes the password field.
func TestMaskedConfig(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Type:     EnginePostgreSQL,
		Password: "hunter2",
		URL:      "postgres://alice:hunter2@db/ledger",
	}
	masked := cfg.Masked()
	if masked.Password != MaskedValue {
		t.Errorf("password not masked: %q", masked.Password)
	}
	if masked.URL == cfg.URL {
		t.Errorf("url credentials not masked: %q", masked.URL)
	}
}
