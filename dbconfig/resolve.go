// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dbconfig

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rbatllet/blockchain-cli/cerrors"
)

// Canonical field keys shared by every configuration source.
const (
	KeyType     = "type"
	KeyURL      = "url"
	KeyHost     = "host"
	KeyPort     = "port"
	KeyName     = "name"
	KeyUser     = "user"
	KeyPassword = "password"
	KeyPoolMin  = "pool.min"
	KeyPoolMax  = "pool.max"
	KeyShowSQL  = "show.sql"
	KeyHbm2ddl  = "hbm2ddl.auto"
)

// envNames maps canonical field keys to process environment variables.
var envNames = map[string]string{
	KeyType:     "DB_TYPE",
	KeyURL:      "DB_URL",
	KeyHost:     "DB_HOST",
	KeyPort:     "DB_PORT",
	KeyName:     "DB_NAME",
	KeyUser:     "DB_USER",
	KeyPassword: "DB_PASSWORD",
	KeyPoolMin:  "DB_POOL_MIN",
	KeyPoolMax:  "DB_POOL_MAX",
	KeyShowSQL:  "DB_SHOW_SQL",
	KeyHbm2ddl:  "DB_HBM2DDL_AUTO",
}

// fileKeys maps canonical field keys to database.properties keys.
var fileKeys = map[string]string{
	KeyType:     "db.type",
	KeyURL:      "db.url",
	KeyHost:     "db.host",
	KeyPort:     "db.port",
	KeyName:     "db.name",
	KeyUser:     "db.user",
	KeyPassword: "db.password",
	KeyPoolMin:  "db.pool.min",
	KeyPoolMax:  "db.pool.max",
	KeyShowSQL:  "db.show.sql",
	KeyHbm2ddl:  "db.hbm2ddl.auto",
}

// Warning is a non-fatal finding produced while resolving configuration.
type Warning struct {
	Code    string
	Message string
}

// source is the capability every configuration layer exposes: a keyed
// lookup that may decline.  Precedence is per-field, so a missing field at
// a higher-precedence source falls through to the next.
type source interface {
	tag() string
	lookup(key string) (string, bool)
}

type mapSource struct {
	label  string
	keymap map[string]string // nil means canonical keys
	values map[string]string
}

func (s *mapSource) tag() string { return s.label }

func (s *mapSource) lookup(key string) (string, bool) {
	if s.keymap != nil {
		mapped, ok := s.keymap[key]
		if !ok {
			return "", false
		}
		key = mapped
	}
	v, ok := s.values[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

type envSource struct{}

func (envSource) tag() string { return "ENV" }

func (envSource) lookup(key string) (string, bool) {
	name, ok := envNames[key]
	if !ok {
		return "", false
	}
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// resolver composes sources in priority order.
type resolver struct {
	sources []source
}

func (r *resolver) get(key string) (string, string, bool) {
	for _, s := range r.sources {
		if v, ok := s.lookup(key); ok {
			return v, s.tag(), true
		}
	}
	return "", "", false
}

// AppDir returns the per-user application directory
// (<home>/.blockchain-cli).
func AppDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".blockchain-cli"
	}
	return filepath.Join(home, ".blockchain-cli")
}

// PropertiesPath returns the path of the properties-file configuration
// layer.
func PropertiesPath() string {
	return filepath.Join(AppDir(), "database.properties")
}

// propertiesPath indirection allows tests to point the file layer at an
// isolated location.
var propertiesPath = PropertiesPath

// Resolve produces the database configuration from the four ranked
// sources: CLI overrides, process environment, the properties file, and
// the hard default.  overrides is keyed by the canonical Key* constants.
func Resolve(overrides map[string]string) (*Config, []Warning, error) {
	var warnings []Warning

	fileValues, fileWarnings, err := loadPropertiesLayer(propertiesPath())
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, fileWarnings...)

	// The hard default maps the embedded ./blockchain database to the
	// sqlite engine, the only embedded engine available here.
	defaults := map[string]string{
		KeyType:    string(EngineSQLite),
		KeyName:    DefaultDatabaseFile,
		KeyHbm2ddl: "update",
	}

	r := &resolver{sources: []source{
		&mapSource{label: "CLI", values: overrides},
		envSource{},
		&mapSource{label: "FILE", keymap: fileKeys, values: fileValues},
		&mapSource{label: "DEFAULT", values: defaults},
	}}

	cfg := &Config{}

	typeValue, _, _ := r.get(KeyType)
	cfg.Type = Engine(strings.ToLower(typeValue))
	cfg.URL, _, _ = r.get(KeyURL)
	cfg.Host, _, _ = r.get(KeyHost)
	cfg.Database, _, _ = r.get(KeyName)
	cfg.User, _, _ = r.get(KeyUser)

	var passwordTag string
	cfg.Password, passwordTag, _ = r.get(KeyPassword)
	if passwordTag == "FILE" {
		warnings = append(warnings, Warning{
			Code: "password-in-file",
			Message: "database password is stored in " + propertiesPath() +
				"; prefer the DB_PASSWORD environment variable",
		})
	}

	if v, _, ok := r.get(KeyPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, nil, cerrors.Ef(cerrors.ErrConfig, "db-port",
				"invalid port %q", v)
		}
		if port < 1 || port > 65535 {
			return nil, nil, cerrors.Ef(cerrors.ErrConfig, "db-port",
				"port %d out of range 1..65535", port)
		}
		cfg.Port = port
	}

	cfg.Pool = defaultPoolParams(cfg.Type)
	if v, _, ok := r.get(KeyPoolMin); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, nil, cerrors.Ef(cerrors.ErrConfig, "db-pool",
				"invalid pool minimum %q", v)
		}
		cfg.Pool.MinSize = n
	}
	if v, _, ok := r.get(KeyPoolMax); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, nil, cerrors.Ef(cerrors.ErrConfig, "db-pool",
				"invalid pool maximum %q", v)
		}
		cfg.Pool.MaxSize = n
	}

	if v, _, ok := r.get(KeyShowSQL); ok {
		cfg.ShowSQL = v == "true" || v == "1" || v == "yes"
	}
	cfg.Hbm2ddl, _, _ = r.get(KeyHbm2ddl)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	for _, w := range warnings {
		log.Warnf("%s: %s", w.Code, w.Message)
	}
	return cfg, warnings, nil
}

// loadPropertiesLayer loads the properties file when present, checking its
// POSIX permissions.  A missing file is not an error.
func loadPropertiesLayer(path string) (map[string]string, []Warning, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, cerrors.Wrap(cerrors.ErrConfig, "config-file", err,
			"unable to stat "+path+": "+err.Error())
	}

	var warnings []Warning
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		warnings = append(warnings, Warning{
			Code: "config-permissions",
			Message: path + " has mode " + mode.String() +
				"; tighten to 0600",
		})
	}

	values, err := LoadProperties(path)
	if err != nil {
		return nil, nil, err
	}
	return values, warnings, nil
}
