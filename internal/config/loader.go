package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/schema-migrator/internal/logging"
)

// EnvPrefix prefixes every environment variable, e.g. SCHEMA_MIGRATE_DB.
const EnvPrefix = "SCHEMA_MIGRATE"

// Config captures the settings shared by every schemamigrate command.
type Config struct {
	DatabasePath  string
	MigrationsDir string
	Track         string
	LedgerTable   string
	BackupDir     string
	BackupKeep    int
	NoBackup      bool
	LockFile      string
	NoLock        bool
	LogLevel      string
	LogFormat     string
	BusyTimeout   time.Duration
}

// Flag names. Environment variables use the upper-cased name with dashes
// replaced by underscores.
const (
	FlagConfig        = "config"
	FlagDatabase      = "db"
	FlagMigrationsDir = "migrations-dir"
	FlagTrack         = "track"
	FlagLedgerTable   = "ledger-table"
	FlagBackupDir     = "backup-dir"
	FlagBackupKeep    = "backup-keep"
	FlagNoBackup      = "no-backup"
	FlagLockFile      = "lock-file"
	FlagNoLock        = "no-lock"
	FlagLogLevel      = "log-level"
	FlagLogFormat     = "log-format"
	FlagBusyTimeout   = "busy-timeout"
)

// RegisterFlags declares the configuration flags with their defaults.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(FlagConfig, "", "path to a YAML config file")
	flags.String(FlagDatabase, "app.db", "path to the SQLite database file")
	flags.String(FlagMigrationsDir, "", "directory of {version}_{slug}.sql files to load in addition to the compiled track")
	flags.String(FlagTrack, "documents", "compiled migration track to use, empty for SQL files only")
	flags.String(FlagLedgerTable, "schema_migrations", "table recording applied versions")
	flags.String(FlagBackupDir, "", "directory for pre-migration snapshots (default: next to the database)")
	flags.Int(FlagBackupKeep, 5, "number of snapshots to keep, 0 keeps all")
	flags.Bool(FlagNoBackup, false, "skip the pre-migration snapshot")
	flags.String(FlagLockFile, "", "advisory lock file (default: <db>.migrate.lock)")
	flags.Bool(FlagNoLock, false, "run without the advisory lock file")
	flags.String(FlagLogLevel, "info", "log level: debug, info, warn, error")
	flags.String(FlagLogFormat, logging.FormatAuto, "log format: "+strings.Join(logging.Formats, ", "))
	flags.Duration(FlagBusyTimeout, 5*time.Second, "how long SQLite waits on a locked database")
}

// NewViper returns a viper instance bound to flags and the environment.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	return v, nil
}

// Load resolves the configuration from flags, environment variables and the
// optional config file, in that order of precedence.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString(FlagConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg := Config{
		DatabasePath:  strings.TrimSpace(v.GetString(FlagDatabase)),
		MigrationsDir: strings.TrimSpace(v.GetString(FlagMigrationsDir)),
		Track:         strings.TrimSpace(v.GetString(FlagTrack)),
		LedgerTable:   strings.TrimSpace(v.GetString(FlagLedgerTable)),
		BackupDir:     strings.TrimSpace(v.GetString(FlagBackupDir)),
		BackupKeep:    v.GetInt(FlagBackupKeep),
		NoBackup:      v.GetBool(FlagNoBackup),
		LockFile:      strings.TrimSpace(v.GetString(FlagLockFile)),
		NoLock:        v.GetBool(FlagNoLock),
		LogLevel:      strings.ToLower(strings.TrimSpace(v.GetString(FlagLogLevel))),
		LogFormat:     strings.ToLower(strings.TrimSpace(v.GetString(FlagLogFormat))),
		BusyTimeout:   v.GetDuration(FlagBusyTimeout),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or invalid setting at once.
func (c Config) Validate() error {
	var missing, invalid []string

	if c.DatabasePath == "" {
		missing = append(missing, FlagDatabase)
	}
	if c.Track == "" && c.MigrationsDir == "" {
		missing = append(missing, FlagTrack+" or "+FlagMigrationsDir)
	}
	if c.BackupKeep < 0 {
		invalid = append(invalid, FlagBackupKeep)
	}
	if c.BusyTimeout < 0 {
		invalid = append(invalid, FlagBusyTimeout)
	}
	if !lo.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		invalid = append(invalid, FlagLogLevel)
	}
	if !lo.Contains(logging.Formats, c.LogFormat) {
		invalid = append(invalid, FlagLogFormat)
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("required settings are missing: %s", strings.Join(missing, ", ")))
	}
	if len(invalid) > 0 {
		errs = append(errs, fmt.Errorf("settings have invalid values: %s", strings.Join(invalid, ", ")))
	}
	return errors.Join(errs...)
}

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	return logging.Config{Format: c.LogFormat, Level: c.LogLevel}
}
