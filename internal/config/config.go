package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"

	"github.com/hylla/prognos/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PROGNOS_"

type LockPolicy string

const (
	LockPolicyApprovedOnly LockPolicy = "approved_only"
	LockPolicyFreezeAll    LockPolicy = "freeze_all"
)

type DuplicatePolicy string

const (
	DuplicatePolicyWarn DuplicatePolicy = "warn"
	DuplicatePolicySkip DuplicatePolicy = "skip"
)

type Config struct {
	Database  DatabaseConfig   `toml:"database"`
	Logging   LoggingConfig    `toml:"logging"`
	Server    ServerConfig     `toml:"server"`
	Imports   ImportsConfig    `toml:"imports"`
	Ledger    LedgerConfig     `toml:"ledger"`
	Schedules []ScheduleConfig `toml:"schedules"`
}

type DatabaseConfig struct {
	Path string `toml:"path" env:"DB_PATH"`
}

type LoggingConfig struct {
	Level   string        `toml:"level" env:"LOG_LEVEL"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled" env:"LOG_DEV_FILE"`
	Dir     string `toml:"dir" env:"LOG_DEV_DIR"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind" env:"HTTP_BIND"`
	APIEndpoint string `toml:"api_endpoint" env:"API_ENDPOINT"`
	MCPEndpoint string `toml:"mcp_endpoint" env:"MCP_ENDPOINT"`
}

type ImportsConfig struct {
	// MaxHoursPerRow is a decimal string so fractional limits survive TOML and env round trips.
	MaxHoursPerRow  string          `toml:"max_hours_per_row" env:"MAX_HOURS_PER_ROW"`
	DuplicatePolicy DuplicatePolicy `toml:"duplicate_policy" env:"DUPLICATE_POLICY"`
	MaxRows         int             `toml:"max_rows" env:"IMPORT_MAX_ROWS"`
}

type LedgerConfig struct {
	LockPolicy LockPolicy `toml:"lock_policy" env:"LOCK_POLICY"`
}

type ScheduleConfig struct {
	TenantID      string `toml:"tenant_id"`
	Name          string `toml:"name"`
	SubmissionDay int    `toml:"submission_day"`
	ApprovalDay   int    `toml:"approval_day"`
	LockDay       int    `toml:"lock_day"`
	MonthsAhead   int    `toml:"months_ahead"`
	Timezone      string `toml:"timezone"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
			},
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Imports: ImportsConfig{
			MaxHoursPerRow:  "744",
			DuplicatePolicy: DuplicatePolicyWarn,
			MaxRows:         50000,
		},
		Ledger: LedgerConfig{
			LockPolicy: LockPolicyFreezeAll,
		},
		Schedules: []ScheduleConfig{
			{Name: domain.DefaultScheduleName, SubmissionDay: 25, ApprovalDay: 0, LockDay: 5, MonthsAhead: 12},
		},
	}
}

// Load reads the TOML file over defaults, then applies PROGNOS_* environment overrides.
// A missing or empty file keeps the defaults.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		case len(content) > 0:
			// [[schedules]] in the file replaces the default list instead of merging into it.
			cfg.Schedules = nil
			if err := toml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode toml: %w", err)
			}
			if cfg.Schedules == nil {
				cfg.Schedules = defaults.Schedules
			}
		}
	}

	if err := ApplyEnv(&cfg, nil); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment overrides onto cfg. A nil environment reads the process env.
func ApplyEnv(cfg *Config, environment map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	c.Database.Path = strings.TrimSpace(c.Database.Path)
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}

	if _, err := c.MaxHoursPerRow(); err != nil {
		return err
	}
	switch c.Imports.DuplicatePolicy {
	case DuplicatePolicyWarn, DuplicatePolicySkip:
	default:
		return fmt.Errorf("invalid imports.duplicate_policy: %q", c.Imports.DuplicatePolicy)
	}
	if c.Imports.MaxRows <= 0 {
		return fmt.Errorf("imports.max_rows must be > 0")
	}

	switch c.Ledger.LockPolicy {
	case LockPolicyApprovedOnly, LockPolicyFreezeAll:
	default:
		return fmt.Errorf("invalid ledger.lock_policy: %q", c.Ledger.LockPolicy)
	}

	_, err := c.ApprovalSchedules()
	return err
}

// MaxHoursPerRow parses the per-row hours ceiling.
func (c Config) MaxHoursPerRow() (decimal.Decimal, error) {
	hours, err := decimal.NewFromString(strings.TrimSpace(c.Imports.MaxHoursPerRow))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid imports.max_hours_per_row %q: %w", c.Imports.MaxHoursPerRow, err)
	}
	if !hours.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("imports.max_hours_per_row must be > 0")
	}
	return hours, nil
}

// ApprovalSchedules converts the [[schedules]] tables into domain schedules.
// An empty tenant_id marks a schedule shared by every tenant.
func (c Config) ApprovalSchedules() ([]domain.ApprovalSchedule, error) {
	out := make([]domain.ApprovalSchedule, 0, len(c.Schedules))
	seen := map[string]struct{}{}
	for idx, raw := range c.Schedules {
		schedule := domain.ApprovalSchedule{
			TenantID:      strings.TrimSpace(raw.TenantID),
			Name:          strings.TrimSpace(raw.Name),
			SubmissionDay: raw.SubmissionDay,
			ApprovalDay:   raw.ApprovalDay,
			LockDay:       raw.LockDay,
			MonthsAhead:   raw.MonthsAhead,
		}
		if tz := strings.TrimSpace(raw.Timezone); tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("schedules[%d].timezone %q: %w", idx, tz, err)
			}
			schedule.Location = loc
		}
		if err := schedule.Validate(); err != nil {
			return nil, fmt.Errorf("schedules[%d]: %w", idx, err)
		}
		key := schedule.TenantID + "\x00" + strings.ToLower(schedule.DisplayName())
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("schedules[%d] duplicates name %q for tenant %q", idx, schedule.DisplayName(), schedule.TenantID)
		}
		seen[key] = struct{}{}
		out = append(out, schedule)
	}
	return out, nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
