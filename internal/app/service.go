package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hylla/prognos/internal/domain"
)

// LockPolicy selects what the deadline sweep does with records that never reached approval.
type LockPolicy string

// LockPolicy values.
const (
	// LockPolicyApprovedOnly locks approved records and leaves everything else editable.
	LockPolicyApprovedOnly LockPolicy = "approved_only"
	// LockPolicyFreezeAll also freezes draft, submitted, reviewed and rejected records.
	LockPolicyFreezeAll LockPolicy = "freeze_all"
)

// DuplicatePolicy selects how a commit reacts to a previously applied content hash.
type DuplicatePolicy string

// DuplicatePolicy values.
const (
	DuplicatePolicyWarn DuplicatePolicy = "warn"
	DuplicatePolicySkip DuplicatePolicy = "skip"
)

// DefaultMaxHoursPerRow bounds a single monthly forecast value (31 days x 24 hours).
var DefaultMaxHoursPerRow = decimal.NewFromInt(744)

// DefaultMaxImportRows bounds the number of rows accepted by one preview or commit.
const DefaultMaxImportRows = 50000

// Logger is the structured logging surface the service writes operational events to.
type Logger interface {
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

type nopLogger struct{}

func (nopLogger) Info(any, ...any)  {}
func (nopLogger) Warn(any, ...any)  {}
func (nopLogger) Error(any, ...any) {}

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	LockPolicy      LockPolicy
	DuplicatePolicy DuplicatePolicy
	MaxHoursPerRow  decimal.Decimal
	MaxImportRows   int
	Logger          Logger
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service implements scenario versioning, the forecast ledger and import reconciliation.
type Service struct {
	repo            Repository
	directory       AssignmentDirectory
	idGen           IDGenerator
	clock           Clock
	lockPolicy      LockPolicy
	duplicatePolicy DuplicatePolicy
	maxHours        decimal.Decimal
	maxRows         int
	log             Logger
}

// NewService constructs a new value for this package.
func NewService(repo Repository, directory AssignmentDirectory, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.LockPolicy == "" {
		cfg.LockPolicy = LockPolicyFreezeAll
	}
	if cfg.DuplicatePolicy == "" {
		cfg.DuplicatePolicy = DuplicatePolicyWarn
	}
	if !cfg.MaxHoursPerRow.IsPositive() {
		cfg.MaxHoursPerRow = DefaultMaxHoursPerRow
	}
	if cfg.MaxImportRows <= 0 {
		cfg.MaxImportRows = DefaultMaxImportRows
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	return &Service{
		repo:            repo,
		directory:       directory,
		idGen:           idGen,
		clock:           clock,
		lockPolicy:      cfg.LockPolicy,
		duplicatePolicy: cfg.DuplicatePolicy,
		maxHours:        cfg.MaxHoursPerRow,
		maxRows:         cfg.MaxImportRows,
		log:             cfg.Logger,
	}
}

// ParseLockPolicy validates a configured lock policy value.
func ParseLockPolicy(raw string) (LockPolicy, error) {
	switch p := LockPolicy(strings.TrimSpace(strings.ToLower(raw))); p {
	case LockPolicyApprovedOnly, LockPolicyFreezeAll:
		return p, nil
	case "":
		return LockPolicyFreezeAll, nil
	default:
		return "", fmt.Errorf("unknown lock policy %q", raw)
	}
}

// ParseDuplicatePolicy validates a configured duplicate policy value.
func ParseDuplicatePolicy(raw string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.TrimSpace(strings.ToLower(raw))); p {
	case DuplicatePolicyWarn, DuplicatePolicySkip:
		return p, nil
	case "":
		return DuplicatePolicyWarn, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q", raw)
	}
}

// now returns the service clock in UTC.
func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// lookupAssignment resolves one assignment through the directory.
func (s *Service) lookupAssignment(ctx context.Context, assignmentID string) (domain.Assignment, error) {
	if s.directory == nil {
		return domain.Assignment{}, fmt.Errorf("assignment directory is not configured: %w", ErrNotFound)
	}
	return s.directory.GetAssignment(ctx, strings.TrimSpace(assignmentID))
}

// scenarioState names the scenario lifecycle position recorded in history entries.
func scenarioState(s domain.Scenario) string {
	switch {
	case s.IsArchived():
		return "archived"
	case s.IsCurrent:
		return "current"
	default:
		return "candidate"
	}
}
