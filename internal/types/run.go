package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Period is the timeframe a digest covers
type Period string

const (
	PeriodDaily  Period = "daily"
	PeriodWeekly Period = "weekly"
)

// IsValid checks if the period value is valid
func (p Period) IsValid() bool {
	return p == PeriodDaily || p == PeriodWeekly
}

// Lookback returns how far back a run for this period fetches content
func (p Period) Lookback() time.Duration {
	if p == PeriodWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// DateLayout is the layout of NaturalKey.Date
const DateLayout = "2006-01-02"

// NaturalKey uniquely identifies one persisted digest
type NaturalKey struct {
	Date       string     `json:"date"`
	Period     Period     `json:"period"`
	SourceType SourceType `json:"source_type"`
}

// Validate checks if the key has valid field values
func (k NaturalKey) Validate() error {
	if _, err := time.Parse(DateLayout, k.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", k.Date, err)
	}
	if !k.Period.IsValid() {
		return fmt.Errorf("invalid period: %s", k.Period)
	}
	if !k.SourceType.IsValid() {
		return fmt.Errorf("invalid source type: %s", k.SourceType)
	}
	return nil
}

func (k NaturalKey) String() string {
	return strings.Join([]string{k.Date, string(k.Period), string(k.SourceType)}, "/")
}

// PersistedDigest is one stored row; at most one exists per natural key
type PersistedDigest struct {
	ID        string          `json:"id"`
	Key       NaturalKey      `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RunKind distinguishes digest runs from discovery runs
type RunKind string

const (
	RunKindDigest    RunKind = "digest"
	RunKindDiscovery RunKind = "discovery"
)

// RunStatus is the outcome surfaced to callers
type RunStatus string

const (
	RunSucceeded         RunStatus = "succeeded"
	RunSucceededDegraded RunStatus = "succeeded_degraded"
	RunFailed            RunStatus = "failed"
	RunSkipped           RunStatus = "skipped"
)

// RunRecord is written once per invocation by its single owner, the runner
type RunRecord struct {
	ID         string     `json:"id"`
	Kind       RunKind    `json:"kind"`
	Date       string     `json:"date"`
	Period     Period     `json:"period"`
	SourceType SourceType `json:"source_type"`
	Status     RunStatus  `json:"status"`
	DryRun     bool       `json:"dry_run,omitempty"`

	CallCounts   map[string]int64 `json:"call_counts"`
	DeniedCounts map[string]int64 `json:"denied_counts,omitempty"`
	CostEstimate float64          `json:"cost_estimate"`

	ItemsFetched   int  `json:"items_fetched"`
	ItemsFailed    int  `json:"items_failed"`
	RevisionCount  int  `json:"revision_count"`
	ForcedApproval bool `json:"forced_approval,omitempty"`
	Opportunities  int  `json:"opportunities,omitempty"`

	Errors       []string `json:"errors,omitempty"`
	Persisted    bool     `json:"persisted"`
	PersistError string   `json:"persist_error,omitempty"`

	// Payload is the computed output kept on the record so persistence can be
	// retried without recomputation.
	Payload json.RawMessage `json:"-"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Key returns the natural key the run persists under
func (r *RunRecord) Key() NaturalKey {
	return NaturalKey{Date: r.Date, Period: r.Period, SourceType: r.SourceType}
}

// AddError records a non-fatal error message on the run
func (r *RunRecord) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Degraded reports whether the run produced output despite partial failures
func (r *RunRecord) Degraded() bool {
	return r.Status == RunSucceededDegraded
}

// ErrStageFailed marks a fan-in stage that produced zero viable outputs
var ErrStageFailed = errors.New("stage failed")

// StageError is a stage-level failure that fails the whole run
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s stage failed", e.Stage)
	}
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is matches ErrStageFailed
func (e *StageError) Is(target error) bool { return target == ErrStageFailed }

// ErrNotFound is returned by storage lookups that match nothing
var ErrNotFound = errors.New("not found")

// RunFilter selects run records; zero values match everything
type RunFilter struct {
	Kind       RunKind
	SourceType SourceType
	Status     RunStatus
	Limit      int
	Offset     int
}
