package relwatch

import (
	"encoding/json"
	"time"
)

// Outcome is the terminal result of one run.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Stage is a pipeline state. A run moves forward through
// Idle → Resolving → Detecting → Fetching → Extracting → Validating →
// Committing → Done. A failed run stops at the stage that failed; its
// Outcome, not its Stage, records the failure.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageResolving  Stage = "resolving"
	StageDetecting  Stage = "detecting"
	StageFetching   Stage = "fetching"
	StageExtracting Stage = "extracting"
	StageValidating Stage = "validating"
	StageCommitting Stage = "committing"
	StageDone       Stage = "done"
)

// Result is the single record every run produces.
type Result struct {
	RunID   string  `json:"run_id"`
	Outcome Outcome `json:"outcome"`
	// Stage is StageDone for committed, skipped and rejected runs. For a
	// failed run it is the stage that failed.
	Stage   Stage    `json:"stage"`
	Reason  string   `json:"reason,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
	// Err is the typed failure (nil unless Failed or Rejected).
	Err error `json:"-"`

	Version       *Version      `json:"version,omitempty"`
	RawPath       string        `json:"raw_path,omitempty"`
	ArtifactPath  string        `json:"artifact_path,omitempty"`
	FetchAttempts int           `json:"fetch_attempts,omitempty"`
	RowCount      int           `json:"row_count,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"-"`
}

// MarshalJSON adds the error kind and message and a readable duration.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	out := struct {
		plain
		ErrorKind  string  `json:"error_kind,omitempty"`
		Error      string  `json:"error,omitempty"`
		DurationMs float64 `json:"duration_ms"`
	}{plain: plain(r), DurationMs: float64(r.Duration.Microseconds()) / 1000}
	if r.Err != nil {
		out.ErrorKind = ErrorKind(r.Err)
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// OK reports whether the run ended without failure. Rejected counts as OK:
// it is an expected outcome that leaves state untouched.
func (r Result) OK() bool { return r.Outcome != OutcomeFailed }
