package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RunStatusCreated    = "created"
	RunStatusQueued     = "queued"
	RunStatusProcessing = "processing"
	RunStatusSucceeded  = "succeeded"
	RunStatusFailed     = "failed"
)

// ObjectPrefix marks a source or destination that lives in the object store
// rather than on the local filesystem.
const ObjectPrefix = "s3://"

// RunRequest is one turbulence run over a folder of frames.
type RunRequest struct {
	Source      string        `json:"source"`
	Destination string        `json:"destination"`
	Effects     EffectConfig  `json:"effects"`
	Output      OutputOptions `json:"output"`
	Workers     int           `json:"workers,omitempty"`
	WebhookURL  string        `json:"webhook_url,omitempty"`
	// BudgetKey shares the output cap with every other run using the same
	// key. Empty keeps the budget local to the run.
	BudgetKey string `json:"budget_key,omitempty"`
}

type Run struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Request   RunRequest `json:"request"`
	Summary   *Summary   `json:"summary,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (r RunRequest) Validate() error {
	if strings.TrimSpace(r.Source) == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(r.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidConfig)
	}
	if r.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, r.Workers)
	}
	return errors.Join(r.Effects.Validate(), r.Output.Validate())
}

// IsObjectLocation reports whether loc addresses the object store.
func IsObjectLocation(loc string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(loc)), ObjectPrefix)
}

// ObjectKeyPrefix strips the object-store scheme from loc.
func ObjectKeyPrefix(loc string) string {
	loc = strings.TrimSpace(loc)
	return strings.Trim(loc[len(ObjectPrefix):], "/")
}
