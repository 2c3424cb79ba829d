// Package queue carries turbulence runs from the API and CLI to workers.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/solarprep/internal/domain"
)

const TypeRunTurbulence = "run:turbulence"

type RunPayload struct {
	RunID       string            `json:"run_id"`
	Request     domain.RunRequest `json:"request"`
	RequestedAt time.Time         `json:"requested_at"`
}

func NewRunTask(payload RunPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal run payload: %w", err)
	}
	return asynq.NewTask(TypeRunTurbulence, body), nil
}

func ParseRunPayload(task *asynq.Task) (RunPayload, error) {
	var payload RunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RunPayload{}, fmt.Errorf("unmarshal run payload: %w", err)
	}
	if payload.RunID == "" {
		return RunPayload{}, fmt.Errorf("run payload has no run_id")
	}
	return payload, nil
}
