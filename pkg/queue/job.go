package queue

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// JobVersion is the schema version written by this build.
const JobVersion = 1

var validate = validator.New(validator.WithRequiredStructEnabled())

// Job is the queue message payload: a reference to an execution to run.
type Job struct {
	Version     int    `json:"version"      validate:"required,eq=1"`
	ExecutionID string `json:"execution_id" validate:"required"`
	WorkflowID  string `json:"workflow_id"  validate:"required"`
	// Generation is the execution generation the job was issued for.
	Generation int `json:"generation,omitempty" validate:"gte=0"`
}

// NewJob builds a job for the current schema version.
func NewJob(executionID, workflowID string) Job {
	return Job{
		Version:     JobVersion,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
	}
}

// AtGeneration returns a copy of the job issued for the given execution generation.
func (j Job) AtGeneration(generation int) Job {
	j.Generation = generation

	return j
}

// EncodeJob validates and serializes a job.
func EncodeJob(job Job) ([]byte, error) {
	err := validate.Struct(job)
	if err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	return payload, nil
}

// DecodeJob parses and validates a payload. Every failure is an ErrPoison error.
func DecodeJob(payload []byte) (Job, error) {
	var job Job

	err := json.Unmarshal(payload, &job)
	if err != nil {
		return Job{}, Poison(fmt.Errorf("decode job: %w", err))
	}

	err = validate.Struct(job)
	if err != nil {
		return Job{}, Poison(fmt.Errorf("invalid job: %w", err))
	}

	return job, nil
}
