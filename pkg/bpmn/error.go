// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"errors"
	"fmt"

	"github.com/pbinitiative/zenbpm-embedded/pkg/storage"
)

var (
	// ErrInstanceTerminated is returned to awaiters of a canceled process instance
	ErrInstanceTerminated = errors.New("process instance was terminated")
	// ErrEngineStopped is returned for commands sent after Stop
	ErrEngineStopped = errors.New("engine is stopped")
)

type BpmnEngineError struct {
	Msg string
}

func (e *BpmnEngineError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...interface{}) error {
	return &BpmnEngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}

// ValidationError is returned for malformed commands and process definitions.
// Nothing is written to the record log when it is returned.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationErrorf(format string, a ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, a...)}
}

// NotFoundError is returned when a command references an unknown entity.
type NotFoundError struct {
	Entity string
	Id     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Id)
}

func (e *NotFoundError) Unwrap() error {
	return storage.ErrNotFound
}

// notFound translates storage.ErrNotFound into a NotFoundError and wraps everything else
func notFound(err error, entity string, id any) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &NotFoundError{Entity: entity, Id: fmt.Sprint(id)}
	}
	return fmt.Errorf("failed to load %s %v: %w", entity, id, err)
}

type ExpressionEvaluationError struct {
	Msg string
	Err error
}

func (e *ExpressionEvaluationError) Error() string {
	if e.Err != nil {
		return e.Msg + "\nerror: " + e.Err.Error()
	}
	return e.Msg
}

func (e *ExpressionEvaluationError) Unwrap() error {
	return e.Err
}

// ExecutionError describes an incident raised while a token was executed.
type ExecutionError struct {
	IncidentKey        int64
	ProcessInstanceKey int64
	ElementId          string
	Msg                string
	Err                error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of element %s in process instance %d failed: %s", e.ElementId, e.ProcessInstanceKey, e.Msg)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError describes the incident raised when a job failed without retries left.
type RetryExhaustedError struct {
	IncidentKey        int64
	ProcessInstanceKey int64
	JobKey             int64
	Msg                string
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("job %d of process instance %d has no retries left: %s", e.JobKey, e.ProcessInstanceKey, e.Msg)
}
