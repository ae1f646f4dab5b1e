// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
)

var ErrNotFound = errors.New("not found")

type Storage interface {
	StorageReader
	EventApplier
}

type StorageReader interface {
	ProcessDefinitionStorageReader
	ProcessInstanceStorageReader
	TokenStorageReader
	JobStorageReader
	TimerStorageReader
	IncidentStorageReader
}

// EventApplier changes the state according to one record.
// Records must be applied in log order.
type EventApplier interface {
	Apply(ctx context.Context, rec record.Record) error
}

type ProcessDefinitionStorageReader interface {
	FindLatestProcessDefinitionById(ctx context.Context, processDefinitionId string) (runtime.ProcessDefinition, error)
	FindProcessDefinitionByKey(ctx context.Context, processDefinitionKey int64) (runtime.ProcessDefinition, error)
	FindProcessDefinitionByIdAndVersion(ctx context.Context, processDefinitionId string, version int32) (runtime.ProcessDefinition, error)
	// FindProcessDefinitionsById return zero or many registered processes with given ID
	// result array is ordered by version number, from 1 (first) and largest version (last)
	FindProcessDefinitionsById(ctx context.Context, processDefinitionId string) ([]runtime.ProcessDefinition, error)
}

type ProcessInstanceStorageReader interface {
	FindProcessInstanceByKey(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error)
}

type TokenStorageReader interface {
	GetTokenByKey(ctx context.Context, tokenKey int64) (runtime.ExecutionToken, error)
	// GetActiveTokensForProcessInstance returns the tokens in creation order
	GetActiveTokensForProcessInstance(ctx context.Context, processInstanceKey int64) ([]runtime.ExecutionToken, error)
	// GetTakenSequenceFlows returns how many times each sequence flow was taken towards a join that did not fire yet
	GetTakenSequenceFlows(ctx context.Context, processInstanceKey int64) (map[string]int, error)
}

type JobStorageReader interface {
	FindJobByKey(ctx context.Context, jobKey int64) (runtime.Job, error)
	// FindActivatableJobs returns at most limit jobs of jobType in creation order
	FindActivatableJobs(ctx context.Context, jobType string, limit int) ([]runtime.Job, error)
	FindProcessInstanceJobs(ctx context.Context, processInstanceKey int64) ([]runtime.Job, error)
}

type TimerStorageReader interface {
	FindTimerByKey(ctx context.Context, timerKey int64) (runtime.Timer, error)
	// FindDueTimers returns timers due at or before until ordered by due date and creation
	FindDueTimers(ctx context.Context, until time.Time) ([]runtime.Timer, error)
	FindProcessInstanceTimers(ctx context.Context, processInstanceKey int64) ([]runtime.Timer, error)
}

type IncidentStorageReader interface {
	FindIncidentByKey(ctx context.Context, incidentKey int64) (runtime.Incident, error)
	FindProcessInstanceIncidents(ctx context.Context, processInstanceKey int64) ([]runtime.Incident, error)
}
