// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package record holds the append-only log of everything the engine did.
// Every state change of the engine is caused by exactly one record.
package record

import (
	"time"
)

type ValueType string

const (
	ValueTypeDeployment              ValueType = "DEPLOYMENT"
	ValueTypeProcess                 ValueType = "PROCESS"
	ValueTypeProcessInstance         ValueType = "PROCESS_INSTANCE"
	ValueTypeProcessInstanceCreation ValueType = "PROCESS_INSTANCE_CREATION"
	ValueTypeJob                     ValueType = "JOB"
	ValueTypeTimer                   ValueType = "TIMER"
	ValueTypeVariable                ValueType = "VARIABLE"
	ValueTypeIncident                ValueType = "INCIDENT"
)

type Intent string

const (
	IntentCreated  Intent = "CREATED"
	IntentUpdated  Intent = "UPDATED"
	IntentCanceled Intent = "CANCELED"

	IntentElementActivating Intent = "ELEMENT_ACTIVATING"
	IntentElementActivated  Intent = "ELEMENT_ACTIVATED"
	IntentElementCompleting Intent = "ELEMENT_COMPLETING"
	IntentElementCompleted  Intent = "ELEMENT_COMPLETED"
	IntentElementTerminated Intent = "ELEMENT_TERMINATED"
	IntentSequenceFlowTaken Intent = "SEQUENCE_FLOW_TAKEN"

	IntentActivated      Intent = "ACTIVATED"
	IntentCompleted      Intent = "COMPLETED"
	IntentFailed         Intent = "FAILED"
	IntentRetriesUpdated Intent = "RETRIES_UPDATED"

	IntentTriggered Intent = "TRIGGERED"

	IntentResolved Intent = "RESOLVED"
)

// Record is an immutable entry of the log.
type Record struct {
	// Position is gapless and starts at 1.
	Position  int64     `json:"position"`
	Key       int64     `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	ValueType ValueType `json:"valueType"`
	Intent    Intent    `json:"intent"`
	Value     Value     `json:"value"`
}

// Value is the typed payload of a record.
type Value interface {
	ValueType() ValueType
}

// ProcessInstanceKey returns the process instance a record belongs to or 0 for records without an instance.
func (r Record) ProcessInstanceKey() int64 {
	if v, ok := r.Value.(interface{ GetProcessInstanceKey() int64 }); ok {
		return v.GetProcessInstanceKey()
	}
	return 0
}
