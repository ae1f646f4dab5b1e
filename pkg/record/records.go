package record

import (
	"slices"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
)

// Records is a snapshot of the log with query helpers.
type Records []Record

func (r Records) Filter(keep func(Record) bool) Records {
	out := Records{}
	for _, rec := range r {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (r Records) OfValueType(valueTypes ...ValueType) Records {
	return r.Filter(func(rec Record) bool {
		return slices.Contains(valueTypes, rec.ValueType)
	})
}

func (r Records) WithIntent(intents ...Intent) Records {
	return r.Filter(func(rec Record) bool {
		return slices.Contains(intents, rec.Intent)
	})
}

func (r Records) WithKey(key int64) Records {
	return r.Filter(func(rec Record) bool {
		return rec.Key == key
	})
}

func (r Records) WithProcessInstanceKey(key int64) Records {
	return r.Filter(func(rec Record) bool {
		return rec.ProcessInstanceKey() == key
	})
}

// WithElementId keeps process instance records of the element and timer and job records created for it.
func (r Records) WithElementId(elementId string) Records {
	return r.Filter(func(rec Record) bool {
		switch v := rec.Value.(type) {
		case ProcessInstanceValue:
			return v.ElementId == elementId
		case JobValue:
			return v.ElementId == elementId
		case TimerValue:
			return v.TargetElementId == elementId
		case IncidentValue:
			return v.ElementId == elementId
		}
		return false
	})
}

func (r Records) WithElementType(elementType bpmn20.ElementType) Records {
	return r.Filter(func(rec Record) bool {
		v, ok := rec.Value.(ProcessInstanceValue)
		return ok && v.BpmnElementType == elementType
	})
}

func (r Records) DeploymentRecords() Records      { return r.OfValueType(ValueTypeDeployment) }
func (r Records) ProcessRecords() Records         { return r.OfValueType(ValueTypeProcess) }
func (r Records) ProcessInstanceRecords() Records { return r.OfValueType(ValueTypeProcessInstance) }
func (r Records) JobRecords() Records             { return r.OfValueType(ValueTypeJob) }
func (r Records) TimerRecords() Records           { return r.OfValueType(ValueTypeTimer) }
func (r Records) VariableRecords() Records        { return r.OfValueType(ValueTypeVariable) }
func (r Records) IncidentRecords() Records        { return r.OfValueType(ValueTypeIncident) }

func (r Records) First() (Record, bool) {
	if len(r) == 0 {
		return Record{}, false
	}
	return r[0], true
}

func (r Records) Last() (Record, bool) {
	if len(r) == 0 {
		return Record{}, false
	}
	return r[len(r)-1], true
}

func (r Records) Intents() []Intent {
	out := make([]Intent, 0, len(r))
	for _, rec := range r {
		out = append(out, rec.Intent)
	}
	return out
}

func (r Records) Keys() []int64 {
	out := make([]int64, 0, len(r))
	for _, rec := range r {
		out = append(out, rec.Key)
	}
	return out
}
