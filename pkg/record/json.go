package record

import (
	"encoding/json"
	"fmt"
)

type jsonRecord struct {
	Position  int64           `json:"position"`
	Key       int64           `json:"key"`
	Timestamp json.RawMessage `json:"timestamp"`
	ValueType ValueType       `json:"valueType"`
	Intent    Intent          `json:"intent"`
	Value     json.RawMessage `json:"value"`
}

// UnmarshalJSON decodes the value into the concrete type matching ValueType.
// Numbers inside variable payloads decode as float64.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw jsonRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Position = raw.Position
	r.Key = raw.Key
	r.ValueType = raw.ValueType
	r.Intent = raw.Intent
	if len(raw.Timestamp) > 0 {
		if err := json.Unmarshal(raw.Timestamp, &r.Timestamp); err != nil {
			return fmt.Errorf("failed to decode timestamp of record %d: %w", raw.Position, err)
		}
	}
	value, err := DecodeValue(raw.ValueType, raw.Value)
	if err != nil {
		return fmt.Errorf("failed to decode value of record %d: %w", raw.Position, err)
	}
	r.Value = value
	return nil
}

// DecodeValue decodes a JSON payload into the value type registered for valueType.
func DecodeValue(valueType ValueType, data []byte) (Value, error) {
	switch valueType {
	case ValueTypeDeployment:
		return decode[DeploymentValue](data)
	case ValueTypeProcess:
		return decode[ProcessValue](data)
	case ValueTypeProcessInstance:
		return decode[ProcessInstanceValue](data)
	case ValueTypeProcessInstanceCreation:
		return decode[ProcessInstanceCreationValue](data)
	case ValueTypeJob:
		return decode[JobValue](data)
	case ValueTypeTimer:
		return decode[TimerValue](data)
	case ValueTypeVariable:
		return decode[VariableValue](data)
	case ValueTypeIncident:
		return decode[IncidentValue](data)
	default:
		return nil, fmt.Errorf("unknown value type %q", valueType)
	}
}

func decode[T Value](data []byte) (Value, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
