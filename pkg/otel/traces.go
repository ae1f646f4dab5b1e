package otel

const (
	Prefix                        = "bpmn-"
	AttributeProcessInstanceKey   = Prefix + "instance-key"
	AttributeProcessId            = Prefix + "process-id"
	AttributeProcessDefinitionKey = Prefix + "definition-key"
	AttributeElementId            = Prefix + "element-id"
	AttributeElementKey           = Prefix + "element-key"
	AttributeElementType          = Prefix + "element-type"
	AttributeJobKey               = Prefix + "job-key"
	AttributeJobType              = Prefix + "job-type"
	AttributeTimerKey             = Prefix + "timer-key"
	AttributeIncidentKey          = Prefix + "incident-key"

	SpanStatusToken = Prefix + "token-status"
)
