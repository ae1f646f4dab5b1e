package bpmn20

const (
	ElementTypeParallelGateway  ElementType = "PARALLEL_GATEWAY"
	ElementTypeExclusiveGateway ElementType = "EXCLUSIVE_GATEWAY"
)

type GatewayElement interface {
	FlowNode
	IsParallel() bool
	IsExclusive() bool
}

type TParallelGateway struct {
	TFlowNode
}

func (parallelGateway TParallelGateway) GetType() ElementType { return ElementTypeParallelGateway }
func (parallelGateway TParallelGateway) IsParallel() bool     { return true }
func (parallelGateway TParallelGateway) IsExclusive() bool    { return false }

type TExclusiveGateway struct {
	TFlowNode
	DefaultFlowId string `xml:"default,attr,omitempty"`
}

func (exclusiveGateway TExclusiveGateway) GetType() ElementType { return ElementTypeExclusiveGateway }
func (exclusiveGateway TExclusiveGateway) IsParallel() bool     { return false }
func (exclusiveGateway TExclusiveGateway) IsExclusive() bool    { return true }
