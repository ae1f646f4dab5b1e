// Package zenflake generates the unique keys of records, definitions and instances.
package zenflake

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	// NodeBits holds the number of bits to use for Node
	// Remember, you have a total 22 bits to share between Node/Step
	NodeBits uint8 = 10

	// StepBits holds the number of bits to use for Step
	// Remember, you have a total 22 bits to share between Node/Step
	StepBits uint8 = 12

	// internal values of bwmarrin/snowflake
	nodeMax   int64 = -1 ^ (-1 << NodeBits)
	nodeMask        = nodeMax << StepBits
	nodeShift       = StepBits
)

// KeyGenerator hands out unique, positive keys. It is safe for concurrent use.
type KeyGenerator struct {
	node *snowflake.Node
}

func NewKeyGenerator(nodeId int64) (*KeyGenerator, error) {
	if nodeId < 0 || nodeId > nodeMax {
		return nil, fmt.Errorf("node id %d must be between 0 and %d", nodeId, nodeMax)
	}
	snowflake.NodeBits = NodeBits
	snowflake.StepBits = StepBits
	node, err := snowflake.NewNode(nodeId)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeId, err)
	}
	return &KeyGenerator{node: node}, nil
}

func (g *KeyGenerator) Next() int64 {
	return g.node.Generate().Int64()
}

func GetNodeMask() int64 {
	return nodeMask
}

// GetNodeId returns the id of the node that generated key
func GetNodeId(key int64) int64 {
	return (key & GetNodeMask()) >> int64(nodeShift)
}
