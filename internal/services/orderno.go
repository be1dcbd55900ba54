package services

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

const orderNoPrefix = "SUB"

// OrderNumberGenerator issues globally unique, time-ordered order numbers.
type OrderNumberGenerator struct {
	node *snowflake.Node
}

// NewOrderNumberGenerator creates a generator for node (0-1023). Every
// running instance needs its own node id.
func NewOrderNumberGenerator(nodeID int64) (*OrderNumberGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &OrderNumberGenerator{node: node}, nil
}

// Next returns a new order number
func (g *OrderNumberGenerator) Next() string {
	return orderNoPrefix + g.node.Generate().String()
}
