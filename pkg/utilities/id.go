package utilities

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string. KSUIDs sort by
// creation time, which makes them usable as generated collection keys.
func NewKSUID() string {
	return ksuid.New().String()
}

func defaultNode() *snowflake.Node {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				nodeID = n
			}
		}
		node, _ = snowflake.NewNode(nodeID)
	})
	return node
}

// NewSnowflakeID generates a snowflake ID string using a node ID from
// the environment variable SNOWFLAKE_NODE (default 1). The node is created
// once per process so IDs from concurrent callers never collide.
func NewSnowflakeID() string {
	n := defaultNode()
	if n == nil {
		return NewKSUID()
	}
	return n.Generate().String()
}

// NewPushKey returns a generated collection key. Keys from one process
// compare as strings in generation order, including keys minted within the
// same millisecond.
func NewPushKey() string {
	n := defaultNode()
	if n == nil {
		return NewKSUID()
	}
	return fmt.Sprintf("%020d", n.Generate().Int64())
}

// NewShortCode returns prefix followed by an upper-case base36 snowflake,
// a compact human-readable reference such as "APP2F8K1X0QZ4".
func NewShortCode(prefix string) string {
	n := defaultNode()
	if n == nil {
		return prefix + strings.ToUpper(NewKSUID())
	}
	return prefix + strings.ToUpper(n.Generate().Base36())
}

// NewSnowflakeIDWithNode generates a snowflake ID string using the provided node ID.
// If the node cannot be initialized, it falls back to a KSUID string.
func NewSnowflakeIDWithNode(nodeID int64) string {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return NewKSUID()
	}
	return n.Generate().String()
}
