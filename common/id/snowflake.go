package id

import (
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
)

const issuePrefix = "ISSUE-"

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a time-ordered int64 id. Init must have been called.
func New() int64 {
	return node.Generate().Int64()
}

// NewIssueID returns an issue identifier of the form ISSUE-<BASE36>, upper-cased.
func NewIssueID() string {
	return issuePrefix + strings.ToUpper(node.Generate().Base36())
}

// IsIssueID reports whether s has the issue id shape.
func IsIssueID(s string) bool {
	rest, ok := strings.CutPrefix(s, issuePrefix)
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if (r < '0' || r > '9') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
