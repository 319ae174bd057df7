package manager

import (
	"context"
	"time"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/multiverse"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
)

// CommandKind distinguishes commands.
type CommandKind int

const (
	CommandAdvance CommandKind = iota + 1
	CommandBranch
	CommandUpdate
	CommandGetUniverse
	CommandGetNode
	CommandGetNodes
	CommandGetTimeline
	CommandGetChildren
)

var commandNames = map[CommandKind]string{
	CommandAdvance:     "advance",
	CommandBranch:      "branch",
	CommandUpdate:      "update",
	CommandGetUniverse: "get_universe",
	CommandGetNode:     "get_node",
	CommandGetNodes:    "get_nodes",
	CommandGetTimeline: "get_timeline",
	CommandGetChildren: "get_children",
}

// String returns the command name used in logs, metrics and spans.
func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "unknown"
}

// Command is one queued request.
type Command struct {
	Kind     CommandKind
	Handle   handle.Handle
	Duration int
	Patches  []multiverse.BranchParams

	// Seq is assigned on enqueue.
	Seq int64

	// ctx carries trace context only; commands are never cancelled.
	ctx      context.Context
	reply    chan Reply
	enqueued time.Time
}

// Reply is the answer to a Command. Only the fields relevant to the
// command kind are set.
type Reply struct {
	Handle   handle.Handle
	Handles  []handle.Handle
	Node     multiverse.Node
	Links    multiverse.Links
	Universe physics.Universe
	Timeline []physics.Universe
	Found    bool
	Err      error
}
