package manager

import (
	"context"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/multiverse"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
)

// Client submits commands to a Manager and waits for their replies.
// Safe for concurrent use. ctx is used for tracing only: a submitted
// command always runs to completion.
type Client struct {
	m *Manager
}

// Root returns the root handle. It never changes after bootstrap.
func (c *Client) Root() handle.Handle {
	return c.m.mv.Root()
}

// Advance creates the canonical successor of h and returns its handle.
func (c *Client) Advance(ctx context.Context, h handle.Handle, duration int) (handle.Handle, error) {
	r := c.m.submit(ctx, Command{Kind: CommandAdvance, Handle: h, Duration: duration})
	return r.Handle, r.Err
}

// Branch creates a patched child of h and returns its handle.
func (c *Client) Branch(ctx context.Context, h handle.Handle, duration int, patches []multiverse.BranchParams) (handle.Handle, error) {
	r := c.m.submit(ctx, Command{Kind: CommandBranch, Handle: h, Duration: duration, Patches: patches})
	return r.Handle, r.Err
}

// Update appends patches to h and invalidates its subtree.
func (c *Client) Update(ctx context.Context, h handle.Handle, patches []multiverse.BranchParams) error {
	r := c.m.submit(ctx, Command{Kind: CommandUpdate, Handle: h, Patches: patches})
	return r.Err
}

// GetUniverse returns the resolved universe of h.
func (c *Client) GetUniverse(ctx context.Context, h handle.Handle) (physics.Universe, bool, error) {
	r := c.m.submit(ctx, Command{Kind: CommandGetUniverse, Handle: h})
	return r.Universe, r.Found, r.Err
}

// GetNode returns the node at h.
func (c *Client) GetNode(ctx context.Context, h handle.Handle) (multiverse.Node, bool, error) {
	r := c.m.submit(ctx, Command{Kind: CommandGetNode, Handle: h})
	return r.Node, r.Found, r.Err
}

// GetNodes returns every node handle.
func (c *Client) GetNodes(ctx context.Context) ([]handle.Handle, error) {
	r := c.m.submit(ctx, Command{Kind: CommandGetNodes})
	return r.Handles, r.Err
}

// GetTimeline returns the resolved universes from the root to h.
func (c *Client) GetTimeline(ctx context.Context, h handle.Handle) ([]physics.Universe, bool, error) {
	r := c.m.submit(ctx, Command{Kind: CommandGetTimeline, Handle: h})
	return r.Timeline, r.Found, r.Err
}

// GetChildren returns the branch children and successor of h.
func (c *Client) GetChildren(ctx context.Context, h handle.Handle) (multiverse.Links, bool, error) {
	r := c.m.submit(ctx, Command{Kind: CommandGetChildren, Handle: h})
	return r.Links, r.Found, r.Err
}
