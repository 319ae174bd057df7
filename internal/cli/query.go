package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/manager"
	"github.com/GrigorianNick/multiverse-simulator/internal/multiverse"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
)

// NodeView is a node with its own handle, as printed by the node command.
type NodeView struct {
	Handle handle.Handle `json:"handle"`
	multiverse.Node
}

// NewNodesCommand creates the nodes command.
func NewNodesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List every node handle",
		Long: `List the handle of every node in the configured store, sorted.

Examples:
  multiverse nodes
  multiverse nodes --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, f *OutputFormatter, c *manager.Client) error {
				handles, err := c.GetNodes(ctx)
				if err != nil {
					return f.Fail("list nodes", err)
				}
				return f.Success(handles, func(w io.Writer) {
					for _, h := range handles {
						fmt.Fprintln(w, h)
					}
				})
			})
		},
	}
}

// NewNodeCommand creates the node command.
func NewNodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "node <handle>",
		Short: "Show a node's links and patches",
		Example: `  multiverse node 0b7e6c1e-1e0f-4b8f-a7c3-4b2d1f0e9a11
  multiverse node 0b7e6c1e-1e0f-4b8f-a7c3-4b2d1f0e9a11 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, f *OutputFormatter, c *manager.Client) error {
				h, err := parseHandleArg(f, args[0])
				if err != nil {
					return err
				}
				n, found, err := c.GetNode(ctx, h)
				if err != nil {
					return f.Fail("get node", err)
				}
				if !found {
					return f.NotFound(args[0])
				}
				return f.Success(NodeView{Handle: h, Node: n}, func(w io.Writer) {
					renderNode(w, h, n)
				})
			})
		},
	}
}

// NewUniverseCommand creates the universe command.
func NewUniverseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "universe <handle>",
		Short:         "Show the resolved state of a node",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, f *OutputFormatter, c *manager.Client) error {
				h, err := parseHandleArg(f, args[0])
				if err != nil {
					return err
				}
				u, found, err := c.GetUniverse(ctx, h)
				if err != nil {
					return f.Fail("resolve universe", err)
				}
				if !found {
					return f.NotFound(args[0])
				}
				return f.Success(u, func(w io.Writer) {
					renderUniverse(w, u)
				})
			})
		},
	}
}

// NewTimelineCommand creates the timeline command.
func NewTimelineCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <handle>",
		Short: "Show every state from the root down to a node",
		Long: `Show the resolved states of every node on the path from the root to
the given node, root first and the node itself last.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, f *OutputFormatter, c *manager.Client) error {
				h, err := parseHandleArg(f, args[0])
				if err != nil {
					return err
				}
				tl, found, err := c.GetTimeline(ctx, h)
				if err != nil {
					return f.Fail("resolve timeline", err)
				}
				if !found {
					return f.NotFound(args[0])
				}
				return f.Success(tl, func(w io.Writer) {
					for i, u := range tl {
						fmt.Fprintf(w, "[%d] %d bodies\n", i, u.Len())
						renderUniverse(w, u)
					}
				})
			})
		},
	}
}

// NewChildrenCommand creates the children command.
func NewChildrenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "children <handle>",
		Short:         "Show a node's successor and branch children",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, f *OutputFormatter, c *manager.Client) error {
				h, err := parseHandleArg(f, args[0])
				if err != nil {
					return err
				}
				links, found, err := c.GetChildren(ctx, h)
				if err != nil {
					return f.Fail("get children", err)
				}
				if !found {
					return f.NotFound(args[0])
				}
				return f.Success(links, func(w io.Writer) {
					if !links.Next.IsZero() {
						fmt.Fprintf(w, "next   %s\n", links.Next)
					}
					for _, child := range links.Children {
						fmt.Fprintf(w, "branch %s\n", child)
					}
				})
			})
		},
	}
}

func renderNode(w io.Writer, h handle.Handle, n multiverse.Node) {
	fmt.Fprintf(w, "handle:       %s\n", h)
	if n.IsRoot() {
		fmt.Fprintln(w, "parent:       (root)")
	} else {
		fmt.Fprintf(w, "parent:       %s\n", n.Parent)
	}
	if !n.Next.IsZero() {
		fmt.Fprintf(w, "next:         %s\n", n.Next)
	}
	fmt.Fprintf(w, "children:     %d\n", len(n.Children))
	fmt.Fprintf(w, "relative_age: %d\n", n.RelativeAge)
	fmt.Fprintf(w, "patches:      %d\n", len(n.Delta))
}

func renderUniverse(w io.Writer, u physics.Universe) {
	for _, b := range u.Bodies {
		fmt.Fprintf(w, "  %s  pos=(%g, %g, %g)  vel=(%g, %g, %g)  mass=%g\n",
			b.ID,
			b.Position.X, b.Position.Y, b.Position.Z,
			b.Velocity.X, b.Velocity.Y, b.Velocity.Z,
			b.Mass,
		)
	}
}
