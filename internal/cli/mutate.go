package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/GrigorianNick/multiverse-simulator/internal/api"
	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/manager"
	"github.com/GrigorianNick/multiverse-simulator/internal/multiverse"
	"github.com/GrigorianNick/multiverse-simulator/internal/schema"
)

// MutateOptions holds flags for advance, branch and patch.
type MutateOptions struct {
	*RootOptions
	Duration int
	Patches  string // file path, or "-" for stdin
}

// NewAdvanceCommand creates the advance command.
func NewAdvanceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "advance <handle>",
		Short: "Create the successor of a node",
		Long: `Create a node that advances the given node's state by --duration ticks.
The new node becomes the successor; a previous successor stays reachable
as a branch child.

Examples:
  multiverse advance 0b7e6c1e-1e0f-4b8f-a7c3-4b2d1f0e9a11 --duration 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, f *OutputFormatter, c *manager.Client) error {
				h, err := parseHandleArg(f, args[0])
				if err != nil {
					return err
				}
				if err := checkDuration(f, opts.Duration); err != nil {
					return err
				}
				created, err := c.Advance(ctx, h, opts.Duration)
				if err != nil {
					return f.Fail("advance", err)
				}
				return ack(f, "created", created)
			})
		},
	}

	cmd.Flags().IntVar(&opts.Duration, "duration", 0, "ticks to advance (required)")
	_ = cmd.MarkFlagRequired("duration")

	return cmd
}

// NewBranchCommand creates the branch command.
func NewBranchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "branch <handle>",
		Short: "Create a patched branch child of a node",
		Long: `Create a branch child that applies patches to the given node's state
and then advances --duration ticks.

Patches are a JSON array of objects with target_body, position,
d_position, velocity, d_velocity, mass and d_mass. Absolute values are
applied before deltas. Use "-" to read them from stdin.

Examples:
  multiverse branch 0b7e6c1e-1e0f-4b8f-a7c3-4b2d1f0e9a11 --duration 5 --patches kick.json
  echo '[{"d_mass": 1}]' | multiverse branch 0b7e6c1e-1e0f-4b8f-a7c3-4b2d1f0e9a11 --duration 0 --patches -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, f *OutputFormatter, c *manager.Client) error {
				h, err := parseHandleArg(f, args[0])
				if err != nil {
					return err
				}
				if err := checkDuration(f, opts.Duration); err != nil {
					return err
				}
				patches, err := readPatches(cmd, f, opts.Patches)
				if err != nil {
					return err
				}
				created, err := c.Branch(ctx, h, opts.Duration, patches)
				if err != nil {
					return f.Fail("branch", err)
				}
				return ack(f, "created", created)
			})
		},
	}

	cmd.Flags().IntVar(&opts.Duration, "duration", 0, "ticks to advance after patching (required)")
	cmd.Flags().StringVar(&opts.Patches, "patches", "", `JSON patch file, or "-" for stdin`)
	_ = cmd.MarkFlagRequired("duration")

	return cmd
}

// NewPatchCommand creates the patch command.
func NewPatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "patch <handle>",
		Short: "Append patches to a node in place",
		Long: `Append patches to an existing node. Every descendant's cached state is
discarded and recomputed on its next read.

Examples:
  multiverse patch 0b7e6c1e-1e0f-4b8f-a7c3-4b2d1f0e9a11 --patches fix.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, f *OutputFormatter, c *manager.Client) error {
				h, err := parseHandleArg(f, args[0])
				if err != nil {
					return err
				}
				patches, err := readPatches(cmd, f, opts.Patches)
				if err != nil {
					return err
				}
				if err := c.Update(ctx, h, patches); err != nil {
					return f.Fail("patch", err)
				}
				return ack(f, "updated", h)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Patches, "patches", "", `JSON patch file, or "-" for stdin (required)`)
	_ = cmd.MarkFlagRequired("patches")

	return cmd
}

func checkDuration(f *OutputFormatter, d int) error {
	if d < 0 {
		return f.report(api.CodeInvalidRequest, ExitCommandError, fmt.Sprintf("--duration must be non-negative, got %d", d), nil, nil)
	}
	return nil
}

// readPatches reads a JSON patch array from path and checks it against the
// same CUE schema the HTTP API uses. An empty path means no patches.
func readPatches(cmd *cobra.Command, f *OutputFormatter, path string) ([]multiverse.BranchParams, error) {
	if path == "" {
		return nil, nil
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, f.report(api.CodeInvalidRequest, ExitCommandError, fmt.Sprintf("failed to read patches from %s", path), err, nil)
	}

	invalid := func(err error) error {
		return f.report(api.CodeInvalidRequest, ExitCommandError, "invalid patches", err, nil)
	}

	var body bytes.Buffer
	body.WriteString(`{"patches":`)
	body.Write(bytes.TrimSpace(data))
	body.WriteString(`}`)

	s, err := schema.New()
	if err != nil {
		return nil, f.Fail("load patch schema", err)
	}
	if err := s.ValidateUpdate(body.Bytes()); err != nil {
		return nil, invalid(err)
	}

	var req api.UpdateRequest
	if err := json.Unmarshal(body.Bytes(), &req); err != nil {
		return nil, invalid(err)
	}
	if len(req.Patches) > api.MaxPatchesPerRequest {
		return nil, invalid(fmt.Errorf("%d patches exceeds the limit of %d", len(req.Patches), api.MaxPatchesPerRequest))
	}
	return req.Patches, nil
}

func ack(f *OutputFormatter, status string, h handle.Handle) error {
	return f.Success(api.Ack{Status: status, Handle: h}, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s\n", status, h)
	})
}
