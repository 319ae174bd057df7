package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GrigorianNick/multiverse-simulator/internal/schema"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the OpenAPI document for request bodies",
		Long: `Print the OpenAPI components generated from the CUE schema that
validates advance, branch and patch request bodies.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)

			s, err := schema.New()
			if err != nil {
				return f.Fail("load schema", err)
			}
			doc, err := s.OpenAPI()
			if err != nil {
				return f.Fail("generate OpenAPI", err)
			}

			return f.Success(json.RawMessage(doc), func(w io.Writer) {
				var out bytes.Buffer
				if err := json.Indent(&out, doc, "", "  "); err != nil {
					_, _ = w.Write(doc)
					return
				}
				fmt.Fprintln(w, out.String())
			})
		},
	}
}
