package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/patch"
)

// PatchOptions holds flags for the patch command.
type PatchOptions struct {
	*RootOptions
	Diff bool
}

// document is an IR value printed as canonical JSON.
type document struct {
	v ir.IRValue
}

func (d document) MarshalJSON() ([]byte, error) {
	return ir.MarshalCanonical(d.v)
}

func (d document) WriteText(w io.Writer) error {
	data, err := ir.MarshalCanonical(d.v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

var _ json.Marshaler = document{}

// NewPatchCommand creates the patch command.
func NewPatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "patch <base.json> <patch.json>",
		Short: "Apply a tree patch to a JSON document",
		Long: `Apply a tree patch to a base document and print the result.

Patches use the engine's diff encoding: objects merge recursively, the
string "__NIL" deletes a key, and an object with "__exact": true replaces
the value. With --diff the second file is a target document and the
minimal patch from base to target is printed instead. Either file may be
"-" for stdin.

Examples:
  ghostbridge patch tree.json update.json
  ghostbridge patch --diff before.json after.json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatch(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Diff, "diff", false, "print the patch from base to the second document")

	return cmd
}

func runPatch(opts *PatchOptions, basePath, otherPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	base, err := readJSONFile(basePath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read base", err)
	}
	other, err := readJSONFile(otherPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read second document", err)
	}

	if opts.Diff {
		p := patch.Diff(base, other)
		formatter.VerboseLog("Patch: %s", p)
		return formatter.Success(document{v: patch.Encode(p)})
	}
	p := patch.Decode(other)
	formatter.VerboseLog("Applying %s", p)
	return formatter.Success(document{v: patch.Apply(base, p)})
}
