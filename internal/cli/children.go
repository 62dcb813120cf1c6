package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ghostbridge/internal/tree"
)

// ChildrenOptions holds flags for the children command.
type ChildrenOptions struct {
	*RootOptions
	PathID string
}

// ChildEntry describes one child in order.
type ChildEntry struct {
	ID     string `json:"id"`
	Type   string `json:"type,omitempty"`
	PathID string `json:"path_id,omitempty"`
}

// ChildrenResult lists a collection's children oldest first.
type ChildrenResult struct {
	Children []ChildEntry `json:"children"`
}

// WriteText prints one child per line.
func (r *ChildrenResult) WriteText(w io.Writer) error {
	if len(r.Children) == 0 {
		_, err := fmt.Fprintln(w, "No children.")
		return err
	}
	for i, c := range r.Children {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, c.ID, c.Type, c.PathID)
	}
	return nil
}

// NewChildrenCommand creates the children command.
func NewChildrenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChildrenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "children <file.json>",
		Short: "Print the ordered children of a node",
		Long: `Print the children of a tools node in insertion order.

The file holds either a node with a "children" member or a children
collection itself ({lastId, count, <id>: {prevId, ...}}). With --path the
file is a whole tools tree and the node with that pathId is listed. A
corrupt prevId chain lists the children reachable from lastId.

Examples:
  ghostbridge children pane.json
  ghostbridge children --path p2 tools.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChildren(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.PathID, "path", "", "pathId of the node to list")

	return cmd
}

func runChildren(opts *ChildrenOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	v, err := readJSONFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read node", err)
	}

	var ordered []tree.Child
	switch {
	case opts.PathID != "":
		node, ok := tree.FindByPathID(v, opts.PathID)
		if !ok {
			return formatter.Fail(ExitCommandError, ErrCodeInput, fmt.Sprintf("no node with pathId %q", opts.PathID), nil)
		}
		ordered = tree.OrderedChildrenOf(node)
	default:
		node, ok := tree.NodeOf(v)
		if !ok {
			return formatter.Fail(ExitCommandError, ErrCodeInput, "input is not a JSON object", nil)
		}
		if _, has := node.Children(); has {
			ordered = tree.OrderedChildrenOf(node)
		} else if c, ok := tree.ChildrenOf(v); ok {
			ordered = tree.OrderedChildren(c)
		}
	}

	result := &ChildrenResult{Children: make([]ChildEntry, 0, len(ordered))}
	for _, c := range ordered {
		result.Children = append(result.Children, ChildEntry{
			ID:     c.ID,
			Type:   c.Node.Type(),
			PathID: c.Node.PathID(),
		})
	}
	return formatter.Success(result)
}
