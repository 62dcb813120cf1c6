package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ghostbridge/internal/coalesce"
	"github.com/roach88/ghostbridge/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Rules string
}

// ValidationIssue is one problem found by validate.
type ValidationIssue struct {
	Source  string `json:"source"` // "config" or "rules"
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Config string            `json:"config,omitempty"`
	Rules  string            `json:"rules,omitempty"`
	Names  []string          `json:"names,omitempty"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// WriteText renders the result for humans.
func (r *ValidationResult) WriteText(w io.Writer) error {
	if r.Valid {
		fmt.Fprintln(w, "✓ Configuration valid")
		if r.Rules != "" {
			fmt.Fprintf(w, "✓ Rules valid (%d names)\n", len(r.Names))
		}
		return nil
	}
	fmt.Fprintf(w, "✗ Validation failed (%d errors)\n", len(r.Errors))
	for _, e := range r.Errors {
		loc := e.Source
		if e.Field != "" {
			loc += " " + e.Field
		}
		if e.Line > 0 {
			loc += fmt.Sprintf(":%d", e.Line)
		}
		fmt.Fprintf(w, "  %s: %s\n", loc, e.Message)
	}
	return nil
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and coalescer rules",
		Long: `Validate the configuration and compile the CUE coalescer rules it
names (or the file given with --rules) without connecting to the engine.

Exit codes:
  0 - Config and rules are valid
  1 - Validation failed`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Rules, "rules", "", "rules file (overrides coalesce.rules)")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	result := &ValidationResult{Valid: true, Config: opts.Config}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConfig, "failed to load config", err)
	}
	formatter.VerboseLog("Loaded config %q", opts.Config)

	if err := cfg.Validate(); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				result.Errors = append(result.Errors, ValidationIssue{Source: "config", Field: e.Field, Message: e.Message})
			}
		} else {
			result.Errors = append(result.Errors, ValidationIssue{Source: "config", Message: err.Error()})
		}
	}

	result.Rules = cfg.Coalesce.Rules
	if opts.Rules != "" {
		result.Rules = opts.Rules
	}
	if result.Rules != "" {
		formatter.VerboseLog("Compiling rules %s", result.Rules)
		reg, err := coalesce.LoadRulesFile(result.Rules)
		if err != nil {
			result.Errors = append(result.Errors, rulesIssue(err))
		} else {
			result.Names = reg.Names()
		}
	}

	result.Valid = len(result.Errors) == 0
	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

func rulesIssue(err error) ValidationIssue {
	var rerr *coalesce.RuleError
	if errors.As(err, &rerr) {
		issue := ValidationIssue{Source: "rules", Field: rerr.Field, Message: rerr.Message}
		if rerr.Pos.IsValid() {
			issue.Line = rerr.Pos.Line()
		}
		return issue
	}
	return ValidationIssue{Source: "rules", Message: err.Error()}
}
