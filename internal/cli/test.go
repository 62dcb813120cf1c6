package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ghostbridge/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // rewrite golden files from this run
	Filter string // glob over scenario file names, without extension
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult summarizes a test run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

func (r *TestResult) add(sr ScenarioResult) {
	r.Scenarios = append(r.Scenarios, sr)
	if sr.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run YAML bridge scenarios",
		Long: `Run every scenario under a directory against a fresh channel and check
its expectations.

A scenario with a golden file (golden/<name>.golden next to the scenario)
must also reproduce the recorded trace. --update rewrites golden files
from the current run.

Exit codes:
  0 - every scenario passed
  1 - at least one scenario failed
  2 - the directory could not be read

Examples:
  ghostbridge test ./scenarios
  ghostbridge test ./scenarios --filter "checkbox*"
  ghostbridge test ./scenarios --update
  ghostbridge --format json test ./scenarios`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose name matches this glob")

	return cmd
}

// suite runs scenario files and reports each one as it finishes.
type suite struct {
	update bool
	out    io.Writer // nil in JSON mode
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	files, err := scenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	s := suite{update: opts.Update}
	if opts.Format != "json" {
		s.out = cmd.OutOrStdout()
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, f := range files {
		result.add(s.run(f))
	}

	if s.out == nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else if result.Total == 0 {
		fmt.Fprintln(s.out, "No scenarios found.")
	} else {
		fmt.Fprintf(s.out, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

// scenarioFiles lists the .yaml and .yml files under dir in lexical order,
// skipping golden directories.
func scenarioFiles(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir() && path != dir && d.Name() == "golden":
			return filepath.SkipDir
		case d.IsDir():
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			if ok, _ := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext)); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func (s suite) run(file string) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return s.report(filepath.Base(file), "", fmt.Sprintf("failed to load scenario: %v", err))
	}

	res, err := harness.Run(scenario)
	if err != nil {
		return s.report(scenario.Name, "", fmt.Sprintf("execution failed: %v", err))
	}

	golden := goldenFilePath(file)
	if s.update {
		if err := writeGolden(golden, scenario.Name, res); err != nil {
			return s.report(scenario.Name, "", fmt.Sprintf("failed to update golden file: %v", err))
		}
		return s.report(scenario.Name, " (golden updated)", res.Errors...)
	}

	errs := res.Errors
	if _, err := os.Stat(golden); err == nil {
		if msg := checkGolden(golden, scenario.Name, res); msg != "" {
			errs = append(errs[:len(errs):len(errs)], msg)
		}
	}
	return s.report(scenario.Name, "", errs...)
}

// report prints one scenario line in text mode. Any error fails it.
func (s suite) report(name, note string, errs ...string) ScenarioResult {
	if s.out != nil {
		if len(errs) == 0 {
			fmt.Fprintf(s.out, "✓ %s%s\n", name, note)
		} else {
			fmt.Fprintf(s.out, "✗ %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(s.out, "  %s\n", e)
			}
		}
	}
	return ScenarioResult{Name: name, Pass: len(errs) == 0, Errors: errs}
}

// goldenFilePath maps dir/name.yaml to dir/golden/name.golden.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

func writeGolden(path, name string, res *harness.Result) error {
	data, err := harness.Snapshot(name, res)
	if err != nil {
		return fmt.Errorf("render trace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// checkGolden returns a failure message, or "" when the trace matches.
func checkGolden(path, name string, res *harness.Result) string {
	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("golden comparison failed: %v", err)
	}
	got, err := harness.Snapshot(name, res)
	if err != nil {
		return fmt.Sprintf("golden comparison failed: %v", err)
	}
	if !bytes.Equal(bytes.TrimSpace(want), got) {
		return "trace does not match golden file (run with --update to regenerate)"
	}
	return ""
}
