package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluvius-io/ordinal/internal/engine"
	"github.com/fluvius-io/ordinal/internal/journal"
	"github.com/fluvius-io/ordinal/internal/ruleset"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	RulesPath   string
	FactsPath   string
	JournalPath string
	MaxSteps    int
}

// RunResult is the JSON payload of a completed run.
type RunResult struct {
	RunToken   string         `json:"run_token"`
	FinalState string         `json:"final_state"`
	Steps      int            `json:"steps"`
	Facts      int            `json:"facts"`
	Firings    []FiringResult `json:"firings"`
}

// FiringResult is one firing in a RunResult.
type FiringResult struct {
	Seq        int64  `json:"seq"`
	RuleID     string `json:"rule_id"`
	BindingKey string `json:"binding_key"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run rules against facts to fixpoint",
		Long: `Load a rule document and a facts document, run the inference engine
until fixpoint (or the step cutoff), and print the firing trace.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInference(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RulesPath, "rules", "", "rule document (YAML, required)")
	cmd.Flags().StringVar(&opts.FactsPath, "facts", "", "facts document (YAML)")
	cmd.Flags().StringVar(&opts.JournalPath, "journal", "", "journal database path (optional)")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "step cutoff, 0 means run to fixpoint")
	_ = cmd.MarkFlagRequired("rules")

	return cmd
}

func runInference(rootOpts *RootOptions, opts *RunOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	doc, err := ruleset.Load(opts.RulesPath)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidDoc, err.Error(), nil)
		return WrapExitError(ExitCommandError, "loading rules", err)
	}
	rules, err := ruleset.Compile(doc)
	if err != nil {
		_ = formatter.Error(ErrCodeCompile, err.Error(), nil)
		return WrapExitError(ExitCommandError, "compiling rules", err)
	}
	formatter.VerboseLog("Loaded %d rule(s) from %s", len(rules), opts.RulesPath)

	var facts []any
	if opts.FactsPath != "" {
		facts, err = ruleset.LoadFacts(opts.FactsPath)
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "loading facts", err)
		}
		formatter.VerboseLog("Loaded %d fact(s) from %s", len(facts), opts.FactsPath)
	}

	engineOpts := []engine.Option{engine.WithMaxSteps(opts.MaxSteps)}
	if opts.JournalPath != "" {
		j, err := journal.Open(opts.JournalPath, nil)
		if err != nil {
			_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
			return WrapExitError(ExitCommandError, "opening journal", err)
		}
		defer j.Close()
		engineOpts = append(engineOpts, engine.WithObserver(j))
	}

	e := engine.New(engineOpts...)
	if err := e.RegisterRules(rules...); err != nil {
		_ = formatter.Error(ErrCodeCompile, err.Error(), nil)
		return WrapExitError(ExitCommandError, "registering rules", err)
	}
	for i, f := range facts {
		if _, err := e.Assert(f); err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, fmt.Sprintf("asserting fact %d", i), err)
		}
	}

	report, runErr := e.Run(cmd.Context())
	if runErr != nil && report == nil {
		_ = formatter.Error(ErrCodeRunFailed, runErr.Error(), nil)
		return WrapExitError(ExitFailure, "run failed", runErr)
	}

	result := buildRunResult(report, e.Facts())
	if err := outputRunResult(formatter, result, e); err != nil {
		return err
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	return nil
}

func buildRunResult(report *engine.RunReport, facts []engine.Fact) *RunResult {
	result := &RunResult{
		RunToken:   report.RunToken,
		FinalState: report.Final.String(),
		Steps:      report.Steps,
		Facts:      len(facts),
	}
	for _, f := range report.Firings {
		fr := FiringResult{
			Seq:        f.Seq,
			RuleID:     f.RuleID,
			BindingKey: f.BindingKey,
			Result:     f.Result,
		}
		if f.Err != nil {
			fr.Error = f.Err.Error()
		}
		result.Firings = append(result.Firings, fr)
	}
	return result
}

// outputRunResult prints the trace. Text output deliberately omits the
// run token, so identical inputs print identical bytes.
func outputRunResult(formatter *OutputFormatter, result *RunResult, e *engine.Engine) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	switch result.FinalState {
	case "idle":
		fmt.Fprintf(w, "✓ fixpoint reached: %d step(s), %d fact(s) in working memory\n", result.Steps, result.Facts)
	case "halted":
		fmt.Fprintf(w, "◼ halted before fixpoint: %d step(s), %d fact(s) in working memory\n", result.Steps, result.Facts)
	default:
		fmt.Fprintf(w, "✗ run failed after %d step(s)\n", result.Steps)
	}

	if len(result.Firings) > 0 {
		fmt.Fprintln(w)
		for i, f := range result.Firings {
			fmt.Fprintf(w, "%3d. %s", i+1, f.RuleID)
			if f.Result != nil {
				fmt.Fprintf(w, "  %v", f.Result)
			}
			if f.Error != "" {
				fmt.Fprintf(w, "  error: %s", f.Error)
			}
			fmt.Fprintln(w)
		}
	}

	if errs := e.ConditionErrors(); len(errs) > 0 {
		fmt.Fprintf(w, "\n%d condition error(s):\n", len(errs))
		for _, ce := range errs {
			fmt.Fprintf(w, "  - %v\n", ce)
		}
	}
	return nil
}
