package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fluvius-io/ordinal/internal/ruleset"
)

// ValidationResult holds validation output for the JSON format.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Rules  int                        `json:"rules,omitempty"`
	Errors []*ruleset.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a rule document without running it",
		Long: `Check a rule document against the schema and compile it, without
asserting facts or running inference.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, rulesPath, cmd)
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "rule document (YAML, required)")
	_ = cmd.MarkFlagRequired("rules")

	return cmd
}

func runValidate(rootOpts *RootOptions, rulesPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	data, err := os.ReadFile(rulesPath)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading rules", err)
	}

	doc, err := ruleset.Parse(data)
	if err != nil {
		var verrs ruleset.ValidationErrors
		if errors.As(err, &verrs) {
			return outputValidationErrors(formatter, verrs)
		}
		_ = formatter.Error(ErrCodeInvalidDoc, err.Error(), nil)
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	// Schema-valid documents can still fail compilation (duplicate
	// names, malformed joins).
	if _, err := ruleset.Compile(doc); err != nil {
		_ = formatter.Error(ErrCodeCompile, err.Error(), nil)
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Rules: len(doc.Rules)})
	}
	fmt.Fprintf(formatter.Writer, "✓ %d rule(s) valid\n", len(doc.Rules))
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, verrs ruleset.ValidationErrors) error {
	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeInvalidDoc, "validation failed", ValidationResult{
			Valid:  false,
			Errors: verrs,
		})
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(verrs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, ve := range verrs {
		fmt.Fprintf(formatter.Writer, "  %s\n", ve.Error())
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(verrs)))
}
