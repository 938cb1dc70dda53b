package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/flowgraph/internal/binding"
	"github.com/rendis/flowgraph/internal/codec"
	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

var errInvalid = errors.New("workflow is not valid")

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a workflow document for structural and config problems",
	Long: `Decodes a JSON or YAML workflow document, checks its structure and binds
every node config. Exits non-zero when any error is found; warnings are
reported but do not fail the check.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return runValidate(cmd.OutOrStdout(), args[0], asJSON)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Bool("json", false, "print the validation result as JSON")
}

func runValidate(w io.Writer, path string, asJSON bool) error {
	cd, doc, err := readDocument(path)
	if err != nil {
		return err
	}
	exprs, err := expressions.NewSet()
	if err != nil {
		return err
	}
	plan := binding.New(cd.Schemas(), exprs).Bind(doc)

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(plan.Result); err != nil {
			return err
		}
	} else {
		printIssues(w, plan.Result)
	}
	if !plan.Runnable() {
		return errInvalid
	}
	return nil
}

func printIssues(w io.Writer, result *schema.ValidationResult) {
	for _, is := range result.Errors {
		fmt.Fprintf(w, "error   %-22s %s\n", is.Code, is.Message)
	}
	for _, is := range result.Warnings {
		fmt.Fprintf(w, "warning %-22s %s\n", is.Code, is.Message)
	}
	if result.Valid() {
		fmt.Fprintf(w, "valid (%d warning(s))\n", len(result.Warnings))
		return
	}
	fmt.Fprintf(w, "%d error(s), %d warning(s)\n", len(result.Errors), len(result.Warnings))
}

// readDocument decodes the workflow file at path, picking the format from
// its extension.
func readDocument(path string) (*codec.Codec, *schema.GraphDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	cd, err := codec.New()
	if err != nil {
		return nil, nil, err
	}
	doc, err := cd.Decode(data, codec.FormatFromPath(path))
	if err != nil {
		return nil, nil, err
	}
	return cd, doc, nil
}
