package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/flowgraph/internal/diagram"
	"github.com/rendis/flowgraph/internal/validation"
)

var renderCmd = &cobra.Command{
	Use:   "render <file>",
	Short: "Render a workflow document as a diagram",
	Long: `Renders a JSON or YAML workflow document as Mermaid, ASCII, DOT, SVG or PNG.
Validation issues are painted onto the nodes. Text formats go to stdout unless
--output is given; image formats require --output.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		if (format == "png" || format == "svg") && output == "" {
			return fmt.Errorf("--output is required for %s", format)
		}
		data, err := renderFile(cmd.Context(), args[0], format)
		if err != nil {
			return err
		}
		if output == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		return os.WriteFile(output, data, 0o644)
	},
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().StringP("format", "f", "mermaid", "output format: mermaid, ascii, dot, svg or png")
	renderCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
}

func renderFile(ctx context.Context, path, format string) ([]byte, error) {
	_, doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	annotated := validation.Annotate(doc, validation.Validate(doc))
	model := diagram.Build(annotated, nil)

	switch format {
	case "", "mermaid":
		return []byte(diagram.RenderMermaid(model)), nil
	case "ascii":
		return []byte(diagram.RenderASCII(model)), nil
	case string(diagram.FormatDOT), string(diagram.FormatSVG), string(diagram.FormatPNG):
		if ctx == nil {
			ctx = context.Background()
		}
		return diagram.Render(ctx, model, diagram.ImageFormat(format))
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}
