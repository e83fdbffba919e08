package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alimasry/go-block-editor/config"
	"github.com/alimasry/go-block-editor/convert"
	"github.com/alimasry/go-block-editor/model"
	"github.com/alimasry/go-block-editor/server"
)

var convertCmd = &cobra.Command{
	Use:   "convert [file]",
	Short: "Convert a document between JSON, HTML and Markdown",
	Long: `convert reads a document from file (or stdin) and writes it to stdout in
another format. Block tags follow the configured heading options, so the
output matches what the server exports.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		in := cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		out, err := convertDocument(string(data), from, to, cfg)
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), out)
		return err
	},
}

func init() {
	convertCmd.Flags().String("from", "markdown", "input format: json, html or markdown")
	convertCmd.Flags().String("to", "html", "output format: json, html or markdown")
	rootCmd.AddCommand(convertCmd)
}

func convertDocument(src, from, to string, cfg config.Config) (string, error) {
	schema, err := server.NewSchema(cfg.Headings)
	if err != nil {
		return "", err
	}

	var root *model.Element
	switch from {
	case "json":
		root, err = model.DecodeDocument(src)
		if err == nil {
			err = schema.Validate(root)
		}
	case "html":
		root, err = convert.FromHTML(src, schema, cfg.Headings)
	case "markdown", "md":
		root, err = convert.FromMarkdown(src, schema, cfg.Headings)
	default:
		return "", fmt.Errorf("unknown input format %q", from)
	}
	if err != nil {
		return "", err
	}

	switch to {
	case "json":
		return model.EncodeDocument(root)
	case "html":
		return convert.ToHTML(root, cfg.Headings)
	case "markdown", "md":
		return convert.ToMarkdown(root, cfg.Headings)
	default:
		return "", fmt.Errorf("unknown output format %q", to)
	}
}
