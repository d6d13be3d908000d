package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/tale-download-api/pkg/classify"
)

func newClassifyCommand() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "classify <filename>",
		Short: "Show how a file name and label are classified",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.TrimSpace(strings.Join(args, " ") + " " + label)
			normalized := classify.NormalizeText(raw)
			docType, rule := classify.ExplainText(normalized)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "input:      %s\n", raw)
			fmt.Fprintf(out, "normalized: %s\n", normalized)
			fmt.Fprintf(out, "type:       %s (%s)\n", docType, docType.Label())
			fmt.Fprintf(out, "rule:       %s\n", rule)
			return nil
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "upload label shown next to the file")
	return cmd
}

func newHomologateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "homologate <unit type>...",
		Short: "Map free-text unit types to canonical codes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, raw := range args {
				fmt.Fprintf(out, "%q\t%s\n", raw, classify.HomologateUnitType(raw))
			}
			return nil
		},
	}
}
