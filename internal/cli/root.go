// Package cli provides the docpack command-line interface.
package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/tale-download-api/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

type app struct {
	verbose bool
	logger  *zap.Logger
}

// NewRootCommand assembles docpack and its subcommands.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "docpack",
		Short: "Offline tools for the document packager",
		Long: `docpack builds document archives without the HTTP server and exposes the
classification rules for debugging.

Examples:
  docpack build --records records.json -o expediente.zip
  docpack build --project PRJ01 > PRJ01.zip
  docpack classify "CONSTANCIA DE PAGO CUOTA 1.pdf"
  docpack homologate "Departamento Duplex" LOCAL`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger = logger.NewCLI(a.verbose)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newBuildCommand(a))
	root.AddCommand(newClassifyCommand())
	root.AddCommand(newHomologateCommand())
	root.AddCommand(newTokenCommand(a))
	return root
}

func (a *app) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}
