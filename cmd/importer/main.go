// Command importer loads archives into the configured store without the HTTP
// server and issues API tokens.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "importer",
		Short:         "Import mail archives and manage API tokens",
		SilenceUsage: true,
	}
	root.AddCommand(newImportCmd(), newSearchCmd(), newTokenCmd(), newRevokeCmd())
	return root
}
