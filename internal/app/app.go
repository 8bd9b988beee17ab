package app

import (
	"github.com/spf13/cobra"

	"github.com/Auditware/radar/internal/cli"
)

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"

func BuildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "radar",
		Short:         "Static vulnerability analyzer for Anchor and Stylus smart contracts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cli.AddCommands(root)
	return root
}
