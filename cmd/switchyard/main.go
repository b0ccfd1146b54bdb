package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/switchyard/cmd/switchyard/internal"
	"github.com/tinyland-inc/switchyard/cmd/switchyard/internal/console"
	"github.com/tinyland-inc/switchyard/cmd/switchyard/internal/onboard"
	"github.com/tinyland-inc/switchyard/cmd/switchyard/internal/serve"
	"github.com/tinyland-inc/switchyard/cmd/switchyard/internal/version"
)

func NewSwitchyardCommand() *cobra.Command {
	short := fmt.Sprintf("%s switchyard - user/operator relay bot v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "switchyard",
		Short:   short,
		Example: "switchyard serve",
	}

	cmd.AddCommand(
		onboard.NewOnboardCommand(),
		serve.NewServeCommand(),
		console.NewConsoleCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewSwitchyardCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
