package onboard

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/switchyard/cmd/switchyard/internal"
	"github.com/tinyland-inc/switchyard/pkg/config"
)

func NewOnboardCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "init",
		Aliases: []string{"onboard"},
		Short:   "Write a default config file",
		Example: "switchyard init",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return onboardCmd(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func onboardCmd(force bool) error {
	path := internal.GetConfigPath()
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}

	fmt.Printf("✓ Config written to %s\n", path)
	fmt.Println("Next steps:")
	fmt.Println("  1. Set telegram.token (or SWITCHYARD_TELEGRAM_TOKEN)")
	fmt.Println("  2. Add operator chat ids or usernames under operators")
	fmt.Println("  3. Run: switchyard serve")
	return nil
}
