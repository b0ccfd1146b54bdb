package console

import (
	"github.com/spf13/cobra"
)

func NewConsoleCommand() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:     "console",
		Aliases: []string{"c"},
		Short:   "Interactive moderation console",
		Long: "Open an interactive console against the relay store. Session\n" +
			"moderation (accept, reject, ban, ...) works directly on the shared\n" +
			"store; user notifications go out through Telegram unless --offline.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return consoleCmd(offline)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Do not send Telegram notifications")

	return cmd
}
