package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/handlers"
)

var commandTab string

var commandCmd = &cobra.Command{
	Use:   "command <name>",
	Short: "Trigger a command in the running service",
	Long: `Trigger a named command, the way a keyboard shortcut would.

Available commands:
  toggle-extension   Show or hide the widget in the active tab
  clear-cache        Clear the local storage area`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{handlers.CommandToggleExtension, handlers.CommandClearCache},
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		body := handlers.CommandRequest{TabID: commandTab}
		if err := call("POST", "/commands/"+url.PathEscape(name), body, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: done\n", name)
		return nil
	},
}

func init() {
	commandCmd.Flags().StringVar(&commandTab, "tab", "", "Target tab id (default: the active tab)")
	rootCmd.AddCommand(commandCmd)
}
