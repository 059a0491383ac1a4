package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/secret"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the stored OpenRouter API key",
}

var keySetCmd = &cobra.Command{
	Use:   "set [api-key]",
	Short: "Store the API key",
	Long: `Store the OpenRouter API key in the running service.

The key is read from the argument, or from the first line of stdin when no
argument is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no API key given")
			}
			key = line
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("no API key given")
		}

		if _, err := sendMessage(map[string]any{"type": "STORE_API_KEY", "apiKey": key}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "API key stored (fingerprint %s)\n", secret.Fingerprint(key))
		return nil
	},
}

var keyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored API key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := sendMessage(map[string]any{"type": "CLEAR_API_KEY"}); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "API key cleared")
		return nil
	},
}

var keyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether an API key is stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := sendMessage(map[string]any{"type": "GET_API_KEY"})
		if err != nil {
			return err
		}
		key, _ := resp["apiKey"].(string)
		if key == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "no API key stored")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "API key stored (fingerprint %s)\n", secret.Fingerprint(key))
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keySetCmd, keyClearCmd, keyStatusCmd)
	rootCmd.AddCommand(keyCmd)
}
