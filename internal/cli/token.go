package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show the admin API token",
	Long: `Show the admin token of the running server.

Admin endpoints (test authoring, results, status changes) require it as a
Bearer token:

  curl -H "Authorization: Bearer $(splitclass token)" http://localhost:8080/api/tests`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(tokenFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server running. Start with: splitclass serve")
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: splitclass serve")
	}

	fmt.Println(token)
	return nil
}
