package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/eduportal/internal/util"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a random value for --session-key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := util.RandomHex(sessionKeyBytes)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
