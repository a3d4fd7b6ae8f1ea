package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/patch"
	"github.com/portguard/portguard/internal/pgconfig"
)

var listKeyCmd = &cobra.Command{
	Use:   "list-key",
	Short: "Print the embedded public key of this client executable",
	RunE:  runListKey,
}

func init() {
	rootCmd.AddCommand(listKeyCmd)
}

func runListKey(cmd *cobra.Command, args []string) error {
	self, err := readSelf()
	if err != nil {
		return err
	}
	cfg, err := patch.Read(self)
	if err != nil {
		return err
	}
	fmt.Println(pgconfig.EncodePubKey(cfg.ClientPubKey))
	return nil
}
