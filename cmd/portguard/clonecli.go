package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/patch"
)

var (
	cloneCliInPath  string
	cloneCliOutPath string
)

var cloneCliCmd = &cobra.Command{
	Use:   "clone-cli",
	Short: "Copy an embedded client config from one executable image to another",
	RunE:  runCloneCli,
}

func init() {
	cloneCliCmd.Flags().StringVarP(&cloneCliInPath, "in", "i", "", "source executable already carrying a .pgconf config")
	cloneCliCmd.Flags().StringVarP(&cloneCliOutPath, "out", "o", "", "destination executable (unpatched build template)")
	cloneCliCmd.MarkFlagRequired("in")
	cloneCliCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(cloneCliCmd)
}

func runCloneCli(cmd *cobra.Command, args []string) error {
	src, err := os.ReadFile(cloneCliInPath)
	if err != nil {
		return err
	}
	dst, err := os.ReadFile(cloneCliOutPath)
	if err != nil {
		return err
	}

	out, err := patch.Clone(src, dst)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cloneCliOutPath, out, 0o755); err != nil {
		return err
	}

	log.Info().Str("in", cloneCliInPath).Str("out", cloneCliOutPath).Msg("cloned embedded config")
	return nil
}
