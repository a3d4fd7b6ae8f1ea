// Command portguard is the single multi-purpose executable described in
// §6: an admin CLI (server, gen-key, gen-cli, clone-cli, mod-cli,
// list-key) that, once gen-cli has patched its `.pgconf` section,
// doubles as the client runtime (`client`) the section describes.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/pglog"
)

var rootCmd = &cobra.Command{
	Use:           "portguard",
	Short:         "Authenticated, encrypted TCP port forwarding with zero client-side config",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	pglog.Init()

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("portguard failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
