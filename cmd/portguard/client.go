package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/clientrt"
	"github.com/portguard/portguard/internal/patch"
)

var (
	clientPort   int
	clientServer string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run the embedded client described by this binary's .pgconf section",
	RunE:  runClient,
}

func init() {
	clientCmd.Flags().IntVarP(&clientPort, "port", "p", 0, "override the embedded local listen port")
	clientCmd.Flags().StringVarP(&clientServer, "server", "s", "", "override the embedded server host:port")
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, args []string) error {
	self, err := readSelf()
	if err != nil {
		return err
	}
	cfg, err := patch.Read(self)
	if err != nil {
		return err
	}

	ovr := clientrt.Overrides{LocalPort: clientPort, ServerAddr: clientServer}
	rt := clientrt.New(cfg, ovr, log.Logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rt.Run(ctx)
}
