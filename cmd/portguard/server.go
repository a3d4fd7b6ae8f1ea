package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/pgconfig"
	"github.com/portguard/portguard/internal/registry"
	"github.com/portguard/portguard/internal/reversetable"
	"github.com/portguard/portguard/internal/server"
)

var serverCfgPath string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the portguard server, accepting only pre-enrolled clients",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().StringVarP(&serverCfgPath, "config", "c", "", "server config TOML path")
	serverCmd.MarkFlagRequired("config")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	reg, err := registry.Load(serverCfgPath)
	if err != nil {
		return err
	}
	if !reg.HasKeys() {
		return fmt.Errorf("server config has no keypair; run 'portguard gen-key -c %s' first", serverCfgPath)
	}

	logModeSummary(reg)

	table := reversetable.New()
	disp := server.NewDispatcher(reg, table, os.Getenv("PG_PASSWORD"))

	addr := net.JoinHostPort(reg.Host(), strconv.Itoa(reg.Port()))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Int("clients", reg.Len()).Msg("portguard server listening")

	ctx, cancel := signal.NotifyContext(log.Logger.WithContext(context.Background()), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return disp.Serve(ctx, ln)
}

func logModeSummary(reg *registry.Registry) {
	var forward, dynamic, reverseRegister, reverseVisit int
	reg.Each(func(rec *registry.Record) bool {
		switch rec.Remote.Mode {
		case pgconfig.ModeForward:
			forward++
		case pgconfig.ModeDynamic:
			dynamic++
		case pgconfig.ModeReverseRegister:
			reverseRegister++
		case pgconfig.ModeReverseVisit:
			reverseVisit++
		}
		return true
	})
	log.Info().
		Int("forward", forward).
		Int("dynamic", dynamic).
		Int("reverse_register", reverseRegister).
		Int("reverse_visit", reverseVisit).
		Msg("enrolled clients")
}
