package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/patch"
	"github.com/portguard/portguard/internal/pgconfig"
	"github.com/portguard/portguard/internal/pgcrypto"
	"github.com/portguard/portguard/internal/registry"
)

var (
	genCliCfgPath   string
	genCliOutPath   string
	genCliInPath    string
	genCliName      string
	genCliServiceID uint32
	genCliHasSid    bool
	genCliTarget    string
	genCliPassword  bool
	genCliLocalPort int
)

var genCliCmd = &cobra.Command{
	Use:   "gen-cli",
	Short: "Issue a new client: enroll it on the server and embed its config into an executable",
	RunE:  runGenCli,
}

func init() {
	genCliCmd.Flags().StringVarP(&genCliCfgPath, "config", "c", "", "server config TOML path")
	genCliCmd.Flags().StringVarP(&genCliOutPath, "out", "o", "", "output client executable path")
	genCliCmd.Flags().StringVarP(&genCliInPath, "in", "i", "", "input executable to patch (default: this binary)")
	genCliCmd.Flags().StringVarP(&genCliName, "name", "n", "", "human label for the enrollment record")
	genCliCmd.Flags().Uint32VarP(&genCliServiceID, "service-id", "s", 0, "service id (reverse-register pairs with -t; alone, selects reverse-visit)")
	genCliCmd.Flags().StringVarP(&genCliTarget, "target", "t", "", "forward/dynamic/reverse-register target (addr:port or \"socks5\")")
	genCliCmd.Flags().BoolVar(&genCliPassword, "password", false, "require SOCKS5 UserPass auth (password comes from PG_PASSWORD on the server)")
	genCliCmd.Flags().IntVarP(&genCliLocalPort, "local-port", "p", 0, "default local listen port (overridable at 'client' runtime)")
	genCliCmd.MarkFlagRequired("config")
	genCliCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(genCliCmd)
}

func runGenCli(cmd *cobra.Command, args []string) error {
	genCliHasSid = cmd.Flags().Changed("service-id")

	reg, err := registry.Load(genCliCfgPath)
	if err != nil {
		return err
	}
	if !reg.HasKeys() {
		return fmt.Errorf("server config has no keypair; run 'portguard gen-key -c %s' first", genCliCfgPath)
	}

	remote, err := cliRemoteSpec()
	if err != nil {
		return err
	}

	clientKey, err := pgcrypto.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generate client keypair: %w", err)
	}
	var clientPub, clientPri [32]byte
	copy(clientPub[:], clientKey.Public)
	copy(clientPri[:], clientKey.Private)

	rec := &registry.Record{Name: genCliName, PubKey: clientPub, Remote: remote}
	reg.Insert(rec)
	if err := reg.Save(); err != nil {
		return err
	}

	var in []byte
	if genCliInPath != "" {
		in, err = os.ReadFile(genCliInPath)
	} else {
		in, err = readSelf()
	}
	if err != nil {
		return err
	}

	cfg := patch.ClientConfig{
		ServerHost:   reg.Host(),
		ServerPort:   reg.Port(),
		ServerPubKey: reg.ServerPubKey(),
		ClientPubKey: clientPub,
		ClientPriKey: clientPri,
		Remote:       remote,
		LocalPort:    genCliLocalPort,
	}

	out, err := patch.Write(in, cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(genCliOutPath, out, 0o755); err != nil {
		return err
	}

	log.Info().
		Str("name", genCliName).
		Str("pubkey", pgconfig.EncodePubKey(clientPub)).
		Str("mode", remote.Mode.String()).
		Str("out", genCliOutPath).
		Msg("issued client")

	if genCliPassword {
		log.Warn().Msg("--password requires PG_PASSWORD to be set in the server's environment")
	}
	return nil
}

// cliRemoteSpec maps gen-cli's -s/-t flags onto the four RemoteSpec
// shapes of §3: -s with -t is reverse-register, -s alone is
// reverse-visit, -t alone is forward or dynamic (target == "socks5").
func cliRemoteSpec() (pgconfig.RemoteSpec, error) {
	switch {
	case genCliHasSid && genCliTarget != "":
		sid := genCliServiceID
		return pgconfig.ParseRemote(genCliTarget, &sid)
	case genCliHasSid:
		return pgconfig.ParseRemote(fmt.Sprintf("%d", genCliServiceID), nil)
	case genCliTarget != "":
		return pgconfig.ParseRemote(genCliTarget, nil)
	default:
		return pgconfig.RemoteSpec{}, fmt.Errorf("gen-cli requires -t, -s, or both")
	}
}
