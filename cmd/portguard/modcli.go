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
	modCliCfgPath string
	modCliBinPath string
)

var modCliCmd = &cobra.Command{
	Use:   "mod-cli",
	Short: "Regenerate a client's keypair in place, in both the binary and the server registry",
	RunE:  runModCli,
}

func init() {
	modCliCmd.Flags().StringVarP(&modCliCfgPath, "config", "c", "", "server config TOML path")
	modCliCmd.Flags().StringVarP(&modCliBinPath, "in", "i", "", "client executable to rekey")
	modCliCmd.MarkFlagRequired("config")
	modCliCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(modCliCmd)
}

// runModCli treats the binary patch and the registry update as a single
// transaction (§9 open question (b)): every fallible step — reading the
// old config, looking up its enrollment, generating the new keypair, and
// serializing the new binary — happens before either the registry or the
// binary file is actually touched, so a failure anywhere in that
// preparation leaves both untouched. The final two writes (file, then
// registry) can't be made atomic across two independent files with plain
// I/O; if the binary write succeeds and the registry save then fails, the
// error names both paths so the operator can reconcile by hand.
func runModCli(cmd *cobra.Command, args []string) error {
	reg, err := registry.Load(modCliCfgPath)
	if err != nil {
		return err
	}

	oldImage, err := os.ReadFile(modCliBinPath)
	if err != nil {
		return err
	}
	oldCfg, err := patch.Read(oldImage)
	if err != nil {
		return err
	}

	rec, ok := reg.Lookup(oldCfg.ClientPubKey)
	if !ok {
		return fmt.Errorf("no enrollment record for %s", pgconfig.EncodePubKey(oldCfg.ClientPubKey))
	}

	newKey, err := pgcrypto.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generate new client keypair: %w", err)
	}
	var newPub, newPri [32]byte
	copy(newPub[:], newKey.Public)
	copy(newPri[:], newKey.Private)

	newCfg := oldCfg
	newCfg.ClientPubKey = newPub
	newCfg.ClientPriKey = newPri

	newImage, err := patch.Write(oldImage, newCfg)
	if err != nil {
		return err
	}

	newRec := &registry.Record{Name: rec.Name, PubKey: newPub, Remote: rec.Remote, Hash: rec.Hash}

	if err := os.WriteFile(modCliBinPath, newImage, 0o755); err != nil {
		return err
	}
	reg.Remove(oldCfg.ClientPubKey)
	reg.Insert(newRec)
	if err := reg.Save(); err != nil {
		return fmt.Errorf("binary %s was rekeyed but registry save failed, reconcile manually: %w", modCliBinPath, err)
	}

	log.Info().
		Str("name", rec.Name).
		Str("old_pubkey", pgconfig.EncodePubKey(oldCfg.ClientPubKey)).
		Str("new_pubkey", pgconfig.EncodePubKey(newPub)).
		Msg("rekeyed client")
	return nil
}
