package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/pgconfig"
	"github.com/portguard/portguard/internal/pgcrypto"
)

var genKeyCfgPath string

var genKeyCmd = &cobra.Command{
	Use:   "gen-key",
	Short: "Populate pubkey/prikey in a server config if absent",
	RunE:  runGenKey,
}

func init() {
	genKeyCmd.Flags().StringVarP(&genKeyCfgPath, "config", "c", "", "server config TOML path")
	genKeyCmd.MarkFlagRequired("config")
	rootCmd.AddCommand(genKeyCmd)
}

func runGenKey(cmd *cobra.Command, args []string) error {
	file, err := pgconfig.LoadServerConfig(genKeyCfgPath)
	if err != nil {
		return err
	}

	if file.PubKey != "" && file.PriKey != "" {
		log.Info().Str("config", genKeyCfgPath).Msg("server config already has a keypair; leaving it untouched")
		return nil
	}

	key, err := pgcrypto.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generate server keypair: %w", err)
	}

	var pub, pri [32]byte
	copy(pub[:], key.Public)
	copy(pri[:], key.Private)
	file.PubKey = pgconfig.EncodePubKey(pub)
	file.PriKey = pgconfig.EncodePubKey(pri)

	if err := pgconfig.SaveServerConfig(genKeyCfgPath, file); err != nil {
		return err
	}
	log.Info().Str("config", genKeyCfgPath).Str("pubkey", file.PubKey).Msg("generated server keypair")
	return nil
}
