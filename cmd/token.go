package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joon-park/storyforge/config"
	srv "github.com/joon-park/storyforge/internal/server"
)

func tokenCMD() *cobra.Command {
	var cfgPath string
	var subject string
	var ttl time.Duration

	var token = &cobra.Command{
		Use:   "token",
		Short: "Mint an API token signed with the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			secret, err := srv.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			signed, err := srv.SignJWT(subject, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "operator", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	token.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return token
}
