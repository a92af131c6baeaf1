package main

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/wpsync/internal/auth"
	"github.com/MarcoPoloResearchLab/wpsync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindLocalFlags(cmd, map[string]string{"server.signing_secret": "signing-secret"}); err != nil {
				return err
			}
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := newTokenIssuer(appConfig)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.Issue(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Operator name recorded in the token")
	cmd.Flags().String("signing-secret", "", "Operator token signing secret (overrides env)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
}
