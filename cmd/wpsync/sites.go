package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/wpsync/internal/syncer"
	"github.com/MarcoPoloResearchLab/wpsync/internal/wordpress"
	"github.com/spf13/cobra"
)

var errMissingSecret = errors.New("--secret is required")

func newSitesCommand() *cobra.Command {
	sitesCmd := &cobra.Command{
		Use:   "sites",
		Short: "Manage WordPress site profiles",
	}
	sitesCmd.AddCommand(newSitesAddCommand(), newSitesListCommand(), newSitesRemoveCommand(), newSitesRotateCommand())
	return sitesCmd
}

func newSitesAddCommand() *cobra.Command {
	var (
		baseURL     string
		principal   string
		secret      string
		displayName string
		verify      bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a site and its application password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(secret) == "" {
				return errMissingSecret
			}
			app, err := openApplication()
			if err != nil {
				return err
			}
			defer app.Close()

			normalized := wordpress.NormalizeBaseURL(baseURL)
			if verify {
				doer, err := app.transportClient()
				if err != nil {
					return err
				}
				user, err := wordpress.NewClient(doer, app.logger).VerifyCredentials(cmd.Context(), wordpress.Site{
					BaseURL:   normalized,
					Principal: principal,
					Secret:    secret,
				})
				if err != nil {
					return fmt.Errorf("verify credentials for %s: %w", normalized, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "authenticated as %s\n", user.Name)
			}

			id, err := app.ledger.AddSiteProfile(cmd.Context(), normalized, principal, secret, displayName)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "site %d added (%s)\n", id, normalized)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "Site URL or REST base, e.g. https://example.com/wp-json/wp/v2")
	cmd.Flags().StringVar(&principal, "user", "", "WordPress user name")
	cmd.Flags().StringVar(&secret, "secret", "", "Application password")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name")
	cmd.Flags().BoolVar(&verify, "verify", false, "Check the credentials against /users/me before saving")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSitesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List site profiles, most recently used first",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication()
			if err != nil {
				return err
			}
			defer app.Close()

			profiles, err := app.ledger.ListSiteProfiles(cmd.Context())
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tNAME\tURL\tUSER\tLAST USED")
			for _, profile := range profiles {
				fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\n",
					profile.ID, profile.DisplayName, profile.BaseURL, profile.Principal, profile.LastUsedAt.Format(time.DateTime))
			}
			return writer.Flush()
		},
	}
}

func newSitesRemoveCommand() *cobra.Command {
	var siteID int64
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete a site profile and its import records",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication()
			if err != nil {
				return err
			}
			defer app.Close()

			removed, err := app.ledger.DeleteSiteProfile(cmd.Context(), siteID)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("site %d not found", siteID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "site %d removed\n", siteID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&siteID, "id", 0, "Site profile id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newSitesRotateCommand() *cobra.Command {
	var (
		siteID int64
		secret string
		verify bool
	)
	cmd := &cobra.Command{
		Use:   "rotate-secret",
		Short: "Replace the application password of a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(secret) == "" {
				return errMissingSecret
			}
			app, err := openApplication()
			if err != nil {
				return err
			}
			defer app.Close()

			if verify {
				profile, err := app.ledger.GetSiteProfile(cmd.Context(), siteID)
				if err != nil {
					return err
				}
				site := syncer.SiteFromProfile(profile)
				site.Secret = secret
				doer, err := app.transportClient()
				if err != nil {
					return err
				}
				if _, err := wordpress.NewClient(doer, app.logger).VerifyCredentials(cmd.Context(), site); err != nil {
					return fmt.Errorf("verify new secret for site %d: %w", siteID, err)
				}
			}

			if err := app.ledger.RotateSecret(cmd.Context(), siteID, secret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "secret rotated for site %d\n", siteID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&siteID, "id", 0, "Site profile id")
	cmd.Flags().StringVar(&secret, "secret", "", "New application password")
	cmd.Flags().BoolVar(&verify, "verify", false, "Check the new secret before saving")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
