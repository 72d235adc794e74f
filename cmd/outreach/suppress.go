package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nhle/outreach/internal/credential"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/report"
	"github.com/nhle/outreach/internal/store"
)

func suppressCommand(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suppress",
		Short: "Manage the suppression list",
	}

	var campaign, reason string
	add := &cobra.Command{
		Use:   "add <email>...",
		Short: "Stop all future sends to addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(configPath())
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			entry := model.SuppressionEntry{
				Scope:  model.ScopeGlobal,
				Source: model.SourceManual,
				Reason: reason,
			}
			if campaign != "" {
				c, err := e.resolveCampaign(ctx, campaign)
				if err != nil {
					return err
				}
				entry.Scope = model.ScopeCampaign
				entry.CampaignID = c.ID
				entry.CampaignRef = c.Reference
			}

			guard := e.guard()
			for _, email := range args {
				entry.Email = email
				added, err := guard.Add(ctx, entry)
				if err != nil {
					return err
				}
				state := "suppressed"
				if !added {
					state = "already suppressed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", model.NormalizeEmail(email), state)
			}
			return nil
		},
	}
	add.Flags().StringVar(&campaign, "campaign", "", "limit the suppression to one campaign")
	add.Flags().StringVar(&reason, "reason", "manual", "reason recorded with the entry")

	list := &cobra.Command{
		Use:   "list",
		Short: "List suppressed addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(configPath())
			if err != nil {
				return err
			}
			defer e.Close()

			entries, err := e.guard().List(cmd.Context())
			if err != nil {
				return err
			}
			t := table.New().Headers("EMAIL", "SCOPE", "SOURCE", "CAMPAIGN", "REASON", "SINCE")
			for _, s := range entries {
				t.Row(s.Email, string(s.Scope), string(s.Source), s.CampaignRef, s.Reason,
					s.CreatedAt.Local().Format(time.DateTime))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func reportCommand(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export delivery reports",
	}

	var (
		out      string
		campaign string
		since    string
	)
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the email log and suppressions to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(configPath())
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			var filter store.LogFilter
			if campaign != "" {
				c, err := e.resolveCampaign(ctx, campaign)
				if err != nil {
					return err
				}
				filter.CampaignID = &c.ID
			}
			if since != "" {
				t, err := time.ParseInLocation(time.DateOnly, since, time.Local)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				filter.Since = &t
			}
			if err := report.New(e.store).SaveAs(ctx, out, filter); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", out)
			return nil
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "outreach-report.xlsx", "output file")
	export.Flags().StringVar(&campaign, "campaign", "", "only include one campaign")
	export.Flags().StringVar(&since, "since", "", "only include entries from this date (YYYY-MM-DD)")

	cmd.AddCommand(export)
	return cmd
}

func credentialCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Store passwords and API keys in the system keyring",
	}

	set := &cobra.Command{
		Use:       "set <key>",
		Short:     "Prompt for a secret and store it",
		Long:      "Known keys: " + strings.Join(credential.Keys, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: credential.Keys,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !credential.IsKnown(name) {
				return fmt.Errorf("unknown credential %q, expected one of %s", name, strings.Join(credential.Keys, ", "))
			}

			var secret string
			err := huh.NewInput().
				Title(name).
				EchoMode(huh.EchoModePassword).
				Value(&secret).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("value must not be empty")
					}
					return nil
				}).
				Run()
			if err != nil {
				return err
			}
			if err := credential.Set(name, strings.TrimSpace(secret)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stored\n", name)
			return nil
		},
	}

	del := &cobra.Command{
		Use:       "delete <key>",
		Short:     "Remove a stored secret",
		Args:      cobra.ExactArgs(1),
		ValidArgs: credential.Keys,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := credential.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}
