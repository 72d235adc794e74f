package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nhle/outreach/internal/model"
)

// policyFlags are the sending-policy options of a campaign.
type policyFlags struct {
	listID      string
	windowStart string
	windowEnd   string
	days        string
	timezone    string
	delaySec    int
	dailyCap    int
	jitterMin   int
}

func bindPolicyFlags(fs *pflag.FlagSet, p *policyFlags) {
	fs.StringVar(&p.listID, "list", "", "contact list ID")
	fs.StringVar(&p.windowStart, "window-start", "09:00", "start of the sending window (HH:MM)")
	fs.StringVar(&p.windowEnd, "window-end", "17:00", "end of the sending window (HH:MM)")
	fs.StringVar(&p.days, "days", model.DefaultWeekdays.String(), "allowed weekdays, e.g. mon,tue,wed")
	fs.StringVar(&p.timezone, "timezone", "", "IANA zone of the sending window (default: local)")
	fs.IntVar(&p.delaySec, "delay", 0, "minimum seconds between two sends")
	fs.IntVar(&p.dailyCap, "daily-cap", 0, "maximum sends per day, 0 for no cap")
	fs.IntVar(&p.jitterMin, "jitter", 0, "random minutes added to each scheduled send")
}

func (p policyFlags) apply(c *model.Campaign) error {
	days, err := model.ParseWeekdays(p.days)
	if err != nil {
		return err
	}
	if p.timezone != "" {
		if _, err := time.LoadLocation(p.timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", p.timezone, err)
		}
	}
	c.ListID = p.listID
	c.WindowStart = p.windowStart
	c.WindowEnd = p.windowEnd
	c.AllowedDays = days
	c.Timezone = p.timezone
	c.InterEmailDelaySec = p.delaySec
	c.DailyCap = p.dailyCap
	c.JitterMinutes = p.jitterMin
	return nil
}

func campaignCommand(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Manage campaigns",
	}
	cmd.AddCommand(
		campaignCreateCommand(configPath),
		campaignStatusCommand(configPath, "activate", model.CampaignActive),
		campaignStatusCommand(configPath, "pause", model.CampaignPaused),
		campaignStatusCommand(configPath, "complete", model.CampaignCompleted),
		campaignStatusCommand(configPath, "archive", model.CampaignArchived),
		campaignListCommand(configPath),
	)
	return cmd
}

func campaignCreateCommand(configPath func() string) *cobra.Command {
	var policy policyFlags

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a draft campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(configPath())
			if err != nil {
				return err
			}
			defer e.Close()

			c := model.Campaign{Name: args[0]}
			if err := policy.apply(&c); err != nil {
				return err
			}
			created, err := e.store.CreateCampaign(cmd.Context(), c, e.cfg.Campaign.ReferencePrefix)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", created.Reference, created.ID)
			return nil
		},
	}
	bindPolicyFlags(cmd.Flags(), &policy)
	return cmd
}

func campaignStatusCommand(
	configPath func() string,
	verb string,
	status model.CampaignStatus,
) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id|reference>",
		Short: fmt.Sprintf("Set a campaign to %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(configPath())
			if err != nil {
				return err
			}
			defer e.Close()

			c, err := e.resolveCampaign(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if c.Status.IsTerminal() && !status.IsTerminal() {
				return fmt.Errorf("campaign %s is %s", c.Reference, c.Status)
			}
			if status == model.CampaignActive {
				steps, err := e.store.GetSteps(cmd.Context(), c.ID)
				if err != nil {
					return err
				}
				if len(steps) == 0 {
					return fmt.Errorf("campaign %s has no steps", c.Reference)
				}
			}
			if err := e.store.SetCampaignStatus(cmd.Context(), c.ID, status); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", c.Reference, status)
			return nil
		},
	}
}

func campaignListCommand(configPath func() string) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(configPath())
			if err != nil {
				return err
			}
			defer e.Close()

			var filter *model.CampaignStatus
			if statusFilter != "" {
				st := model.CampaignStatus(strings.ToLower(statusFilter))
				filter = &st
			}
			campaigns, err := e.store.ListCampaigns(cmd.Context(), filter)
			if err != nil {
				return err
			}

			t := table.New().Headers("REFERENCE", "NAME", "STATUS", "WINDOW", "DAYS", "CAP")
			for _, c := range campaigns {
				capText := "-"
				if c.DailyCap > 0 {
					capText = strconv.Itoa(c.DailyCap)
				}
				t.Row(c.Reference, c.Name, string(c.Status),
					c.WindowStart+"-"+c.WindowEnd, c.AllowedDays.String(), capText)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "only list campaigns in this status")
	return cmd
}
