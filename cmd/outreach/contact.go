package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/outreach/internal/model"
)

func stepCommand(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Manage campaign steps",
	}

	var (
		subject     string
		body        string
		bodyFile    string
		delayDays   int
		attachments []string
	)
	add := &cobra.Command{
		Use:   "add <campaign>",
		Short: "Append a step to a campaign sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if bodyFile != "" {
				data, err := os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("reading body: %w", err)
				}
				body = string(data)
			}

			e, err := openEnv(configPath())
			if err != nil {
				return err
			}
			defer e.Close()

			c, err := e.resolveCampaign(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			step, err := e.store.AddStep(cmd.Context(), model.EmailStep{
				CampaignID:  c.ID,
				Subject:     subject,
				Body:        body,
				DelayDays:   delayDays,
				Attachments: attachments,
				Active:      true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s step %d\n", c.Reference, step.StepNumber)
			return nil
		},
	}
	add.Flags().StringVar(&subject, "subject", "", "subject template")
	add.Flags().StringVar(&body, "body", "", "body template")
	add.Flags().StringVar(&bodyFile, "body-file", "", "read the body template from a file")
	add.Flags().IntVar(&delayDays, "delay-days", 0, "days after the previous step")
	add.Flags().StringSliceVar(&attachments, "attach", nil, "attachment path (repeatable)")
	_ = add.MarkFlagRequired("subject")

	cmd.AddCommand(add)
	return cmd
}

func contactCommand(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Manage contacts",
	}

	var (
		contact model.Contact
		fields  map[string]string
	)
	add := &cobra.Command{
		Use:   "add <email>",
		Short: "Add a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(configPath())
			if err != nil {
				return err
			}
			defer e.Close()

			contact.Email = args[0]
			contact.CustomFields = fields
			created, err := e.store.CreateContact(cmd.Context(), contact)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), created.ID)
			return nil
		},
	}
	add.Flags().StringVar(&contact.ListID, "list", "", "contact list ID")
	add.Flags().StringVar(&contact.FirstName, "first-name", "", "first name")
	add.Flags().StringVar(&contact.LastName, "last-name", "", "last name")
	add.Flags().StringVar(&contact.Company, "company", "", "company")
	add.Flags().StringVar(&contact.Title, "title", "", "job title")
	add.Flags().StringToStringVar(&fields, "field", nil, "custom merge field, key=value (repeatable)")

	cmd.AddCommand(add)
	return cmd
}

func enrollCommand(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "enroll <campaign> <email>...",
		Short: "Enroll existing contacts in a campaign",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(configPath())
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			c, err := e.resolveCampaign(ctx, args[0])
			if err != nil {
				return err
			}
			now := time.Now()
			for _, email := range args[1:] {
				contact, err := e.store.FindContactByEmail(ctx, email)
				if err != nil {
					return fmt.Errorf("contact %s: %w", email, err)
				}
				if err := e.store.EnrollContact(ctx, c.ID, contact.ID, now); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s enrolled in %s\n", contact.Email, c.Reference)
			}
			return nil
		},
	}
}
