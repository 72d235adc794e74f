package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nhle/outreach/internal/model"
)

func main() {
	// A missing .env is normal; OUTREACH_* variables may come from the shell.
	_ = godotenv.Load()

	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "outreach",
		Short:         "Email sequencing and delivery worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "path to the YAML config file")

	cfgPath := func() string { return configPath }
	rootCmd.AddCommand(
		runCommand(cfgPath),
		workerCommand(cfgPath),
		campaignCommand(cfgPath),
		stepCommand(cfgPath),
		contactCommand(cfgPath),
		enrollCommand(cfgPath),
		suppressCommand(cfgPath),
		reportCommand(cfgPath),
		credentialCommand(),
	)
	return rootCmd
}
