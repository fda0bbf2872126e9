package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kawafuchieirin/app-prototype/internal/database"
	"github.com/kawafuchieirin/app-prototype/internal/logging"
)

func newInitTableCmd(load loadFunc) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "init-table",
		Short: "Create the DynamoDB table if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := load()
			if err != nil {
				return err
			}
			logger := logging.New(cmd.ErrOrStderr(), settings.Debug)

			client, err := database.NewClient(cmd.Context(), settings, logger)
			if err != nil {
				return err
			}
			created, err := database.EnsureTable(cmd.Context(), client, settings.DynamoDBTableName, wait)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "created table %s\n", settings.DynamoDBTableName)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "table %s already exists\n", settings.DynamoDBTableName)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "maximum time to wait for the table to become active")
	return cmd
}

func newVersionCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := version
			name := "api"
			if settings, err := load(); err == nil {
				name = settings.AppName
				if v == "" {
					v = settings.AppVersion
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", name, v)
			return nil
		},
	}
}
