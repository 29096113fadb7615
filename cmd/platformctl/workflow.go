package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect workflow and saga instances",
	}
	cmd.AddCommand(newWorkflowStatusCmd())
	cmd.AddCommand(newSagaStatusCmd())
	return cmd
}

func newSagaStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "saga-status <saga-id>",
		Short: "Show the status of a saga instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/admin/sagas/%s", workflowAddr, args[0])
			var instance map[string]interface{}
			if err := getJSON(url, &instance); err != nil {
				return err
			}
			printResult(instance)
			return nil
		},
	}
}

func newWorkflowStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <instance-id>",
		Short: "Show the status of a workflow or saga instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/admin/workflows/%s", workflowAddr, args[0])
			var instance map[string]interface{}
			if err := getJSON(url, &instance); err != nil {
				return err
			}
			printResult(instance)
			return nil
		},
	}
}
