package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOutboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and retry transactional outbox dead letters",
	}
	cmd.AddCommand(newOutboxListDLQCmd())
	cmd.AddCommand(newOutboxRetryCmd())
	return cmd
}

func newOutboxListDLQCmd() *cobra.Command {
	var limit int
	var eventType string

	cmd := &cobra.Command{
		Use:   "list-dlq",
		Short: "List dead-lettered outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/admin/outbox/dead-letters?limit=%d", eventbusAddr, limit)
			if eventType != "" {
				url += "&event_type=" + eventType
			}
			var rows []map[string]interface{}
			if err := getJSON(url, &rows); err != nil {
				return err
			}
			printResult(rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to return")
	cmd.Flags().StringVar(&eventType, "event-type", "", "filter by event type")
	return cmd
}

func newOutboxRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <dead-letter-id>",
		Short: "Requeue a dead-lettered outbox event for redelivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/admin/outbox/dead-letters/%s/retry", eventbusAddr, args[0])
			status, body, err := postJSON(url)
			if err != nil {
				return err
			}
			if status >= 400 {
				return fmt.Errorf("retry failed (%d): %s", status, body)
			}
			fmt.Printf("retry accepted for %s\n", args[0])
			return nil
		},
	}
}
