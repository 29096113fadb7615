package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRouteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Inspect the gateway's registered routes",
	}
	cmd.AddCommand(newRouteListCmd())
	return cmd
}

func newRouteListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all registered routes in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/admin/routes", gatewayAddr)
			var routes []map[string]interface{}
			if err := getJSON(url, &routes); err != nil {
				return err
			}
			printResult(routes)
			return nil
		},
	}
}
