// Command platformctl is the operator CLI for the platform: it talks to the
// gateway, eventbus-worker, and workflow-worker admin surfaces over HTTP,
// the same way an operator's dashboard or runbook script would.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	gatewayAddr  string
	eventbusAddr string
	workflowAddr string
	outputFormat string
	authToken    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "platformctl",
		Short: "Operate the gateway, event bus, and workflow orchestrator",
	}

	rootCmd.PersistentFlags().StringVar(&gatewayAddr, "gateway-addr", envOr("PLATFORMCTL_GATEWAY_ADDR", "http://localhost:9090"), "gateway admin surface base URL")
	rootCmd.PersistentFlags().StringVar(&eventbusAddr, "eventbus-addr", envOr("PLATFORMCTL_EVENTBUS_ADDR", "http://localhost:8081"), "eventbus-worker admin surface base URL")
	rootCmd.PersistentFlags().StringVar(&workflowAddr, "workflow-addr", envOr("PLATFORMCTL_WORKFLOW_ADDR", "http://localhost:8082"), "workflow-worker admin surface base URL")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", envOr("PLATFORMCTL_TOKEN", ""), "bearer token for the admin surfaces' JWT auth")

	rootCmd.AddCommand(newOutboxCmd())
	rootCmd.AddCommand(newWorkflowCmd())
	rootCmd.AddCommand(newRouteCmd())
	rootCmd.AddCommand(newHealthCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
