package main

import (
	"github.com/spf13/cobra"
)

type serviceHealth struct {
	Service string `json:"service"`
	Addr    string `json:"addr"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the health of the gateway, event bus, and workflow worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := []struct {
				name string
				addr string
			}{
				{"gateway", gatewayAddr},
				{"eventbus-worker", eventbusAddr},
				{"workflow-worker", workflowAddr},
			}

			results := make([]serviceHealth, 0, len(targets))
			for _, t := range targets {
				h := serviceHealth{Service: t.name, Addr: t.addr, Status: "ok"}
				if err := getJSON(t.addr+"/healthz", nil); err != nil {
					h.Status = "down"
					h.Error = err.Error()
				}
				results = append(results, h)
			}

			printResult(results)
			return nil
		},
	}
}
