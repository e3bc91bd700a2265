package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [value]",
		Short: "Show or set the fetch counter",
		Long: `Without an argument, prints the current fetch counter.
With an argument, sets it: a positive value allows that many launches,
0 halts launching, and -1 (or "endless") launches without limit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				resp, err := client.Get("/api/v1/fetch")
				if err != nil {
					return fmt.Errorf("query fetch counter: %w", err)
				}
				return printCounter(resp.Data)
			}

			value, err := parseCounter(args[0])
			if err != nil {
				return err
			}
			resp, err := client.Put("/api/v1/fetch", map[string]int{"value": value})
			if err != nil {
				return fmt.Errorf("set fetch counter: %w", err)
			}
			return printCounter(resp.Data)
		},
	}
}

func parseCounter(s string) (int, error) {
	if s == "endless" {
		return -1, nil
	}
	value, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid counter value %q (integer or \"endless\")", s)
	}
	return value, nil
}

func printCounter(raw json.RawMessage) error {
	var data struct {
		Counter int `json:"counter"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if data.Counter == -1 {
		fmt.Println("Fetch counter: endless")
	} else {
		fmt.Printf("Fetch counter: %d\n", data.Counter)
	}
	return nil
}
