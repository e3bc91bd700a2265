package cli

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/me/mem/pkg/model"
)

func newQueueCmd() *cobra.Command {
	var submitter string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the measurement queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/queue"
			if submitter != "" {
				path += "?submitter=" + url.QueryEscape(submitter)
			}
			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("query queue: %w", err)
			}

			var data struct {
				Queue []*model.Measurement `json:"queue"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(data.Queue) == 0 {
				fmt.Println("Queue is empty.")
				return nil
			}

			fmt.Printf("%-4s  %-16s  %-6s  %s\n", "POS", "SUBMITTER", "SWEEPS", "OUTPUT")
			for i, rec := range data.Queue {
				out := rec.Output.Filename
				if rec.Output.Directory != "" {
					out = rec.Output.Directory + "/" + out
				}
				fmt.Printf("%-4d  %-16s  %-6d  %s\n", i, rec.Submitter, len(rec.Sweep), out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&submitter, "submitter", "", "Only show measurements from this submitter")
	return cmd
}

func newLenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "len",
		Short: "Show the queue length",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/queue/length")
			if err != nil {
				return fmt.Errorf("query queue length: %w", err)
			}
			var data struct {
				Length int `json:"length"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Println(data.Length)
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <position> [position ...]",
		Short: "Remove measurements from the queue by position",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			positions := make([]int, 0, len(args))
			for _, arg := range args {
				var pos int
				if _, err := fmt.Sscanf(arg, "%d", &pos); err != nil {
					return fmt.Errorf("invalid position %q", arg)
				}
				positions = append(positions, pos)
			}

			resp, err := client.Post("/api/v1/queue/remove", map[string]any{
				"positions": positions,
			})
			if err != nil {
				return fmt.Errorf("remove measurements: %w", err)
			}
			var data struct {
				Removed []int `json:"removed"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if len(data.Removed) == 0 {
				fmt.Println("Nothing removed (positions out of range?).")
				return nil
			}
			fmt.Printf("Removed position(s) %v\n", data.Removed)
			return nil
		},
	}
}

func newCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the measurement currently running",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/current")
			if err != nil {
				return fmt.Errorf("query current run: %w", err)
			}
			var data struct {
				Running     bool               `json:"running"`
				Measurement *model.Measurement `json:"measurement"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if !data.Running {
				fmt.Println("No measurement is running.")
				return nil
			}
			fmt.Printf("Running: submitter=%s sweeps=%d\n",
				data.Measurement.Submitter, len(data.Measurement.Sweep))
			if data.Measurement.StartTime != nil {
				fmt.Printf("Started: %s\n", data.Measurement.StartTime)
			}
			return nil
		},
	}
}
