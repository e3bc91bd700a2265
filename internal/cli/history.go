package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/me/mem/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit     int
		offset    int
		submitter string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived measurement runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			if submitter != "" {
				q.Set("submitter", submitter)
			}

			resp, err := client.Get("/api/v1/history?" + q.Encode())
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}

			var runs []*history.Run
			if err := json.Unmarshal(resp.Data, &runs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(runs) == 0 {
				fmt.Println("No archived runs.")
				return nil
			}

			fmt.Printf("%-14s  %-14s  %-16s  %-8s  %s\n", "ID", "HANDLE", "SUBMITTER", "STATUS", "DATA")
			for _, run := range runs {
				fmt.Printf("%-14s  %-14s  %-16s  %-8s  %s\n",
					run.ID, run.Handle, run.Submitter, run.Status, run.DataPath)
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Printf("\n(%d of %d shown)\n", len(runs), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")
	cmd.Flags().StringVar(&submitter, "submitter", "", "Only list runs from this submitter")
	return cmd
}
