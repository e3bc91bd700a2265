package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/mem/pkg/model"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream completed measurements as they finish",
		Long:  "Subscribes to the daemon's completion stream and prints one line per finished run. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := flagServer + "/api/v1/sse/completed"
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			resp, err := client.HTTPClient.Do(req)
			if err != nil {
				return fmt.Errorf("connect to completion stream: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("completion stream returned status %d", resp.StatusCode)
			}

			fmt.Println("Watching for completed measurements (Ctrl-C to stop)...")

			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			var event string
			for scanner.Scan() {
				line := scanner.Text()
				switch {
				case strings.HasPrefix(line, "event: "):
					event = strings.TrimPrefix(line, "event: ")
				case strings.HasPrefix(line, "data: ") && event == "completed":
					printOutcome(strings.TrimPrefix(line, "data: "))
					event = ""
				}
			}
			if err := scanner.Err(); err != nil && cmd.Context().Err() == nil {
				return fmt.Errorf("completion stream: %w", err)
			}
			return nil
		},
	}
}

func printOutcome(data string) {
	var outcome model.Outcome
	if err := json.Unmarshal([]byte(data), &outcome); err != nil {
		fmt.Printf("(unparseable event: %v)\n", err)
		return
	}
	line := fmt.Sprintf("%s  %-8s  %s", outcome.CompletedAt.Format("15:04:05"), outcome.Status, outcome.Handle)
	if sub := outcome.Submitter(); sub != "" {
		line += "  " + sub
	}
	if path := outcome.DataPath(); path != "" {
		line += "  " + path
	}
	if outcome.Error != "" {
		line += "  (" + outcome.Error + ")"
	}
	fmt.Println(line)
}
