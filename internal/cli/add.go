package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/me/mem/pkg/model"
)

func newAddCmd() *cobra.Command {
	var repeat int

	cmd := &cobra.Command{
		Use:   "add <measurement.yaml> [more.yaml ...]",
		Short: "Queue measurements from YAML definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []*model.Measurement
			for _, path := range args {
				rec, err := loadMeasurement(path)
				if err != nil {
					return err
				}
				for i := 0; i < repeat; i++ {
					records = append(records, rec)
				}
			}

			resp, err := client.Post("/api/v1/queue", map[string]any{
				"measurements": records,
			})
			if err != nil {
				return fmt.Errorf("add measurements: %w", err)
			}

			var data struct {
				Added []int `json:"added"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Printf("Queued %d measurement(s) at position(s) %v\n", len(data.Added), data.Added)
			return nil
		},
	}

	cmd.Flags().IntVar(&repeat, "repeat", 1, "Queue each definition this many times")
	return cmd
}

// loadMeasurement parses one YAML measurement definition. YAML is decoded
// through an any-map and re-marshalled as JSON so the definition file uses
// the same field names as the API.
func loadMeasurement(path string) (*model.Measurement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	jsonData, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", path, err)
	}
	var rec model.Measurement
	if err := json.Unmarshal(jsonData, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &rec, nil
}

// normalizeYAML converts map[any]any values (produced by YAML for nested
// maps) into map[string]any so they can be marshalled as JSON.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
