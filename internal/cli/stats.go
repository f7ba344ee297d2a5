package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/promptgate/promptgate/internal/pipeline"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show gateway request statistics",
	RunE:  statsCommand,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func statsCommand(cmd *cobra.Command, args []string) error {
	var stats pipeline.Stats
	if err := getJSON(serverURL+"/api/stats", &stats); err != nil {
		return err
	}

	fmt.Println(headerStyle.Render("Gateway Statistics"))
	fmt.Printf("  Total requests:  %d\n", stats.TotalRequests)
	fmt.Printf("  Successful:      %d (%.1f%%)\n", stats.SuccessfulRequests, stats.SuccessRate)
	fmt.Printf("  Blocked inputs:  %d\n", stats.BlockedInputs)
	fmt.Printf("  Blocked outputs: %d\n", stats.BlockedOutputs)
	fmt.Printf("  Block rate:      %.1f%%\n", stats.BlockRate)
	fmt.Printf("  Active sessions: %d\n", stats.ActiveSessions)
	return nil
}

func getJSON(url string, v any) error {
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
