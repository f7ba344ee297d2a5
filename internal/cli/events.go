package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/promptgate/promptgate/internal/audit"
)

var eventsLast int

var severityStyles = map[string]lipgloss.Style{
	audit.SeverityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	audit.SeverityWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	audit.SeverityInfo:     lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent security events",
	RunE:  eventsCommand,
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLast, "last", 20, "Number of events to show")
	rootCmd.AddCommand(eventsCmd)
}

func eventsCommand(cmd *cobra.Command, args []string) error {
	var payload struct {
		Events []audit.Event `json:"events"`
	}
	url := fmt.Sprintf("%s/api/events?limit=%d", serverURL, eventsLast)
	if err := getJSON(url, &payload); err != nil {
		return err
	}

	if len(payload.Events) == 0 {
		fmt.Println("No security events recorded.")
		return nil
	}

	fmt.Println(headerStyle.Render("Recent Security Events"))
	for _, ev := range payload.Events {
		style, ok := severityStyles[ev.Severity]
		if !ok {
			style = lipgloss.NewStyle()
		}
		line := fmt.Sprintf("%s  %-18s risk=%.2f", ev.Timestamp.Format("15:04:05"), ev.EventType, ev.RiskScore)
		if ev.AttackType != "" {
			line += "  " + ev.AttackType
		}
		fmt.Println("  " + style.Render(line))
	}
	return nil
}
