package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/promptgate/promptgate/internal/pipeline"
	"github.com/promptgate/promptgate/internal/server"
)

var (
	chatSessionID string
	chatIdentity  string
)

var (
	safeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	riskStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send a message through the gateway",
	Long: `Send a single message, or start an interactive session when no message
is given.

Examples:
  promptgate chat "What is the capital of France?"
  promptgate chat --session my-session --identity alice`,
	RunE: chatCommand,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Session ID (new session when empty)")
	chatCmd.Flags().StringVar(&chatIdentity, "identity", "", "Caller identity for rate limiting")
	rootCmd.AddCommand(chatCmd)
}

func chatCommand(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return sendMessage(strings.Join(args, " "))
	}

	// Interactive mode
	fmt.Println(dimStyle.Render("Interactive session. Type 'exit' to quit."))
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := sendMessage(line); err != nil {
			fmt.Println(blockedStyle.Render("error: " + err.Error()))
		}
	}
	return scanner.Err()
}

func sendMessage(message string) error {
	body, err := json.Marshal(server.ChatRequest{
		Message:   message,
		SessionID: chatSessionID,
		Identity:  chatIdentity,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Post(serverURL+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		var errResp server.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("request rejected (status %d)", resp.StatusCode)
		}
		fmt.Println(blockedStyle.Render("DENIED ") + errResp.Message)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var out pipeline.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	// Keep the session sticky across an interactive run.
	if chatSessionID == "" {
		chatSessionID = out.SessionID
	}

	status := safeStyle.Render("SAFE")
	if out.Blocked {
		status = blockedStyle.Render("BLOCKED")
	}
	fmt.Printf("%s %s\n", status, riskStyle.Render(fmt.Sprintf("risk=%.2f", out.RiskScore)))
	fmt.Println(out.Message)
	if len(out.SecurityAlerts) > 0 {
		fmt.Println(dimStyle.Render("alerts: " + strings.Join(out.SecurityAlerts, ", ")))
	}
	return nil
}
