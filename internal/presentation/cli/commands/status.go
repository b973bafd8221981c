package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotedesk/quotedesk/internal/presentation/cli/output"
)

// SyncStatusView is the status surface rendered by the status command.
type SyncStatusView struct {
	State        string `json:"state"`
	Online       bool   `json:"online"`
	Syncing      bool   `json:"syncing"`
	PendingCount int    `json:"pending_count"`
	FailedCount  int    `json:"failed_count"`
	LastSyncedAt string `json:"last_synced_at,omitempty"`
	RemoteURL    string `json:"remote_url"`
	DatabasePath string `json:"database_path"`
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Long: `Display the synchronization status of the local workspace.

This includes:
  • Connectivity to the remote store
  • Pending operations waiting to sync
  • Dead-lettered operations that exhausted their retries
  • The time of the last successful sync

Use --check to probe the remote store before reporting.`,
		Example: `  # Show sync status
  quotedesk status

  # Probe the remote store first
  quotedesk status --check

  # Get status as JSON for scripting
  quotedesk status -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(check)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "probe the remote store before reporting")

	return cmd
}

func runStatus(check bool) error {
	formatter := GetFormatter()
	container := GetContainer()
	if container == nil {
		return fmt.Errorf("application not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if check {
		container.Monitor().ProbeNow(ctx)
	}

	status, err := container.Engine().Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync status: %w", err)
	}

	view := SyncStatusView{
		Online:       status.IsOnline,
		Syncing:      status.IsSyncing,
		PendingCount: status.PendingCount,
		FailedCount:  status.FailedCount,
		RemoteURL:    container.Config().Remote.BaseURL,
		DatabasePath: container.Config().Storage.DatabasePath,
	}
	if !status.LastSyncedAt.IsZero() {
		view.LastSyncedAt = status.LastSyncedAt.Format(time.RFC3339)
	}
	view.State = statusState(view)

	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(view)
	}
	return printStatusText(formatter, view)
}

// statusState collapses the snapshot into a single word for the header line.
func statusState(view SyncStatusView) string {
	switch {
	case view.Syncing:
		return "syncing"
	case view.FailedCount > 0:
		return "attention"
	case !view.Online:
		return "offline"
	case view.PendingCount > 0:
		return "pending"
	default:
		return "synced"
	}
}

func printStatusText(formatter *output.Formatter, view SyncStatusView) error {
	formatter.Header("QuoteDesk Sync Status")
	formatter.Println("")

	formatter.Println("  %s %s", formatter.Dim("State:"), stateIndicator(formatter, view.State))
	formatter.Println("  %s %s", formatter.Dim("Remote:"), view.RemoteURL)
	formatter.Println("  %s %s", formatter.Dim("Database:"), view.DatabasePath)
	formatter.Println("")

	if view.Online {
		formatter.Success("Online")
	} else {
		formatter.Warning("Offline - changes are stored locally and will sync later")
	}

	if view.PendingCount == 1 {
		formatter.Println("  1 change pending sync")
	} else {
		formatter.Println("  %d changes pending sync", view.PendingCount)
	}

	if view.FailedCount > 0 {
		formatter.Error("%d operations need attention (see 'quotedesk queue failed')", view.FailedCount)
	}

	if view.LastSyncedAt != "" {
		formatter.Println("  %s %s", formatter.Dim("Last synced:"), view.LastSyncedAt)
	} else {
		formatter.Println("  %s never", formatter.Dim("Last synced:"))
	}

	return nil
}

// stateIndicator returns a colored state label.
func stateIndicator(formatter *output.Formatter, state string) string {
	var color output.Color
	switch state {
	case "synced":
		color = output.ColorGreen
	case "syncing", "pending":
		color = output.ColorCyan
	case "offline":
		color = output.ColorYellow
	case "attention":
		color = output.ColorRed
	default:
		color = output.ColorDim
	}
	return formatter.Colorize("●", color) + " " + formatter.Colorize(state, color)
}
