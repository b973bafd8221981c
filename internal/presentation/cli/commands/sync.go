package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotedesk/quotedesk/internal/presentation/cli/output"
)

// SyncResultView is the result surface rendered by the sync command.
type SyncResultView struct {
	Synced       bool   `json:"synced"`
	PendingCount int    `json:"pending_count"`
	FailedCount  int    `json:"failed_count"`
	Error        string `json:"error,omitempty"`
}

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Force an immediate queue drain",
		Long: `Drain the pending operation queue immediately instead of waiting for
the next connectivity event.

Fails fast when the remote store is unreachable; queued changes stay
durable and sync automatically once connectivity returns.`,
		Example: `  # Push pending changes now
  quotedesk sync

  # Allow a longer window for a large backlog
  quotedesk sync --timeout 5m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "maximum time to wait for the drain")

	return cmd
}

func runSync(timeout time.Duration) error {
	formatter := GetFormatter()
	container := GetContainer()
	if container == nil {
		return fmt.Errorf("application not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// The monitor starts offline; give the forced drain an honest answer.
	container.Monitor().ProbeNow(ctx)

	jsonOut := formatter.Format() == output.FormatJSON

	var spinner *output.Spinner
	if !jsonOut {
		spinner = output.NewSpinner("Syncing pending changes...",
			output.WithSpinnerColor(output.IsColorSupported()))
		spinner.Start()
	}

	syncErr := container.Engine().ForceSyncNow(ctx)
	status, statusErr := container.Engine().Status(ctx)

	if jsonOut {
		view := SyncResultView{Synced: syncErr == nil}
		if syncErr != nil {
			view.Error = syncErr.Error()
		}
		if statusErr == nil {
			view.PendingCount = status.PendingCount
			view.FailedCount = status.FailedCount
		}
		if err := formatter.JSON(view); err != nil {
			return err
		}
		return syncErr
	}

	if syncErr != nil {
		spinner.StopWithError("Sync failed: " + syncErr.Error())
		return syncErr
	}

	if statusErr == nil && status.PendingCount > 0 {
		spinner.StopWithSuccess(fmt.Sprintf("Sync complete, %d operations still pending", status.PendingCount))
	} else {
		spinner.StopWithSuccess("All changes synced")
	}
	if statusErr == nil && status.FailedCount > 0 {
		formatter.Warning("%d operations need attention (see 'quotedesk queue failed')", status.FailedCount)
	}
	return nil
}
