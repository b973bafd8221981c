package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotedesk/quotedesk/internal/presentation/cli/output"
)

// RepairResultView is the result surface rendered by the repair command.
type RepairResultView struct {
	Reenqueued int `json:"reenqueued"`
}

// NewRepairCmd creates the repair command.
func NewRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Rebuild the sync queue from the local cache",
		Long: `Recover from systemic sync failures by rebuilding the queue.

The dead-letter list and the pending queue are cleared, then every cached
record the remote store has not confirmed is re-enqueued in dependency
order (parents before children). Use this after a schema migration or a
prolonged outage left the queue in a bad state.`,
		Example: `  # Rebuild the queue, then push it
  quotedesk repair
  quotedesk sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair()
		},
	}

	return cmd
}

func runRepair() error {
	formatter := GetFormatter()
	container := GetContainer()
	if container == nil {
		return fmt.Errorf("application not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	reenqueued, err := container.Engine().Repair(ctx)
	if err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}

	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(RepairResultView{Reenqueued: reenqueued})
	}

	if reenqueued == 0 {
		formatter.Success("Nothing to repair, every record is confirmed remotely")
		return nil
	}
	formatter.Success("Re-enqueued %d operations", reenqueued)
	formatter.Println("  Run %s to push them now", formatter.Bold("quotedesk sync"))
	return nil
}
