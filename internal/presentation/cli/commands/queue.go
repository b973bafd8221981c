package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotedesk/quotedesk/internal/domain/syncop"
	"github.com/quotedesk/quotedesk/internal/presentation/cli/output"
)

// OperationView is a queued operation flattened for display.
type OperationView struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	EnqueuedAt string `json:"enqueued_at"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
}

// NewQueueCmd creates the queue command group.
func NewQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the sync queue",
		Long: `Inspect and manage the durable operation queue.

Pending operations are delivered in enqueue order when the remote store is
reachable. Operations that exhaust their retries move to the dead-letter
list and no longer block the queue.`,
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueFailedCmd())
	cmd.AddCommand(newQueueClearCmd())
	cmd.AddCommand(newQueueClearFailedCmd())

	return cmd
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pending operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(false)
		},
	}
}

func newQueueFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "List dead-lettered operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(true)
		},
	}
}

func newQueueClearCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard all pending operations",
		Long: `Discard every pending operation without delivering it.

Local records keep their unsynced edits; only the queued deliveries are
dropped. Run 'quotedesk repair' afterwards to rebuild the queue from the
cache.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueClear(force, false)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")

	return cmd
}

func newQueueClearFailedCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear-failed",
		Short: "Discard the dead-letter list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueClear(force, true)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")

	return cmd
}

func runQueueList(failed bool) error {
	formatter := GetFormatter()
	container := GetContainer()
	if container == nil {
		return fmt.Errorf("application not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		ops []*syncop.Operation
		err error
	)
	if failed {
		ops, err = container.Engine().Queue().Failed(ctx)
	} else {
		ops, err = container.Engine().Queue().Pending(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to list operations: %w", err)
	}

	views := make([]OperationView, 0, len(ops))
	for _, op := range ops {
		views = append(views, operationView(op))
	}

	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(views)
	}

	if len(views) == 0 {
		if failed {
			formatter.Success("No failed operations")
		} else {
			formatter.Success("Queue is empty")
		}
		return nil
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.ID,
			v.Kind,
			v.EntityType + "/" + v.EntityID,
			fmt.Sprintf("%d", v.RetryCount),
			v.EnqueuedAt,
			truncateString(v.LastError, 40),
		})
	}

	return formatter.Table(output.TableData{
		Columns: []output.TableColumn{
			{Header: "ID"},
			{Header: "KIND"},
			{Header: "ENTITY"},
			{Header: "RETRIES"},
			{Header: "ENQUEUED"},
			{Header: "LAST ERROR"},
		},
		Rows: rows,
	})
}

func runQueueClear(force, failed bool) error {
	formatter := GetFormatter()
	container := GetContainer()
	if container == nil {
		return fmt.Errorf("application not initialized")
	}

	what := "pending operations"
	if failed {
		what = "the dead-letter list"
	}

	if !force && formatter.Format() != output.FormatJSON {
		formatter.Warning("This discards %s permanently.", what)
		formatter.Print("Continue? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			formatter.Println("Aborted")
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		removed int
		err     error
	)
	if failed {
		removed, err = container.Engine().Queue().ClearFailed(ctx)
	} else {
		removed, err = container.Engine().Queue().Clear(ctx)
	}
	if err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(map[string]int{"removed": removed})
	}

	formatter.Success("Removed %d operations", removed)
	return nil
}

// operationView flattens an operation for display.
func operationView(op *syncop.Operation) OperationView {
	return OperationView{
		ID:         op.ID,
		Kind:       string(op.Kind),
		EntityType: string(op.EntityType),
		EntityID:   op.EntityID,
		EnqueuedAt: op.EnqueuedAt.Format(time.RFC3339),
		RetryCount: op.RetryCount,
		LastError:  op.LastError,
	}
}

// truncateString shortens s to maxLen, appending "..." when it fits.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
