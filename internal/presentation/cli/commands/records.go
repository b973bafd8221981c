package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotedesk/quotedesk/internal/application/ports"
	"github.com/quotedesk/quotedesk/internal/domain/record"
	"github.com/quotedesk/quotedesk/internal/presentation/cli/output"
)

// RecordView is a domain record flattened for display.
type RecordView struct {
	ID            string         `json:"id"`
	EntityType    string         `json:"entity_type"`
	Version       int64          `json:"version"`
	SyncedVersion int64          `json:"synced_version"`
	UpdatedAt     string         `json:"updated_at"`
	Stage         string         `json:"stage,omitempty"`
	ParentID      string         `json:"parent_id,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// NewRecordsCmd creates the records command group.
func NewRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Browse synced records",
		Long: `Browse the records the sync engine manages.

Listings are served local-first: offline they come from the cache, online
the remote result set is merged over the cached one so local-only records
and unsynced edits stay visible.`,
	}

	cmd.AddCommand(newRecordsListCmd())
	cmd.AddCommand(newRecordsGetCmd())

	return cmd
}

func newRecordsListCmd() *cobra.Command {
	var parentID string
	var limit int

	cmd := &cobra.Command{
		Use:     "list <entity-type>",
		Aliases: []string{"ls"},
		Short:   "List records of a collection",
		Example: `  # List quotes
  quotedesk records list quote

  # List a customer's quotes
  quotedesk records list quote --parent cust-42

  # First ten companies, as JSON
  quotedesk records list company --limit 10 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, err := parseEntityType(args[0])
			if err != nil {
				return err
			}
			return runRecordsList(entityType, parentID, limit)
		},
	}

	cmd.Flags().StringVar(&parentID, "parent", "", "filter by dependency parent ID")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records (0 for unlimited)")

	return cmd
}

func newRecordsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity-type> <id>",
		Short: "Show a single record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, err := parseEntityType(args[0])
			if err != nil {
				return err
			}
			return runRecordsGet(entityType, args[1])
		},
	}
}

func runRecordsList(entityType record.EntityType, parentID string, limit int) error {
	formatter := GetFormatter()
	container := GetContainer()
	if container == nil {
		return fmt.Errorf("application not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var filter *ports.Filter
	if parentID != "" || limit > 0 {
		filter = &ports.Filter{ParentID: parentID, Limit: limit}
	}

	records, err := container.Engine().List(ctx, entityType, filter)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	views := make([]RecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView(rec))
	}

	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(views)
	}

	if len(views) == 0 {
		formatter.Println("No %s records", string(entityType))
		return nil
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.ID,
			fmt.Sprintf("v%d", v.Version),
			syncMarker(v),
			v.Stage,
			v.UpdatedAt,
		})
	}

	return formatter.Table(output.TableData{
		Columns: []output.TableColumn{
			{Header: "ID"},
			{Header: "VERSION"},
			{Header: "SYNC"},
			{Header: "STAGE"},
			{Header: "UPDATED"},
		},
		Rows: rows,
	})
}

func runRecordsGet(entityType record.EntityType, id string) error {
	formatter := GetFormatter()
	container := GetContainer()
	if container == nil {
		return fmt.Errorf("application not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rec, err := container.Engine().Read(ctx, entityType, id)
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}

	view := recordView(rec)
	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(view)
	}

	formatter.Header(string(entityType) + " " + rec.ID)
	formatter.Item("Version", fmt.Sprintf("%d", view.Version))
	formatter.Item("Synced", syncMarker(view))
	formatter.Item("Updated", view.UpdatedAt)
	if view.Stage != "" {
		formatter.Item("Stage", view.Stage)
	}
	if view.ParentID != "" {
		formatter.Item("Parent", view.ParentID)
	}
	for key, value := range view.Fields {
		formatter.Item(key, fmt.Sprintf("%v", value))
	}
	return nil
}

// recordView flattens a record for display.
func recordView(rec *record.Record) RecordView {
	return RecordView{
		ID:            rec.ID,
		EntityType:    string(rec.EntityType),
		Version:       rec.Version,
		SyncedVersion: rec.SyncedVersion,
		UpdatedAt:     rec.UpdatedAt.Format(time.RFC3339),
		Stage:         string(rec.Stage),
		ParentID:      rec.ParentID,
		Fields:        rec.Fields,
	}
}

// syncMarker renders the record's confirmation state: "synced" when the
// remote store confirmed the current version, "pending" otherwise.
func syncMarker(v RecordView) string {
	if v.SyncedVersion == v.Version && v.SyncedVersion > 0 {
		return "synced"
	}
	return "pending"
}

// parseEntityType validates a collection name from the command line.
func parseEntityType(s string) (record.EntityType, error) {
	entityType := record.EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !entityType.Valid() {
		names := make([]string, 0, len(record.AllEntityTypes()))
		for _, et := range record.AllEntityTypes() {
			names = append(names, string(et))
		}
		return "", fmt.Errorf("unknown entity type %q (one of: %s)", s, strings.Join(names, ", "))
	}
	return entityType, nil
}
