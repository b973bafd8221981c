package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotedesk/quotedesk/internal/domain/record"
	"github.com/quotedesk/quotedesk/internal/domain/syncop"
)

// executeCommand executes a cobra command with the given args.
func executeCommand(root *cobra.Command, args ...string) error {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	return root.Execute()
}

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()

	if cmd == nil {
		t.Fatal("NewRootCmd returned nil")
	}

	if cmd.Use != "quotedesk" {
		t.Errorf("expected Use='quotedesk', got %q", cmd.Use)
	}

	// Check key subcommands exist
	wantSubcmds := []string{"version", "status", "sync", "repair", "queue", "records"}
	subcmds := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subcmds[sub.Name()] = true
	}

	for _, want := range wantSubcmds {
		if !subcmds[want] {
			t.Errorf("missing subcommand: %s", want)
		}
	}

	// Check persistent flags
	wantFlags := []string{"config", "output", "verbose"}
	for _, flag := range wantFlags {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag: %s", flag)
		}
	}
}

func TestVersionCmd_NoError(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"basic", []string{"version"}, false},
		{"short", []string{"version", "--short"}, false},
		{"json", []string{"version", "-o", "json"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewRootCmd()
			err := executeCommand(cmd, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewVersionCmd_Structure(t *testing.T) {
	cmd := NewVersionCmd()

	if cmd.Use != "version" {
		t.Errorf("expected Use='version', got %q", cmd.Use)
	}

	if cmd.Flags().Lookup("short") == nil {
		t.Error("missing --short flag")
	}
}

func TestNewStatusCmd_Structure(t *testing.T) {
	cmd := NewStatusCmd()

	if cmd.Use != "status" {
		t.Errorf("expected Use='status', got %q", cmd.Use)
	}

	if cmd.Flags().Lookup("check") == nil {
		t.Error("missing --check flag")
	}
}

func TestNewSyncCmd_Structure(t *testing.T) {
	cmd := NewSyncCmd()

	if cmd.Use != "sync" {
		t.Errorf("expected Use='sync', got %q", cmd.Use)
	}

	if cmd.Flags().Lookup("timeout") == nil {
		t.Error("missing --timeout flag")
	}
}

func TestNewQueueCmd_Structure(t *testing.T) {
	cmd := NewQueueCmd()

	if cmd.Use != "queue" {
		t.Errorf("expected Use='queue', got %q", cmd.Use)
	}

	wantSubcmds := []string{"list", "failed", "clear", "clear-failed"}
	subcmds := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subcmds[sub.Name()] = true
	}
	for _, want := range wantSubcmds {
		if !subcmds[want] {
			t.Errorf("missing subcommand: %s", want)
		}
	}
}

func TestNewRecordsCmd_Structure(t *testing.T) {
	cmd := NewRecordsCmd()

	if cmd.Use != "records" {
		t.Errorf("expected Use='records', got %q", cmd.Use)
	}

	var listCmd *cobra.Command
	for _, sub := range cmd.Commands() {
		if sub.Name() == "list" {
			listCmd = sub
		}
	}
	if listCmd == nil {
		t.Fatal("missing list subcommand")
	}
	if listCmd.Flags().Lookup("parent") == nil {
		t.Error("missing --parent flag")
	}
	if listCmd.Flags().Lookup("limit") == nil {
		t.Error("missing --limit flag")
	}
}

func TestParseEntityType(t *testing.T) {
	tests := []struct {
		input   string
		want    record.EntityType
		wantErr bool
	}{
		{"quote", record.EntityQuote, false},
		{"QUOTE", record.EntityQuote, false},
		{" customer ", record.EntityCustomer, false},
		{"company", record.EntityCompany, false},
		{"invoice", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseEntityType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseEntityType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("parseEntityType(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStatusState(t *testing.T) {
	tests := []struct {
		name string
		view SyncStatusView
		want string
	}{
		{"clean and online", SyncStatusView{Online: true}, "synced"},
		{"drain in progress", SyncStatusView{Online: true, Syncing: true}, "syncing"},
		{"offline with backlog", SyncStatusView{PendingCount: 3}, "offline"},
		{"online with backlog", SyncStatusView{Online: true, PendingCount: 3}, "pending"},
		{"dead-lettered operations", SyncStatusView{Online: true, FailedCount: 1}, "attention"},
		{"syncing outranks failures", SyncStatusView{Online: true, Syncing: true, FailedCount: 1}, "syncing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusState(tt.view); got != tt.want {
				t.Errorf("statusState() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOperationView(t *testing.T) {
	enqueued := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	op := &syncop.Operation{
		ID:         "op-1",
		Kind:       syncop.KindUpdate,
		EntityType: record.EntityQuote,
		EntityID:   "quote-7",
		EnqueuedAt: enqueued,
		RetryCount: 2,
		LastError:  "transport: connection refused",
	}

	v := operationView(op)

	if v.ID != "op-1" || v.Kind != "update" || v.EntityType != "quote" || v.EntityID != "quote-7" {
		t.Errorf("unexpected view: %+v", v)
	}
	if v.EnqueuedAt != "2026-03-10T09:30:00Z" {
		t.Errorf("EnqueuedAt = %q", v.EnqueuedAt)
	}
	if v.RetryCount != 2 || v.LastError == "" {
		t.Errorf("diagnostics lost: %+v", v)
	}
}

func TestRecordView_SyncMarker(t *testing.T) {
	tests := []struct {
		name string
		rec  *record.Record
		want string
	}{
		{
			name: "confirmed",
			rec:  &record.Record{ID: "a", EntityType: record.EntityQuote, Version: 3, SyncedVersion: 3},
			want: "synced",
		},
		{
			name: "unsynced edits",
			rec:  &record.Record{ID: "b", EntityType: record.EntityQuote, Version: 3, SyncedVersion: 2},
			want: "pending",
		},
		{
			name: "never confirmed",
			rec:  &record.Record{ID: "c", EntityType: record.EntityQuote, Version: 1},
			want: "pending",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := syncMarker(recordView(tt.rec)); got != tt.want {
				t.Errorf("syncMarker() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "he..."},
		{"abc", 3, "abc"},
		{"abcd", 3, "abc"},
		{"", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := truncateString(tt.input, tt.maxLen)
			if got != tt.want {
				t.Errorf("truncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestGetFormatterWithoutApp(t *testing.T) {
	// Before initialization the accessor still hands back a usable formatter.
	if GetFormatter() == nil {
		t.Error("GetFormatter() returned nil")
	}
	if GetContainer() != nil {
		t.Error("GetContainer() should be nil before initialization")
	}
}
