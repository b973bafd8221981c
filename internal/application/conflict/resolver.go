// Package conflict reconciles two divergent copies of one versioned record
// into a single resolved state. The resolver is pure: it takes two snapshots
// and returns a resolution; callers persist the result and, unless the remote
// copy won outright, re-queue it for remote propagation.
package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/quotedesk/quotedesk/internal/domain/errors"
	"github.com/quotedesk/quotedesk/internal/domain/record"
)

// Strategy labels how a resolution was reached.
type Strategy string

const (
	// StrategyLocalWins means the local copy was strictly newer and was
	// adopted wholesale.
	StrategyLocalWins Strategy = "local-wins"

	// StrategyRemoteWins means the remote copy was strictly newer and was
	// adopted wholesale. The result needs no remote propagation.
	StrategyRemoteWins Strategy = "remote-wins"

	// StrategyMerged means the timestamps tied and the copies were merged
	// field by field on the remote base.
	StrategyMerged Strategy = "merged"
)

// Resolution is the outcome of reconciling a local and a remote snapshot.
type Resolution struct {
	// Resolved is the record state to adopt going forward. It never aliases
	// either input snapshot.
	Resolved *record.Record

	// Strategy labels which branch of the algorithm produced the result.
	Strategy Strategy

	// ChangeLog holds one human-readable entry per field that actually
	// changed, for audit and debugging.
	ChangeLog []string

	// DroppedLocalFields identifies locally edited line-item positions that
	// were discarded in favor of the remote state during a merge.
	DroppedLocalFields []string
}

// RequiresRemotePropagation reports whether the resolved state still differs
// from what the remote store holds and must be re-enqueued.
func (r *Resolution) RequiresRemotePropagation() bool {
	return r.Strategy != StrategyRemoteWins
}

// Resolver reconciles divergent record copies. The zero value is not usable;
// construct with NewResolver.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a conflict resolver.
func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// NewResolverWithClock creates a resolver with an injected clock for
// deterministic merge timestamps in tests.
func NewResolverWithClock(now func() time.Time) *Resolver {
	return &Resolver{now: now}
}

// Resolve reconciles a local and a remote copy of the same record.
//
// The strictly newer side wins outright. On a timestamp tie the copies are
// merged on the remote base: scalar conflicts keep the remote value, line-item
// slots merge position by position, and workflow stages adopt whichever side
// is further along the progression so a concurrent approval is never
// regressed. The resolved version is always above both inputs so the result
// supersedes either copy.
func (rv *Resolver) Resolve(local, remote *record.Record) (*Resolution, error) {
	if local == nil || remote == nil {
		return nil, errors.NewError(errors.CodeValidation,
			"conflict resolution requires both a local and a remote snapshot", nil)
	}
	if local.ID != remote.ID {
		return nil, errors.NewError(errors.CodeValidation,
			fmt.Sprintf("cannot resolve records with different IDs: %s vs %s", local.ID, remote.ID), nil)
	}

	switch {
	case local.UpdatedAt.After(remote.UpdatedAt):
		resolved := local.Clone()
		resolved.Version = record.MaxVersion(local.Version, remote.Version) + 1
		resolved.SyncedVersion = remote.Version
		return &Resolution{
			Resolved:  resolved,
			Strategy:  StrategyLocalWins,
			ChangeLog: adoptionLog(remote, local, "local"),
		}, nil

	case remote.UpdatedAt.After(local.UpdatedAt):
		resolved := remote.Clone()
		resolved.Version = remote.Version + 1
		resolved.SyncedVersion = remote.Version
		return &Resolution{
			Resolved:  resolved,
			Strategy:  StrategyRemoteWins,
			ChangeLog: adoptionLog(local, remote, "remote"),
		}, nil
	}

	return rv.merge(local, remote), nil
}

// merge handles the equal-timestamp case: a field-level merge based on the
// remote copy.
func (rv *Resolver) merge(local, remote *record.Record) *Resolution {
	resolved := remote.Clone()
	var changeLog []string
	var dropped []string

	// Scalar fields. Remote is authoritative for conflicting values; fields
	// only the local side carries are kept so a local edit to a new field is
	// not lost.
	for _, name := range unionFieldNames(local, remote) {
		lv, lok := fieldValue(local, name)
		rval, rok := fieldValue(remote, name)
		switch {
		case lok && rok && !record.ScalarEqual(lv, rval):
			changeLog = append(changeLog,
				fmt.Sprintf("%s: kept remote value %v, discarded local value %v", name, rval, lv))
		case lok && !rok:
			resolved.SetField(name, lv)
			changeLog = append(changeLog,
				fmt.Sprintf("%s: kept local-only value %v", name, lv))
		}
	}

	// Line-item slots, position by position. Tails beyond the shorter list
	// cannot be compared positionally: extra local entries are kept (and
	// logged) rather than silently dropped, extra remote entries adopted.
	slots := len(local.Items)
	if len(remote.Items) > slots {
		slots = len(remote.Items)
	}
	if slots > 0 {
		items := make([]*record.LineItem, slots)
		for i := 0; i < slots; i++ {
			var li, ri *record.LineItem
			if i < len(local.Items) {
				li = local.Items[i]
			}
			if i < len(remote.Items) {
				ri = remote.Items[i]
			}
			switch {
			case i >= len(remote.Items):
				items[i] = cloneItem(li)
				if li != nil {
					changeLog = append(changeLog,
						fmt.Sprintf("line item %d: kept local entry %s past end of remote list", i, li.SKU))
				}
			case i >= len(local.Items):
				items[i] = cloneItem(ri)
				if ri != nil {
					changeLog = append(changeLog,
						fmt.Sprintf("line item %d: adopted remote entry %s past end of local list", i, ri.SKU))
				}
			case li != nil && ri == nil:
				items[i] = cloneItem(li)
				changeLog = append(changeLog,
					fmt.Sprintf("line item %d: kept local entry %s, remote slot empty", i, li.SKU))
			case li != nil && !li.Equal(ri):
				items[i] = cloneItem(ri)
				dropped = append(dropped, fmt.Sprintf("items[%d]", i))
				changeLog = append(changeLog,
					fmt.Sprintf("line item %d: kept remote entry %s, discarded local entry %s", i, ri.SKU, li.SKU))
			default:
				items[i] = cloneItem(ri)
			}
		}
		resolved.Items = items
	}

	// Workflow stage advances, never regresses.
	if local.Stage.Rank() > remote.Stage.Rank() {
		resolved.Stage = local.Stage
		changeLog = append(changeLog,
			fmt.Sprintf("stage: kept local stage %s, further along than remote %s", local.Stage, remote.Stage))
	}

	resolved.Version = record.MaxVersion(local.Version, remote.Version) + 1
	resolved.SyncedVersion = remote.Version
	resolved.UpdatedAt = rv.now()

	return &Resolution{
		Resolved:           resolved,
		Strategy:           StrategyMerged,
		ChangeLog:          changeLog,
		DroppedLocalFields: dropped,
	}
}

// adoptionLog describes what changed when one side was adopted wholesale: one
// entry per field whose value the losing copy held differently.
func adoptionLog(loser, winner *record.Record, winnerLabel string) []string {
	var log []string
	for _, name := range unionFieldNames(loser, winner) {
		lv, lok := fieldValue(loser, name)
		wv, wok := fieldValue(winner, name)
		switch {
		case lok && wok && !record.ScalarEqual(lv, wv):
			log = append(log, fmt.Sprintf("%s: adopted %s value %v over %v", name, winnerLabel, wv, lv))
		case !lok && wok:
			log = append(log, fmt.Sprintf("%s: adopted %s value %v", name, winnerLabel, wv))
		case lok && !wok:
			log = append(log, fmt.Sprintf("%s: dropped value %v absent from %s copy", name, lv, winnerLabel))
		}
	}
	if !itemsEqual(loser.Items, winner.Items) {
		log = append(log, fmt.Sprintf("line items: adopted %s list (%d entries)", winnerLabel, len(winner.Items)))
	}
	if loser.Stage != winner.Stage {
		log = append(log, fmt.Sprintf("stage: adopted %s stage %s over %s", winnerLabel, winner.Stage, loser.Stage))
	}
	return log
}

func unionFieldNames(a, b *record.Record) []string {
	seen := make(map[string]struct{}, len(a.Fields)+len(b.Fields))
	for name := range a.Fields {
		seen[name] = struct{}{}
	}
	for name := range b.Fields {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fieldValue(r *record.Record, name string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[name]
	return v, ok
}

func cloneItem(li *record.LineItem) *record.LineItem {
	if li == nil {
		return nil
	}
	cp := *li
	return &cp
}

func itemsEqual(a, b []*record.LineItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
