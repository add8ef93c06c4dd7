package cache

import (
	"sort"
	"time"

	"github.com/dennisdiepolder/monti/wallboard/internal/types"
)

// CallRegistry maps callID to the calls currently in progress.
// It is not safe for concurrent use; State's owner serializes access.
type CallRegistry struct {
	calls map[string]*types.CallRecord
}

// NewCallRegistry creates an empty call registry
func NewCallRegistry() *CallRegistry {
	return &CallRegistry{
		calls: make(map[string]*types.CallRecord),
	}
}

// Get returns the live record for callID
func (r *CallRegistry) Get(callID string) (*types.CallRecord, bool) {
	rec, ok := r.calls[callID]
	return rec, ok
}

// Put stores a new record, replacing nothing: an existing record wins
func (r *CallRegistry) Put(rec *types.CallRecord) bool {
	if _, exists := r.calls[rec.CallID]; exists {
		return false
	}
	r.calls[rec.CallID] = rec
	return true
}

// Remove deletes and returns the record for callID
func (r *CallRegistry) Remove(callID string) (*types.CallRecord, bool) {
	rec, ok := r.calls[callID]
	if ok {
		delete(r.calls, callID)
	}
	return rec, ok
}

// Size returns the number of live calls
func (r *CallRegistry) Size() int {
	return len(r.calls)
}

// StartedBefore returns copies of the records that started before cutoff,
// oldest first
func (r *CallRegistry) StartedBefore(cutoff time.Time) []types.CallRecord {
	var stale []types.CallRecord
	for _, rec := range r.calls {
		if rec.StartedAt.Before(cutoff) {
			stale = append(stale, *rec)
		}
	}
	sortRecords(stale)
	return stale
}

// All returns copies of every live record, oldest first
func (r *CallRegistry) All() []types.CallRecord {
	out := make([]types.CallRecord, 0, len(r.calls))
	for _, rec := range r.calls {
		out = append(out, *rec)
	}
	sortRecords(out)
	return out
}

// Live returns the snapshot view of every live call, oldest first
func (r *CallRegistry) Live() []types.LiveCall {
	records := r.All()
	live := make([]types.LiveCall, 0, len(records))
	for _, rec := range records {
		live = append(live, types.LiveCall{
			CallID:    rec.CallID,
			Direction: rec.Direction,
			AgentID:   rec.AgentID,
			StartedAt: rec.StartedAt,
			Phase:     rec.Phase,
		})
	}
	return live
}

func sortRecords(records []types.CallRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].CallID < records[j].CallID
		}
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}
