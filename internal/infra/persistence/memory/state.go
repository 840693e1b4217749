package memory

import (
	"context"
	"sort"
	"time"

	"aquacore/pkg/domain"
)

func cloneState(s domain.DailyAssignmentState) domain.DailyAssignmentState {
	if s.Sources != nil {
		s.Sources = cloneMap(s.Sources)
	}
	if s.ConfidenceScores != nil {
		s.ConfidenceScores = cloneMap(s.ConfidenceScores)
	}
	s.Flags = append([]domain.QualityFlag(nil), s.Flags...)
	if s.TempC != nil {
		v := *s.TempC
		s.TempC = &v
	}
	if s.ObservedFCR != nil {
		v := *s.ObservedFCR
		s.ObservedFCR = &v
	}
	return s
}

// UpsertDailyState implements domain.StateStore. A row whose content equals
// the stored row is left untouched, keeping its original ComputedAt.
func (s *Store) UpsertDailyState(_ context.Context, state domain.DailyAssignmentState) (domain.UpsertOutcome, error) {
	state.Date = domain.Day(state.Date)
	key := state.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rows[key]
	switch {
	case !ok:
		s.rows[key] = cloneState(state)
		return domain.UpsertCreated, nil
	case existing.SameContent(state):
		return domain.UpsertUnchanged, nil
	default:
		s.rows[key] = cloneState(state)
		return domain.UpsertUpdated, nil
	}
}

// GetDailyState implements domain.StateStore.
func (s *Store) GetDailyState(_ context.Context, assignmentID string, day time.Time) (domain.DailyAssignmentState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[domain.StateKey{AssignmentID: assignmentID, Date: domain.DateKey(day)}]
	if !ok {
		return domain.DailyAssignmentState{}, false, nil
	}
	return cloneState(row), true, nil
}

// ListDailyStates implements domain.StateStore.
func (s *Store) ListDailyStates(_ context.Context, assignmentID string, from, to time.Time) ([]domain.DailyAssignmentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DailyAssignmentState
	for key, row := range s.rows {
		if key.AssignmentID == assignmentID && within(row.Date, from, to) {
			out = append(out, cloneState(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// LatestDailyStateBefore implements domain.StateStore.
func (s *Store) LatestDailyStateBefore(_ context.Context, assignmentID string, day time.Time) (domain.DailyAssignmentState, bool, error) {
	day = domain.Day(day)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best domain.DailyAssignmentState
	found := false
	for key, row := range s.rows {
		if key.AssignmentID != assignmentID || !row.Date.Before(day) {
			continue
		}
		if !found || row.Date.After(best.Date) {
			best, found = row, true
		}
	}
	if !found {
		return domain.DailyAssignmentState{}, false, nil
	}
	return cloneState(best), true, nil
}

// HasTriggerEvent implements domain.TriggerLedger.
func (s *Store) HasTriggerEvent(_ context.Context, dedupKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ledger[dedupKey]
	return ok, nil
}

// RecordTriggerEvent implements domain.TriggerLedger.
func (s *Store) RecordTriggerEvent(_ context.Context, event domain.TriggerEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ledger[event.DedupKey]; ok {
		return false, nil
	}
	s.ledger[event.DedupKey] = event
	s.order = append(s.order, event.DedupKey)
	return true, nil
}

// ListTriggerEvents implements domain.TriggerLedger. An empty batchID lists
// every event.
func (s *Store) ListTriggerEvents(_ context.Context, batchID string) ([]domain.TriggerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TriggerEvent
	for _, key := range s.order {
		ev := s.ledger[key]
		if batchID == "" || ev.BatchID == batchID {
			out = append(out, ev)
		}
	}
	return out, nil
}
