package graphstore

import (
	"log/slog"
	"time"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/metrics"
)

// HistoryType tags the command that recorded an entry.
type HistoryType string

const (
	HistoryConnect    HistoryType = "connect"
	HistoryDisconnect HistoryType = "disconnect"
	HistoryCreate     HistoryType = "create"
	HistoryUpdate     HistoryType = "update"
	HistoryDelete     HistoryType = "delete"
	HistoryExecute    HistoryType = "execute"

	// HistoryCurrent marks the state that was live when undo first left the
	// tail, so redo can return to it.
	HistoryCurrent HistoryType = "current"
)

// HistoryEntry is an immutable snapshot taken before a command applied.
type HistoryEntry struct {
	Type        HistoryType `json:"type"`
	Timestamp   time.Time   `json:"timestamp"`
	Description string      `json:"description"`
	Snapshot    Snapshot    `json:"snapshot"`
}

// History returns a copy of the retained entries and the current index.
// An index equal to the entry count means the live state is newer than
// every entry.
func (s *Store) History() ([]HistoryEntry, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	for i, e := range s.history {
		out[i] = e
		out[i].Snapshot = e.Snapshot.clone()
	}
	return out, s.historyIndex
}

// saveToHistoryLocked drops the redo tail, records the live state and trims
// the oldest entries beyond the limit.
func (s *Store) saveToHistoryLocked(t HistoryType, description string) {
	s.history = s.history[:s.historyIndex]
	s.appendHistoryLocked(t, description)
	s.historyIndex = len(s.history)
	metrics.HistoryOperations.WithLabelValues("save", "applied").Inc()
}

func (s *Store) appendHistoryLocked(t HistoryType, description string) {
	s.history = append(s.history, HistoryEntry{
		Type:        t,
		Timestamp:   s.now(),
		Description: description,
		Snapshot:    s.snapshotLocked(),
	})
	if over := len(s.history) - s.historyLimit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
		s.historyIndex -= over
		if s.historyIndex < 0 {
			s.historyIndex = 0
		}
	}
}

func (s *Store) canUndoLocked() bool {
	return s.historyIndex > 0
}

func (s *Store) canRedoLocked() bool {
	return s.historyIndex < len(s.history)-1
}

// Undo restores the snapshot before the current one. It is local only: the
// pipeline API is not called, but the restored arrangement is persisted.
// It reports whether anything changed.
func (s *Store) Undo() bool {
	applied := false
	s.update(func() {
		if !s.canUndoLocked() {
			return
		}
		if s.historyIndex == len(s.history) {
			s.appendHistoryLocked(HistoryCurrent, "Current state")
			s.historyIndex = len(s.history) - 1
		}
		entry := s.history[s.historyIndex-1]
		s.restoreLocked(entry.Snapshot)
		s.historyIndex--
		applied = true
		s.logger.Debug("undo",
			slog.String("pipeline_uuid", s.pipelineUUID),
			slog.String("description", entry.Description),
		)
	})
	metrics.HistoryOperations.WithLabelValues("undo", appliedLabel(applied)).Inc()
	return applied
}

// Redo restores the snapshot after the current one.
func (s *Store) Redo() bool {
	applied := false
	s.update(func() {
		if !s.canRedoLocked() {
			return
		}
		entry := s.history[s.historyIndex+1]
		s.restoreLocked(entry.Snapshot)
		s.historyIndex++
		applied = true
		s.logger.Debug("redo",
			slog.String("pipeline_uuid", s.pipelineUUID),
			slog.String("description", entry.Description),
		)
	})
	metrics.HistoryOperations.WithLabelValues("redo", appliedLabel(applied)).Inc()
	return applied
}

func appliedLabel(applied bool) string {
	if applied {
		return "applied"
	}
	return "noop"
}
