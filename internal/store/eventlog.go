package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// AppendStatusEvent appends an applied status event with a monotonically
// increasing per-instance sequence.
func (s *LibSQLStore) AppendStatusEvent(ctx context.Context, ev schema.StatusEvent) error {
	_, err := s.appendStatusEvent(ctx, ev, time.Now().UTC())
	return err
}

func (s *LibSQLStore) appendStatusEvent(ctx context.Context, ev schema.StatusEvent, receivedAt time.Time) (int64, error) {
	if ev.InstanceID == "" || ev.NodeID == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "status event requires instance id and node id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeError("begin tx", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM status_events WHERE instance_id = ?`, ev.InstanceID,
	).Scan(&seq)
	if err != nil {
		return 0, storeError("get next sequence", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO status_events (instance_id, node_id, status, message, event_time, received_at, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.InstanceID, ev.NodeID, string(ev.Status), nullStr(ev.Message), ev.Timestamp.UTC(), receivedAt, seq,
	)
	if err != nil {
		return 0, storeError("insert status event", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeError("commit status event", err)
	}
	return seq, nil
}

// ListStatusEvents returns events for an instance with sequence > since,
// ordered by sequence ASC.
func (s *LibSQLStore) ListStatusEvents(ctx context.Context, instanceID string, since int64) ([]*StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instance_id, node_id, status, message, event_time, received_at, sequence
		 FROM status_events WHERE instance_id = ? AND sequence > ? ORDER BY sequence ASC`,
		instanceID, since,
	)
	if err != nil {
		return nil, storeError("list status events", err)
	}
	defer rows.Close()

	var events []*StoredEvent
	for rows.Next() {
		e := &StoredEvent{}
		var status string
		var message sql.NullString
		if err := rows.Scan(&e.ID, &e.Event.InstanceID, &e.Event.NodeID, &status, &message,
			&e.Event.Timestamp, &e.ReceivedAt, &e.Sequence); err != nil {
			return nil, err
		}
		e.Event.Status = schema.NodeStatus(status)
		e.Event.Message = message.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// EventInstanceIDs returns the distinct instance ids with at least one
// recorded event, sorted.
func (s *LibSQLStore) EventInstanceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT instance_id FROM status_events ORDER BY instance_id`)
	if err != nil {
		return nil, storeError("list event instances", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PruneEvents deletes events received before the cutoff and reports how many
// rows were removed.
func (s *LibSQLStore) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM status_events WHERE received_at < ?`, before.UTC())
	if err != nil {
		return 0, storeError("prune status events", err)
	}
	return res.RowsAffected()
}

// ReplayEvents loads the retained event log for an instance in sequence order.
// Pruning may drop a prefix of the log; any gap after the first retained
// sequence is an error.
func (s *LibSQLStore) ReplayEvents(ctx context.Context, instanceID string) ([]schema.StatusEvent, error) {
	stored, err := s.ListStatusEvents(ctx, instanceID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}
	out := make([]schema.StatusEvent, 0, len(stored))
	for i, e := range stored {
		expected := stored[0].Sequence + int64(i)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in instance %s: expected %d, got %d", instanceID, expected, e.Sequence)
		}
		out = append(out, e.Event)
	}
	return out, nil
}
