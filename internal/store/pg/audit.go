package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"tramita.org/internal/audit"
)

var _ audit.Store = (*auditStore)(nil)

// Audits returns the append-only audit store.
func (s *Store) Audits() audit.Store { return &auditStore{s.db} }

type auditStore struct{ db *sql.DB }

func (st *auditStore) Append(ctx context.Context, e *audit.Event) error {
	var metadata any
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		metadata = data
	}
	_, err := st.db.ExecContext(ctx, `
		insert into audit_events(id, occurred_at, actor_id, actor_name, action, kind, submission_id, metadata)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),$8)
	`, e.ID, e.OccurredAt, e.ActorID, e.ActorName, e.Action, e.Kind, e.SubmissionID, metadata)
	return err
}

func (st *auditStore) Query(ctx context.Context, q audit.Query) ([]*audit.Event, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if q.ActorID != "" {
		where = append(where, "actor_id = "+arg(q.ActorID))
	}
	if q.Action != "" {
		where = append(where, "action = "+arg(q.Action))
	}
	if q.Kind != "" {
		where = append(where, "kind = "+arg(q.Kind))
	}
	if q.SubmissionID != "" {
		where = append(where, "submission_id = "+arg(q.SubmissionID))
	}
	if !q.Since.IsZero() {
		where = append(where, "occurred_at >= "+arg(q.Since))
	}
	if !q.Until.IsZero() {
		where = append(where, "occurred_at <= "+arg(q.Until))
	}
	query := `select id, occurred_at, actor_id, actor_name, action, kind, coalesce(submission_id,''), metadata from audit_events`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by occurred_at desc, id desc limit " + arg(q.Limit) + " offset " + arg(q.Offset)

	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*audit.Event, 0)
	for rows.Next() {
		var e audit.Event
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.ActorID, &e.ActorName, &e.Action, &e.Kind, &e.SubmissionID, &metadata); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
