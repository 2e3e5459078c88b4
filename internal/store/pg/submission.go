package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tramita.org/internal/submission"
)

var _ submission.Store = (*submissionStore)(nil)

// Submissions returns the ledger store.
func (s *Store) Submissions() submission.Store { return &submissionStore{s.db} }

type submissionStore struct{ db *sql.DB }

const submissionColumns = `id, kind, version, actor_id, actor_name, actor_contact, payload, status, result, error, dedupe_key, created_at, updated_at`

func (st *submissionStore) Insert(ctx context.Context, sub *submission.Submission) error {
	payload, err := json.Marshal(sub.Payload)
	if err != nil {
		return err
	}
	_, err = st.db.ExecContext(ctx, `
		insert into submissions(id, kind, version, actor_id, actor_name, actor_contact, payload, status, dedupe_key, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, sub.ID, sub.Kind, sub.Version, sub.Actor.ID, sub.Actor.Name, sub.Actor.Contact, payload, string(sub.Status), sub.DedupeKey, sub.CreatedAt, sub.UpdatedAt)
	if isUniqueViolation(err) {
		return submission.ErrDuplicate
	}
	return err
}

func (st *submissionStore) Get(ctx context.Context, id string) (*submission.Submission, error) {
	return scanSubmission(st.db.QueryRowContext(ctx,
		`select `+submissionColumns+` from submissions where id=$1`, id))
}

func (st *submissionStore) List(ctx context.Context, f submission.Filter) ([]*submission.Submission, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Kind != "" {
		where = append(where, "kind = "+arg(f.Kind))
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = "+arg(f.ActorID))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	q := `select ` + submissionColumns + ` from submissions`
	if len(where) > 0 {
		q += " where " + strings.Join(where, " and ")
	}
	q += " order by created_at desc, id desc limit " + arg(f.Limit) + " offset " + arg(f.Offset)

	rows, err := st.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*submission.Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (st *submissionStore) FindByDedupeKey(ctx context.Context, kind, key string) (*submission.Submission, error) {
	return scanSubmission(st.db.QueryRowContext(ctx, `
		select `+submissionColumns+` from submissions
		where kind=$1 and dedupe_key=$2 and status <> 'error'
		limit 1
	`, kind, key))
}

// UpdateStatus is the ledger's compare-and-set: the status guard in the where
// clause decides the race, and zero matched rows is read back to tell a
// missing row from a lost race.
func (st *submissionStore) UpdateStatus(ctx context.Context, id string, from, to submission.Status, result map[string]any, errMsg string, now time.Time) (*submission.Submission, error) {
	var resultJSON any
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		resultJSON = data
	}
	sub, err := scanSubmission(st.db.QueryRowContext(ctx, `
		update submissions
		set status=$3, result=$4, error=$5, updated_at=$6
		where id=$1 and status=$2
		returning `+submissionColumns,
		id, string(from), string(to), resultJSON, errMsg, now))
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, submission.ErrNotFound) {
		return nil, err
	}
	// Guard failed: distinguish unknown id from stale expectation.
	if _, gerr := st.Get(ctx, id); gerr != nil {
		return nil, gerr
	}
	return nil, submission.ErrStaleTransition
}

func scanSubmission(row rowScanner) (*submission.Submission, error) {
	var sub submission.Submission
	var status string
	var payload, result []byte
	err := row.Scan(&sub.ID, &sub.Kind, &sub.Version, &sub.Actor.ID, &sub.Actor.Name, &sub.Actor.Contact, &payload, &status, &result, &sub.Error, &sub.DedupeKey, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, submission.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.Status = submission.Status(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &sub.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &sub.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return &sub, nil
}
