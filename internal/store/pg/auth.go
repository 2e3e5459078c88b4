package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tramita.org/internal/auth"
)

var _ auth.Store = (*Store)(nil)

func (s *Store) Principals(context.Context) auth.PrincipalStore { return principalStore{s.db} }
func (s *Store) Sessions(context.Context) auth.SessionStore     { return sessionStore{s.db} }

type principalStore struct{ db *sql.DB }

const principalColumns = `id, identity, display_name, roles, superuser, must_change_password, active, password_hash, created_at, updated_at`

func (st principalStore) Create(ctx context.Context, p *auth.Principal) error {
	roles, err := json.Marshal(p.Roles)
	if err != nil {
		return err
	}
	_, err = st.db.ExecContext(ctx, `
		insert into principals(id, identity, display_name, roles, superuser, must_change_password, active, password_hash, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, p.ID, p.Identity, p.DisplayName, roles, p.Superuser, p.MustChangePassword, p.Active, p.PasswordHash, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func (st principalStore) Find(ctx context.Context, id string) (*auth.Principal, error) {
	return scanPrincipal(st.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where id=$1`, id))
}

func (st principalStore) FindByIdentity(ctx context.Context, identity string) (*auth.Principal, error) {
	return scanPrincipal(st.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where identity=$1`, identity))
}

func (st principalStore) List(ctx context.Context) ([]*auth.Principal, error) {
	rows, err := st.db.QueryContext(ctx,
		`select `+principalColumns+` from principals order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (st principalStore) Update(ctx context.Context, p *auth.Principal) error {
	roles, err := json.Marshal(p.Roles)
	if err != nil {
		return err
	}
	res, err := st.db.ExecContext(ctx, `
		update principals
		set display_name=$2, roles=$3, superuser=$4, must_change_password=$5, active=$6, updated_at=$7
		where id=$1
	`, p.ID, p.DisplayName, roles, p.Superuser, p.MustChangePassword, p.Active, p.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (st principalStore) SetPassword(ctx context.Context, id, hash string, mustChange bool) error {
	res, err := st.db.ExecContext(ctx, `
		update principals set password_hash=$2, must_change_password=$3, updated_at=now()
		where id=$1
	`, id, hash, mustChange)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*auth.Principal, error) {
	var p auth.Principal
	var roles []byte
	err := row.Scan(&p.ID, &p.Identity, &p.DisplayName, &roles, &p.Superuser, &p.MustChangePassword, &p.Active, &p.PasswordHash, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &p.Roles); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
	}
	return &p, nil
}

type sessionStore struct{ db *sql.DB }

const sessionColumns = `id, principal_id, ttl_seconds, created_at, last_seen_at, expires_at, revoked_at, remote_addr, user_agent`

func (st sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	_, err := st.db.ExecContext(ctx, `
		insert into sessions(id, principal_id, ttl_seconds, created_at, last_seen_at, expires_at, remote_addr, user_agent)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sess.ID, sess.PrincipalID, int64(sess.TTL.Seconds()), sess.CreatedAt, sess.LastSeenAt, sess.ExpiresAt, sess.RemoteAddr, sess.UserAgent)
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func (st sessionStore) Find(ctx context.Context, id string) (*auth.Session, error) {
	return scanSession(st.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, id))
}

func (st sessionStore) ListByPrincipal(ctx context.Context, principalID string) ([]*auth.Session, error) {
	rows, err := st.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where principal_id=$1 order by created_at desc`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Touch is the session hot path. One conditional update both proves the row
// is still valid and, past the renewal threshold, slides the window. The
// greatest() guard keeps expires_at monotonic under concurrent touches.
func (st sessionStore) Touch(ctx context.Context, id string, now time.Time, renewFraction float64) (*auth.Session, error) {
	return scanSession(st.db.QueryRowContext(ctx, `
		update sessions
		set last_seen_at = $2,
		    expires_at = case
		        when expires_at - $2 < make_interval(secs => ttl_seconds * (1 - $3))
		        then greatest(expires_at, $2 + make_interval(secs => ttl_seconds))
		        else expires_at
		    end
		where id = $1 and revoked_at is null and expires_at > $2
		returning `+sessionColumns,
		id, now, renewFraction))
}

func (st sessionStore) Revoke(ctx context.Context, id string, now time.Time) error {
	// Zero rows means unknown or already revoked; both are fine.
	_, err := st.db.ExecContext(ctx,
		`update sessions set revoked_at=$2 where id=$1 and revoked_at is null`, id, now)
	return err
}

func (st sessionStore) RevokeAllForPrincipal(ctx context.Context, principalID string, now time.Time) error {
	_, err := st.db.ExecContext(ctx,
		`update sessions set revoked_at=$2 where principal_id=$1 and revoked_at is null`, principalID, now)
	return err
}

func (st sessionStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := st.db.ExecContext(ctx, `delete from sessions where expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSession(row rowScanner) (*auth.Session, error) {
	var sess auth.Session
	var ttlSeconds int64
	var revokedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.PrincipalID, &ttlSeconds, &sess.CreatedAt, &sess.LastSeenAt, &sess.ExpiresAt, &revokedAt, &sess.RemoteAddr, &sess.UserAgent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.TTL = time.Duration(ttlSeconds) * time.Second
	if revokedAt.Valid {
		at := revokedAt.Time
		sess.RevokedAt = &at
	}
	return &sess, nil
}
