package launchstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLStore keeps launch state in lti_launch_states. Take is a single
// DELETE ... RETURNING statement, which both sqlite (>= 3.35) and postgres run
// atomically.
type SQLStore struct {
	DB *sql.DB

	// Now overrides the clock (tests).
	Now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{DB: db} }

func (s *SQLStore) Put(ctx context.Context, st LaunchState, ttl time.Duration) error {
	st, err := prepare(st, ttl, nowOr(s.Now))
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO lti_launch_states
		  (state, client_id, deployment_id, issuer, nonce, lti_message_hint, source_ip, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		st.State, st.ClientID, st.DeploymentID, st.Issuer, st.Nonce, st.LTIMessageHint, st.SourceIP,
		st.CreatedAt.Unix(), st.ExpiresAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("launchstate: put: %w", err)
	}
	return nil
}

func (s *SQLStore) Take(ctx context.Context, state string) (LaunchState, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return LaunchState{}, ErrNotFound
	}
	var (
		st                 LaunchState
		created, expiresAt int64
	)
	err := s.DB.QueryRowContext(ctx, `
		DELETE FROM lti_launch_states WHERE state=$1
		RETURNING state, client_id, deployment_id, issuer, nonce, lti_message_hint, source_ip, created_at, expires_at`,
		state).
		Scan(&st.State, &st.ClientID, &st.DeploymentID, &st.Issuer, &st.Nonce, &st.LTIMessageHint, &st.SourceIP,
			&created, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return LaunchState{}, ErrNotFound
	}
	if err != nil {
		return LaunchState{}, fmt.Errorf("launchstate: take: %w", err)
	}
	st.CreatedAt = time.Unix(created, 0).UTC()
	st.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if st.Expired(nowOr(s.Now)) {
		return LaunchState{}, ErrNotFound
	}
	return st, nil
}

func (s *SQLStore) Purge(ctx context.Context, now time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM lti_launch_states WHERE expires_at <= $1`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("launchstate: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
