package pg

import (
	"context"
	"errors"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/session"
)

const sessionColumns = `select id, user_id, user_agent, ip_address, provenance, created_at, updated_at from sessions`

func (s *Store) Create(ctx context.Context, userID string, provenance session.Provenance, meta session.Metadata) (*session.Session, error) {
	sess := &session.Session{
		ID:         newID(),
		UserID:     userID,
		UserAgent:  meta.UserAgent,
		IPAddress:  meta.IPAddress,
		Provenance: provenance,
	}
	err := s.db.QueryRowContext(ctx, `
		insert into sessions (id, user_id, user_agent, ip_address, provenance)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, sess.ID, sess.UserID, sess.UserAgent, sess.IPAddress, string(sess.Provenance)).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return sess, nil
}

func (s *Store) Find(ctx context.Context, id string) (*session.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, sessionColumns+` where id = $1`, id))
	if errors.Is(err, auth.ErrNotFound) {
		return nil, session.ErrNotFound
	}
	return sess, err
}

func (s *Store) ListForUser(ctx context.Context, userID string) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, sessionColumns+`
		where user_id = $1
		order by created_at desc, id desc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Destroy(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where id = $1`, id)
	return err
}

func (s *Store) DestroyForUser(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from sessions where id = $1 and user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return session.ErrNotFound
	}
	return nil
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess       session.Session
		provenance string
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.UserAgent, &sess.IPAddress, &provenance, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	sess.Provenance = session.Provenance(provenance)
	return &sess, nil
}
