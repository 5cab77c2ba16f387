package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"fieldhub.org/internal/ids"
	"fieldhub.org/internal/notify"
)

var _ notify.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, n notify.Notification) (notify.Notification, error) {
	if s.db == nil {
		return notify.Notification{}, errors.New("database connection unavailable")
	}
	n.ActorID = strings.TrimSpace(n.ActorID)
	n.Title = strings.TrimSpace(n.Title)
	n.ID = ids.New()
	n.Read = false
	err := s.db.QueryRowContext(ctx, `
		insert into notifications (id, user_id, title, message, type, link)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, n.ID, n.ActorID, n.Title, n.Message, string(n.Kind), nullIfEmpty(n.Link)).Scan(&n.CreatedAt)
	if err != nil {
		return notify.Notification{}, err
	}
	return n, nil
}

func (s *Store) ListForActor(ctx context.Context, actorID string, unreadOnly bool) ([]notify.Notification, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	query := `
		select id, user_id, title, message, type, coalesce(link, ''), read, created_at
		from notifications
		where user_id = $1`
	if unreadOnly {
		query += ` and not read`
	}
	query += ` order by created_at desc`

	rows, err := s.db.QueryContext(ctx, query, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notify.Notification
	for rows.Next() {
		var n notify.Notification
		if err := rows.Scan(&n.ID, &n.ActorID, &n.Title, &n.Message, &n.Kind, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UnreadCount(ctx context.Context, actorID string) (int, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from notifications where user_id = $1 and not read
	`, actorID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) MarkRead(ctx context.Context, id, actorID string) (notify.Notification, error) {
	if s.db == nil {
		return notify.Notification{}, errors.New("database connection unavailable")
	}
	var owner string
	err := s.db.QueryRowContext(ctx, `
		select user_id from notifications where id = $1
	`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Notification{}, notify.ErrNotFound
	}
	if err != nil {
		return notify.Notification{}, err
	}
	if owner != actorID {
		return notify.Notification{}, notify.ErrNotOwner
	}

	var n notify.Notification
	var link sql.NullString
	err = s.db.QueryRowContext(ctx, `
		update notifications set read = true
		where id = $1
		returning id, user_id, title, message, type, link, read, created_at
	`, id).Scan(&n.ID, &n.ActorID, &n.Title, &n.Message, &n.Kind, &link, &n.Read, &n.CreatedAt)
	if err != nil {
		return notify.Notification{}, err
	}
	if link.Valid {
		n.Link = link.String
	}
	return n, nil
}
