package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fieldhub.org/internal/audit"
	"fieldhub.org/internal/ids"
	"fieldhub.org/internal/workflow"
)

var _ workflow.Store = (*Store)(nil)

func (s *Store) CreateItem(ctx context.Context, item workflow.Item, event audit.Event) (workflow.Item, audit.Event, error) {
	if s.db == nil {
		return workflow.Item{}, audit.Event{}, errors.New("database connection unavailable")
	}
	if err := audit.Validate(event); err != nil {
		return workflow.Item{}, audit.Event{}, err
	}
	payloadJSON, err := json.Marshal(item.Payload)
	if err != nil {
		return workflow.Item{}, audit.Event{}, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Item{}, audit.Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into workflow_items
			(id, family, status, ops_area, created_by, payload, rejection_note, completed_at, cancelled_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at, updated_at
	`, item.ID, string(item.Family), string(item.Status), item.OpsArea, item.CreatedBy,
		payloadJSON, nullIfEmpty(item.RejectionNote), item.CompletedAt, item.CancelledAt)
	if err := row.Scan(&item.CreatedAt, &item.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return workflow.Item{}, audit.Event{}, workflow.ErrConflict
		}
		return workflow.Item{}, audit.Event{}, err
	}

	stored, err := insertEvent(ctx, tx, event)
	if err != nil {
		return workflow.Item{}, audit.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Item{}, audit.Event{}, err
	}
	return item, stored, nil
}

func (s *Store) GetItem(ctx context.Context, family workflow.Family, id string) (workflow.Item, error) {
	if s.db == nil {
		return workflow.Item{}, errors.New("database connection unavailable")
	}
	return scanItem(s.db.QueryRowContext(ctx, `
		select id, family, status, ops_area, created_by, created_at, updated_at,
		       payload, rejection_note, completed_at, cancelled_at
		from workflow_items
		where family = $1 and id = $2
	`, string(family), id))
}

func (s *Store) ListItems(ctx context.Context, filter workflow.ListFilter) ([]workflow.Item, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		where []string
		args  []any
		idx   = 1
	)
	if filter.Family != "" {
		where = append(where, fmt.Sprintf("family = $%d", idx))
		args = append(args, string(filter.Family))
		idx++
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, string(filter.Status))
		idx++
	}
	if filter.OpsArea != "" {
		where = append(where, fmt.Sprintf("ops_area = $%d", idx))
		args = append(args, filter.OpsArea)
		idx++
	}
	if filter.CreatedBy != "" {
		where = append(where, fmt.Sprintf("created_by = $%d", idx))
		args = append(args, filter.CreatedBy)
		idx++
	}
	query := `
		select id, family, status, ops_area, created_by, created_at, updated_at,
		       payload, rejection_note, completed_at, cancelled_at
		from workflow_items`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by created_at desc"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []workflow.Item
	for rows.Next() {
		item, err := scanItemRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateItemCAS(ctx context.Context, item workflow.Item, expected workflow.Status, event audit.Event) (workflow.Item, audit.Event, error) {
	if s.db == nil {
		return workflow.Item{}, audit.Event{}, errors.New("database connection unavailable")
	}
	if err := audit.Validate(event); err != nil {
		return workflow.Item{}, audit.Event{}, err
	}
	payloadJSON, err := json.Marshal(item.Payload)
	if err != nil {
		return workflow.Item{}, audit.Event{}, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Item{}, audit.Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// The status predicate is the compare-and-swap: a concurrent transition
	// that committed first leaves zero rows here.
	res, err := tx.ExecContext(ctx, `
		update workflow_items
		set status = $1, ops_area = $2, payload = $3, rejection_note = $4,
		    completed_at = $5, cancelled_at = $6, updated_at = now()
		where family = $7 and id = $8 and status = $9
	`, string(item.Status), item.OpsArea, payloadJSON, nullIfEmpty(item.RejectionNote),
		item.CompletedAt, item.CancelledAt, string(item.Family), item.ID, string(expected))
	if err != nil {
		return workflow.Item{}, audit.Event{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return workflow.Item{}, audit.Event{}, err
	}
	if aff == 0 {
		// Zero rows means either the item is gone or the status moved.
		var exists int
		err := tx.QueryRowContext(ctx, `
			select 1 from workflow_items where family = $1 and id = $2
		`, string(item.Family), item.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return workflow.Item{}, audit.Event{}, workflow.ErrNotFound
		}
		if err != nil {
			return workflow.Item{}, audit.Event{}, err
		}
		return workflow.Item{}, audit.Event{}, workflow.ErrConflict
	}

	stored, err := insertEvent(ctx, tx, event)
	if err != nil {
		return workflow.Item{}, audit.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Item{}, audit.Event{}, err
	}
	return item, stored, nil
}

func (s *Store) AppendEvent(ctx context.Context, event audit.Event) (audit.Event, error) {
	if s.db == nil {
		return audit.Event{}, errors.New("database connection unavailable")
	}
	if err := audit.Validate(event); err != nil {
		return audit.Event{}, err
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `
		select 1 from workflow_items where family = $1 and id = $2
	`, event.Family, event.ItemID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Event{}, workflow.ErrNotFound
	}
	if err != nil {
		return audit.Event{}, err
	}
	return insertEvent(ctx, s.db, event)
}

func (s *Store) ListEvents(ctx context.Context, family workflow.Family, itemID string) ([]audit.Event, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, family, item_id, event_type, actor_user_id,
		       coalesce(event_notes, ''), old_values, new_values, created_at
		from workflow_events
		where family = $1 and item_id = $2
		order by created_at asc, seq asc
	`, string(family), itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e      audit.Event
			rawOld []byte
			rawNew []byte
		)
		if err := rows.Scan(&e.ID, &e.Family, &e.ItemID, &e.Type, &e.ActorID, &e.Note, &rawOld, &rawNew, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(rawOld) > 0 {
			if err := json.Unmarshal(rawOld, &e.OldValues); err != nil {
				return nil, fmt.Errorf("decode old_values: %w", err)
			}
		}
		if len(rawNew) > 0 {
			if err := json.Unmarshal(rawNew, &e.NewValues); err != nil {
				return nil, fmt.Errorf("decode new_values: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

type execQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertEvent(ctx context.Context, q execQueryer, e audit.Event) (audit.Event, error) {
	e.ID = ids.New()
	var oldJSON, newJSON []byte
	var err error
	if len(e.OldValues) > 0 {
		if oldJSON, err = json.Marshal(e.OldValues); err != nil {
			return audit.Event{}, fmt.Errorf("marshal old_values: %w", err)
		}
	}
	if len(e.NewValues) > 0 {
		if newJSON, err = json.Marshal(e.NewValues); err != nil {
			return audit.Event{}, fmt.Errorf("marshal new_values: %w", err)
		}
	}
	row := q.QueryRowContext(ctx, `
		insert into workflow_events
			(id, family, item_id, event_type, actor_user_id, event_notes, old_values, new_values)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at
	`, e.ID, e.Family, e.ItemID, string(e.Type), e.ActorID, nullIfEmpty(e.Note), oldJSON, newJSON)
	if err := row.Scan(&e.CreatedAt); err != nil {
		return audit.Event{}, err
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row *sql.Row) (workflow.Item, error) {
	item, err := scanItemRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Item{}, workflow.ErrNotFound
	}
	return item, err
}

func scanItemRow(row rowScanner) (workflow.Item, error) {
	var (
		item       workflow.Item
		family     string
		status     string
		rawPayload []byte
		rejection  sql.NullString
		completed  sql.NullTime
		cancelled  sql.NullTime
	)
	err := row.Scan(&item.ID, &family, &status, &item.OpsArea, &item.CreatedBy,
		&item.CreatedAt, &item.UpdatedAt, &rawPayload, &rejection, &completed, &cancelled)
	if err != nil {
		return workflow.Item{}, err
	}
	item.Family = workflow.Family(family)
	item.Status = workflow.Status(status)
	if len(rawPayload) > 0 {
		if err := json.Unmarshal(rawPayload, &item.Payload); err != nil {
			return workflow.Item{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	if rejection.Valid {
		item.RejectionNote = rejection.String
	}
	if completed.Valid {
		t := completed.Time
		item.CompletedAt = &t
	}
	if cancelled.Valid {
		t := cancelled.Time
		item.CancelledAt = &t
	}
	return item, nil
}
