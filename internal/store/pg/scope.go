package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fieldhub.org/internal/scope"
)

var _ scope.Directory = (*Store)(nil)

func (s *Store) HubFor(ctx context.Context, opsArea string) (string, error) {
	if s.db == nil {
		return "", errors.New("database connection unavailable")
	}
	var hub string
	err := s.db.QueryRowContext(ctx, `
		select hub from scope_bindings where ops_area = $1
	`, strings.TrimSpace(opsArea)).Scan(&hub)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", scope.ErrUnconfiguredArea, opsArea)
	}
	if err != nil {
		return "", err
	}
	return hub, nil
}

func (s *Store) AllOpsAreas(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select ops_area from scope_bindings order by ops_area
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var areas []string
	for rows.Next() {
		var area string
		if err := rows.Scan(&area); err != nil {
			return nil, err
		}
		areas = append(areas, area)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return areas, nil
}

func (s *Store) ListBindings(ctx context.Context) ([]scope.Binding, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select ops_area, hub, updated_at from scope_bindings order by ops_area
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []scope.Binding
	for rows.Next() {
		var b scope.Binding
		if err := rows.Scan(&b.OpsArea, &b.Hub, &b.UpdatedAt); err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bindings, nil
}

func (s *Store) PutBinding(ctx context.Context, opsArea, hub string) (scope.Binding, error) {
	if s.db == nil {
		return scope.Binding{}, errors.New("database connection unavailable")
	}
	opsArea = strings.TrimSpace(opsArea)
	hub = strings.TrimSpace(hub)
	if opsArea == "" || hub == "" {
		return scope.Binding{}, errors.New("scope: ops_area and hub are required")
	}
	var b scope.Binding
	err := s.db.QueryRowContext(ctx, `
		insert into scope_bindings (ops_area, hub, updated_at)
		values ($1, $2, now())
		on conflict (ops_area) do update
		set hub = excluded.hub, updated_at = now()
		returning ops_area, hub, updated_at
	`, opsArea, hub).Scan(&b.OpsArea, &b.Hub, &b.UpdatedAt)
	if err != nil {
		return scope.Binding{}, err
	}
	return b, nil
}

func (s *Store) DeleteBinding(ctx context.Context, opsArea string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from scope_bindings where ops_area = $1
	`, strings.TrimSpace(opsArea))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return scope.ErrNotFound
	}
	return nil
}
