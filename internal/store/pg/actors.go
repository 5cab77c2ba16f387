package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fieldhub.org/internal/auth"
	"fieldhub.org/internal/ids"
)

var _ auth.Store = (*Store)(nil)

func (s *Store) CreateActor(ctx context.Context, email, passwordHash string, roles []auth.Role) (auth.Actor, error) {
	if s.db == nil {
		return auth.Actor{}, errors.New("database connection unavailable")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return auth.Actor{}, fmt.Errorf("%w: email is required", auth.ErrInvalidInput)
	}
	roles = auth.NormalizeRoles(roles)
	for _, r := range roles {
		if !auth.ValidRole(r) {
			return auth.Actor{}, fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, r)
		}
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return auth.Actor{}, fmt.Errorf("marshal roles: %w", err)
	}

	var (
		actor    auth.Actor
		rawRoles []byte
	)
	row := s.db.QueryRowContext(ctx, `
		insert into actors (id, email, password_hash, roles, status)
		values ($1, $2, $3, $4, $5)
		returning id, email, password_hash, roles, status, created_at, updated_at
	`, ids.New(), email, passwordHash, rolesJSON, auth.ActorStatusActive)
	if err := row.Scan(&actor.ID, &actor.Email, &actor.PasswordHash, &rawRoles, &actor.Status, &actor.CreatedAt, &actor.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Actor{}, auth.ErrAlreadyExists
		}
		return auth.Actor{}, err
	}
	if err := json.Unmarshal(rawRoles, &actor.Roles); err != nil {
		return auth.Actor{}, fmt.Errorf("decode roles: %w", err)
	}
	return actor, nil
}

func (s *Store) GetActor(ctx context.Context, id string) (auth.Actor, error) {
	if s.db == nil {
		return auth.Actor{}, errors.New("database connection unavailable")
	}
	return s.scanActor(s.db.QueryRowContext(ctx, `
		select id, email, password_hash, roles, status, created_at, updated_at
		from actors
		where id = $1
	`, id))
}

func (s *Store) GetActorByEmail(ctx context.Context, email string) (auth.Actor, error) {
	if s.db == nil {
		return auth.Actor{}, errors.New("database connection unavailable")
	}
	return s.scanActor(s.db.QueryRowContext(ctx, `
		select id, email, password_hash, roles, status, created_at, updated_at
		from actors
		where email = $1
	`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *Store) ListActors(ctx context.Context) ([]auth.Actor, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, email, password_hash, roles, status, created_at, updated_at
		from actors
		order by email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []auth.Actor
	for rows.Next() {
		var (
			actor    auth.Actor
			rawRoles []byte
		)
		if err := rows.Scan(&actor.ID, &actor.Email, &actor.PasswordHash, &rawRoles, &actor.Status, &actor.CreatedAt, &actor.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rawRoles, &actor.Roles); err != nil {
			return nil, err
		}
		actors = append(actors, actor)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return actors, nil
}

func (s *Store) SetActorRoles(ctx context.Context, id string, roles []auth.Role) (auth.Actor, error) {
	if s.db == nil {
		return auth.Actor{}, errors.New("database connection unavailable")
	}
	roles = auth.NormalizeRoles(roles)
	for _, r := range roles {
		if !auth.ValidRole(r) {
			return auth.Actor{}, fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, r)
		}
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return auth.Actor{}, fmt.Errorf("marshal roles: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		update actors set roles = $2, updated_at = now() where id = $1
	`, id, rolesJSON)
	if err != nil {
		return auth.Actor{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return auth.Actor{}, err
	}
	if aff == 0 {
		return auth.Actor{}, auth.ErrNotFound
	}
	return s.GetActor(ctx, id)
}

func (s *Store) SetActorStatus(ctx context.Context, id, status string) (auth.Actor, error) {
	if s.db == nil {
		return auth.Actor{}, errors.New("database connection unavailable")
	}
	if status != auth.ActorStatusActive && status != auth.ActorStatusDisabled {
		return auth.Actor{}, fmt.Errorf("%w: unknown status %q", auth.ErrInvalidInput, status)
	}
	res, err := s.db.ExecContext(ctx, `
		update actors set status = $2, updated_at = now() where id = $1
	`, id, status)
	if err != nil {
		return auth.Actor{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return auth.Actor{}, err
	}
	if aff == 0 {
		return auth.Actor{}, auth.ErrNotFound
	}
	return s.GetActor(ctx, id)
}

func (s *Store) AreaAssignments(ctx context.Context, actorID string) ([]auth.AreaAssignment, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select actor_id, ops_area, created_at
		from actor_area_assignments
		where actor_id = $1
		order by ops_area
	`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []auth.AreaAssignment
	for rows.Next() {
		var a auth.AreaAssignment
		if err := rows.Scan(&a.ActorID, &a.OpsArea, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *Store) HubAssignments(ctx context.Context, actorID string) ([]auth.HubAssignment, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select actor_id, hub, created_at
		from actor_hub_assignments
		where actor_id = $1
		order by hub
	`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []auth.HubAssignment
	for rows.Next() {
		var a auth.HubAssignment
		if err := rows.Scan(&a.ActorID, &a.Hub, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *Store) AssignArea(ctx context.Context, actorID, opsArea string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	opsArea = strings.TrimSpace(opsArea)
	if opsArea == "" {
		return fmt.Errorf("%w: ops area is required", auth.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into actor_area_assignments (actor_id, ops_area)
		values ($1, $2)
		on conflict (actor_id, ops_area) do nothing
	`, actorID, opsArea)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return auth.ErrNotFound
	}
	return err
}

func (s *Store) RevokeArea(ctx context.Context, actorID, opsArea string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from actor_area_assignments
		where actor_id = $1 and ops_area = $2
	`, actorID, strings.TrimSpace(opsArea))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) AssignHub(ctx context.Context, actorID, hub string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	hub = strings.TrimSpace(hub)
	if hub == "" {
		return fmt.Errorf("%w: hub is required", auth.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into actor_hub_assignments (actor_id, hub)
		values ($1, $2)
		on conflict (actor_id, hub) do nothing
	`, actorID, hub)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return auth.ErrNotFound
	}
	return err
}

func (s *Store) RevokeHub(ctx context.Context, actorID, hub string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from actor_hub_assignments
		where actor_id = $1 and hub = $2
	`, actorID, strings.TrimSpace(hub))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) scanActor(row *sql.Row) (auth.Actor, error) {
	var (
		actor    auth.Actor
		rawRoles []byte
	)
	err := row.Scan(&actor.ID, &actor.Email, &actor.PasswordHash, &rawRoles, &actor.Status, &actor.CreatedAt, &actor.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Actor{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Actor{}, err
	}
	if err := json.Unmarshal(rawRoles, &actor.Roles); err != nil {
		return auth.Actor{}, fmt.Errorf("decode roles: %w", err)
	}
	return actor, nil
}
