// ABOUTME: Pending change database operations including the CAS transition.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opsgate/opsgate/internal/models"
)

const timeLayout = time.RFC3339Nano

// CreateChange inserts a new pending change row.
func (s *Store) CreateChange(ctx context.Context, change models.PendingChange) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	if strings.TrimSpace(change.ID) == "" {
		return errors.New("change id is required")
	}
	if change.Kind == "" {
		return errors.New("change kind is required")
	}
	if change.Status == "" {
		return errors.New("change status is required")
	}
	if len(change.CommandPlan) == 0 {
		return errors.New("change command plan is required")
	}
	plan, err := json.Marshal(change.CommandPlan)
	if err != nil {
		return fmt.Errorf("encode command plan: %w", err)
	}
	now := time.Now().UTC()
	createdAt := change.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := change.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO changes (
		id, kind, path, owner, project_dir, service, action, preview, command_plan, status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		change.ID,
		change.Kind,
		nullIfEmpty(change.Path),
		nullIfEmpty(change.Owner),
		nullIfEmpty(change.ProjectDir),
		nullIfEmpty(change.Service),
		nullIfEmpty(string(change.Action)),
		change.Preview,
		string(plan),
		change.Status,
		formatTime(createdAt),
		formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert change %s: %w", change.ID, err)
	}
	return nil
}

// GetChange loads a change by id. An unknown id surfaces as
// *models.NotFoundError.
func (s *Store) GetChange(ctx context.Context, id string) (models.PendingChange, error) {
	if s == nil || s.DB == nil {
		return models.PendingChange{}, errors.New("db store is nil")
	}
	row := s.DB.QueryRowContext(ctx, `SELECT id, kind, path, owner, project_dir, service, action, preview, command_plan, status, created_at, updated_at
		FROM changes WHERE id = ?`, id)
	change, err := scanChangeRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PendingChange{}, &models.NotFoundError{Kind: "change", Name: id}
	}
	return change, err
}

// ListChangesByStatus returns changes in a status, newest first. An empty
// status lists everything.
func (s *Store) ListChangesByStatus(ctx context.Context, status models.ChangeStatus) ([]models.PendingChange, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	query := `SELECT id, kind, path, owner, project_dir, service, action, preview, command_plan, status, created_at, updated_at
		FROM changes`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()
	var out []models.PendingChange
	for rows.Next() {
		change, err := scanChangeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return out, nil
}

// TransitionChange moves a change from one status to another as a
// compare-and-set. It returns false when the record is not in the expected
// from status, so concurrent transition attempts cannot both succeed.
func (s *Store) TransitionChange(ctx context.Context, id string, from, to models.ChangeStatus) (bool, error) {
	if s == nil || s.DB == nil {
		return false, errors.New("db store is nil")
	}
	if strings.TrimSpace(id) == "" {
		return false, errors.New("change id is required")
	}
	if from == "" || to == "" {
		return false, errors.New("change status is required")
	}
	updatedAt := formatTime(time.Now().UTC())
	res, err := s.DB.ExecContext(ctx, `UPDATE changes SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`, to, updatedAt, id, from)
	if err != nil {
		return false, fmt.Errorf("transition change %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected change %s: %w", id, err)
	}
	return affected > 0, nil
}

// SweepExpiredChanges transitions PENDING changes created before cutoff to
// EXPIRED and returns the ids it moved.
func (s *Store) SweepExpiredChanges(ctx context.Context, cutoff time.Time) ([]string, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	pending, err := s.ListChangesByStatus(ctx, models.ChangePending)
	if err != nil {
		return nil, err
	}
	var swept []string
	for _, change := range pending {
		if !change.CreatedAt.Before(cutoff) {
			continue
		}
		ok, err := s.TransitionChange(ctx, change.ID, models.ChangePending, models.ChangeExpired)
		if err != nil {
			return swept, err
		}
		if ok {
			swept = append(swept, change.ID)
		}
	}
	return swept, nil
}

func scanChangeRow(scanner interface{ Scan(dest ...any) error }) (models.PendingChange, error) {
	var change models.PendingChange
	var path sql.NullString
	var owner sql.NullString
	var projectDir sql.NullString
	var service sql.NullString
	var action sql.NullString
	var kind string
	var plan string
	var status string
	var createdAt string
	var updatedAt string
	if err := scanner.Scan(
		&change.ID,
		&kind,
		&path,
		&owner,
		&projectDir,
		&service,
		&action,
		&change.Preview,
		&plan,
		&status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return models.PendingChange{}, err
	}
	change.Kind = models.ChangeKind(kind)
	if status == "" {
		return models.PendingChange{}, errors.New("change status missing")
	}
	change.Status = models.ChangeStatus(status)
	if path.Valid {
		change.Path = path.String
	}
	if owner.Valid {
		change.Owner = owner.String
	}
	if projectDir.Valid {
		change.ProjectDir = projectDir.String
	}
	if service.Valid {
		change.Service = service.String
	}
	if action.Valid {
		change.Action = models.ServiceVerb(action.String)
	}
	if err := json.Unmarshal([]byte(plan), &change.CommandPlan); err != nil {
		return models.PendingChange{}, fmt.Errorf("decode command plan: %w", err)
	}
	var err error
	if createdAt != "" {
		change.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return models.PendingChange{}, fmt.Errorf("parse created_at: %w", err)
		}
	}
	if updatedAt != "" {
		change.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return models.PendingChange{}, fmt.Errorf("parse updated_at: %w", err)
		}
	}
	return change, nil
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed, nil
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
