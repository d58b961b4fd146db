package change

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/opsgate/opsgate/internal/models"
	"github.com/opsgate/opsgate/internal/remote"
)

const diffContextLines = 3

// ProposeFileEdit stages a full-content replacement of a whitelisted
// config file. It reads the current remote content, renders a unified
// diff preview, and captures the stage + privileged move command plan.
// When the target is the configured nginx conf path, the plan also
// validates and reloads nginx in its container after the move.
//
// Empty or identical desired content fails with *models.ValidationError
// before anything is registered. The returned change is already PENDING
// in the store.
func (m *Manager) ProposeFileEdit(ctx context.Context, path, desiredContent string) (models.PendingChange, error) {
	if desiredContent == "" {
		return models.PendingChange{}, models.NewValidationError("desired content must not be empty")
	}
	current, err := m.readers.ReadFile(ctx, path)
	if err != nil {
		var notFound *models.NotFoundError
		if !errors.As(err, &notFound) {
			return models.PendingChange{}, err
		}
		current = ""
	}
	if desiredContent == current {
		return models.PendingChange{}, models.NewValidationError("desired content for %s is identical to the current content", path)
	}
	id, err := newChangeID()
	if err != nil {
		return models.PendingChange{}, err
	}
	preview, err := unifiedDiff(path, current, desiredContent)
	if err != nil {
		return models.PendingChange{}, err
	}
	stage, err := remote.StageFileCommand(id, []byte(desiredContent))
	if err != nil {
		return models.PendingChange{}, err
	}
	move, err := remote.MoveIntoPlaceCommand(id, path, m.readers.AllowedFilePrefixes())
	if err != nil {
		return models.PendingChange{}, err
	}
	plan := []string{stage, move}
	if path == m.opts.NginxConfPath && m.opts.NginxContainer != "" {
		validate, err := remote.NginxValidateCommand(m.opts.NginxContainer)
		if err != nil {
			return models.PendingChange{}, err
		}
		reload, err := remote.NginxReloadCommand(m.opts.NginxContainer)
		if err != nil {
			return models.PendingChange{}, err
		}
		plan = append(plan, validate, reload)
	}
	change := models.PendingChange{
		ID:          id,
		Kind:        models.KindFileEdit,
		Path:        path,
		Preview:     preview,
		CommandPlan: plan,
		Status:      models.ChangePending,
		CreatedAt:   m.now(),
	}
	return m.register(ctx, change)
}

// ProposeCrontabEdit stages a wholesale replacement of a user's crontab.
// An owner with no current crontab diffs against empty content.
func (m *Manager) ProposeCrontabEdit(ctx context.Context, owner, desiredContent string) (models.PendingChange, error) {
	if desiredContent == "" {
		return models.PendingChange{}, models.NewValidationError("desired content must not be empty")
	}
	current, err := m.readers.ReadCrontab(ctx, owner)
	if err != nil {
		return models.PendingChange{}, err
	}
	// crontab rejects files without a trailing newline
	if !strings.HasSuffix(desiredContent, "\n") {
		desiredContent += "\n"
	}
	if desiredContent == current {
		return models.PendingChange{}, models.NewValidationError("desired crontab for %s is identical to the current crontab", owner)
	}
	id, err := newChangeID()
	if err != nil {
		return models.PendingChange{}, err
	}
	preview, err := unifiedDiff("crontab:"+owner, current, desiredContent)
	if err != nil {
		return models.PendingChange{}, err
	}
	stage, err := remote.StageFileCommand(id, []byte(desiredContent))
	if err != nil {
		return models.PendingChange{}, err
	}
	install, err := remote.CrontabInstallCommand(id, owner)
	if err != nil {
		return models.PendingChange{}, err
	}
	change := models.PendingChange{
		ID:          id,
		Kind:        models.KindCrontabEdit,
		Owner:       owner,
		Preview:     preview,
		CommandPlan: []string{stage, install},
		Status:      models.ChangePending,
		CreatedAt:   m.now(),
	}
	return m.register(ctx, change)
}

// ProposeServiceAction stages one docker-compose verb against a service
// in a project directory. No diff; the preview is a plain description.
func (m *Manager) ProposeServiceAction(ctx context.Context, projectDir, service string, action models.ServiceVerb) (models.PendingChange, error) {
	if !models.ValidServiceVerb(action) {
		return models.PendingChange{}, models.NewValidationError("invalid service action %q", action)
	}
	command, err := remote.ComposeActionCommand(projectDir, service, action)
	if err != nil {
		return models.PendingChange{}, err
	}
	id, err := newChangeID()
	if err != nil {
		return models.PendingChange{}, err
	}
	preview := fmt.Sprintf("%s service %s in %s", action, service, projectDir)
	if service == "" {
		preview = fmt.Sprintf("%s all services in %s", action, projectDir)
	}
	change := models.PendingChange{
		ID:          id,
		Kind:        models.KindServiceAction,
		ProjectDir:  projectDir,
		Service:     service,
		Action:      action,
		Preview:     preview,
		CommandPlan: []string{command},
		Status:      models.ChangePending,
		CreatedAt:   m.now(),
	}
	return m.register(ctx, change)
}

// register inserts the change and records the proposal event. The id is
// only handed to the caller once the record is PENDING in the store.
func (m *Manager) register(ctx context.Context, change models.PendingChange) (models.PendingChange, error) {
	change.UpdatedAt = change.CreatedAt
	if err := m.store.CreateChange(ctx, change); err != nil {
		return models.PendingChange{}, err
	}
	m.recordEvent(ctx, "change.proposed", change.ID, fmt.Sprintf("%s %s proposed", change.Kind, change.Target()), "")
	return change, nil
}

func unifiedDiff(name, current, desired string) (string, error) {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(current),
		B:        difflib.SplitLines(desired),
		FromFile: name + " (current)",
		ToFile:   name + " (proposed)",
		Context:  diffContextLines,
	})
	if err != nil {
		return "", fmt.Errorf("render diff for %s: %w", name, err)
	}
	return diff, nil
}

func newChangeID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "chg_" + hex.EncodeToString(buf), nil
}
