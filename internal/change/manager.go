package change

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/opsgate/opsgate/internal/models"
	"github.com/opsgate/opsgate/internal/remote"
	"github.com/opsgate/opsgate/internal/sshexec"
)

// Options configures a Manager.
type Options struct {
	// ExpiryWindow bounds how long a PENDING change remains approvable.
	ExpiryWindow time.Duration
	// NginxConfPath, when matched by a file edit, appends the in-container
	// nginx validate + reload steps to the command plan.
	NginxConfPath  string
	NginxContainer string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// ApplySummary reports an approved change's execution: the final record
// and the captured output of every command that ran.
type ApplySummary struct {
	Change  models.PendingChange   `json:"change"`
	Results []models.CommandResult `json:"results"`
}

// Manager owns the pending change lifecycle. It is the only component
// that executes mutating remote commands, and it only does so for a
// registered change that is still PENDING at approval time.
type Manager struct {
	store   Store
	readers *remote.Client
	runner  sshexec.Runner
	opts    Options
	logger  *log.Logger

	// inFlight guards against double execution of a plan under concurrent
	// approvals; the store CAS alone decides too late, after execution.
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewManager wires a Manager. The runner executes approved plans; the
// readers fetch current remote content at proposal time.
func NewManager(store Store, readers *remote.Client, runner sshexec.Runner, opts Options, logger *log.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if readers == nil {
		return nil, errors.New("readers client is required")
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if opts.ExpiryWindow <= 0 {
		opts.ExpiryWindow = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		store:    store,
		readers:  readers,
		runner:   runner,
		opts:     opts,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}, nil
}

func (m *Manager) now() time.Time {
	return m.opts.Now().UTC()
}

// Get loads one change by id.
func (m *Manager) Get(ctx context.Context, id string) (models.PendingChange, error) {
	return m.store.GetChange(ctx, id)
}

// List returns changes filtered by status; empty status lists everything.
func (m *Manager) List(ctx context.Context, status models.ChangeStatus) ([]models.PendingChange, error) {
	return m.store.ListChangesByStatus(ctx, status)
}

// Approve executes the command plan of a PENDING change in order.
//
// Failure modes, all with zero or already-reported remote commands:
//   - *models.NotFoundError: unknown id
//   - *models.AlreadyFinalizedError: not PENDING, or another approval for
//     the same id is executing right now
//   - *models.ExpiredError: past the expiry window; the record moves to
//     EXPIRED and nothing runs
//
// A mid-plan command failure finalizes the change as REJECTED, records
// the partial results in the audit trail, and surfaces the failing
// command's error verbatim. Already-applied steps are not rolled back.
//
// If the record is finalized externally while the plan is executing (the
// claim keeps Reject out, but a direct store write can still race), the
// completed run reports *models.AlreadyFinalizedError with the store's
// status instead of claiming success.
func (m *Manager) Approve(ctx context.Context, id string) (ApplySummary, error) {
	change, err := m.store.GetChange(ctx, id)
	if err != nil {
		return ApplySummary{}, err
	}
	if change.Status != models.ChangePending {
		return ApplySummary{}, &models.AlreadyFinalizedError{ID: id, Status: change.Status}
	}
	if m.expired(change) {
		if ok, err := m.store.TransitionChange(ctx, id, models.ChangePending, models.ChangeExpired); err == nil && ok {
			m.recordEvent(ctx, "change.expired", id, "expired before approval", "")
		}
		return ApplySummary{}, &models.ExpiredError{ID: id, CreatedAt: change.CreatedAt}
	}
	if !m.claim(id) {
		return ApplySummary{}, &models.AlreadyFinalizedError{ID: id, Status: change.Status}
	}
	defer m.release(id)

	// Re-read under the claim: a concurrent reject or sweep may have won.
	change, err = m.store.GetChange(ctx, id)
	if err != nil {
		return ApplySummary{}, err
	}
	if change.Status != models.ChangePending {
		return ApplySummary{}, &models.AlreadyFinalizedError{ID: id, Status: change.Status}
	}

	m.recordEvent(ctx, "change.approved", id, "approval received, executing plan", "")
	var results []models.CommandResult
	for i, command := range change.CommandPlan {
		result, runErr := m.runner.Run(ctx, command)
		results = append(results, models.CommandResult{
			Command:  command,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			ExitCode: result.ExitCode,
		})
		if runErr != nil {
			m.finalize(ctx, id, models.ChangeRejected, results)
			m.recordEvent(ctx, "change.apply_failed", id,
				fmt.Sprintf("command %d/%d failed: %v", i+1, len(change.CommandPlan), runErr), "")
			m.logger.Printf("change %s: apply failed at step %d/%d: %v", id, i+1, len(change.CommandPlan), runErr)
			change.Status = models.ChangeRejected
			return ApplySummary{Change: change, Results: results}, runErr
		}
	}
	if !m.finalize(ctx, id, models.ChangeApplied, results) {
		// The record was finalized out from under us while the plan ran.
		// The commands already executed; report the conflict, not success.
		current, getErr := m.store.GetChange(ctx, id)
		if getErr != nil {
			return ApplySummary{Change: change, Results: results}, getErr
		}
		return ApplySummary{Change: current, Results: results},
			&models.AlreadyFinalizedError{ID: id, Status: current.Status}
	}
	m.recordEvent(ctx, "change.applied", id,
		fmt.Sprintf("%d commands applied", len(change.CommandPlan)), "")
	change.Status = models.ChangeApplied
	return ApplySummary{Change: change, Results: results}, nil
}

// Reject finalizes a PENDING change without executing anything. It takes
// the same per-id claim as Approve, so a change whose plan is executing
// right now cannot be rejected out from under the approval.
func (m *Manager) Reject(ctx context.Context, id string) (models.PendingChange, error) {
	change, err := m.store.GetChange(ctx, id)
	if err != nil {
		return models.PendingChange{}, err
	}
	if change.Status != models.ChangePending {
		return models.PendingChange{}, &models.AlreadyFinalizedError{ID: id, Status: change.Status}
	}
	if !m.claim(id) {
		return models.PendingChange{}, &models.AlreadyFinalizedError{ID: id, Status: change.Status}
	}
	defer m.release(id)
	ok, err := m.store.TransitionChange(ctx, id, models.ChangePending, models.ChangeRejected)
	if err != nil {
		return models.PendingChange{}, err
	}
	if !ok {
		// Lost the race to a concurrent approve/reject/sweep.
		current, getErr := m.store.GetChange(ctx, id)
		if getErr != nil {
			return models.PendingChange{}, getErr
		}
		return models.PendingChange{}, &models.AlreadyFinalizedError{ID: id, Status: current.Status}
	}
	m.recordEvent(ctx, "change.rejected", id, "rejected by operator", "")
	change.Status = models.ChangeRejected
	return change, nil
}

// SweepExpired moves stale PENDING changes to EXPIRED and returns how
// many it moved.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.opts.ExpiryWindow)
	swept, err := m.store.SweepExpiredChanges(ctx, cutoff)
	if err != nil {
		return len(swept), err
	}
	for _, id := range swept {
		m.recordEvent(ctx, "change.expired", id, "expired by sweep", "")
	}
	return len(swept), nil
}

// RunSweeper expires stale changes on an interval until ctx is canceled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count, err := m.SweepExpired(ctx); err != nil {
				m.logger.Printf("change sweep: %v", err)
			} else if count > 0 {
				m.logger.Printf("change sweep: expired %d stale changes", count)
			}
		}
	}
}

func (m *Manager) expired(change models.PendingChange) bool {
	return m.now().Sub(change.CreatedAt) > m.opts.ExpiryWindow
}

func (m *Manager) claim(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.inFlight[id]; held {
		return false
	}
	m.inFlight[id] = struct{}{}
	return true
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, id)
}

// finalize attempts the CAS out of PENDING and records the command
// results. It reports whether this caller won the transition.
func (m *Manager) finalize(ctx context.Context, id string, status models.ChangeStatus, results []models.CommandResult) bool {
	ok, err := m.store.TransitionChange(ctx, id, models.ChangePending, status)
	if err != nil {
		m.logger.Printf("change %s: finalize to %s: %v", id, status, err)
		return false
	}
	if !ok {
		m.logger.Printf("change %s: finalize to %s lost a transition race", id, status)
	}
	if payload, err := json.Marshal(results); err == nil {
		m.recordEvent(ctx, "change.results", id, "", string(payload))
	}
	return ok
}

func (m *Manager) recordEvent(ctx context.Context, kind, id, msg, jsonPayload string) {
	if err := m.store.RecordChangeEvent(ctx, kind, id, msg, jsonPayload); err != nil {
		m.logger.Printf("record event %s for %s: %v", kind, id, err)
	}
}
