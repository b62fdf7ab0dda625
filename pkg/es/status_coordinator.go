package es

import (
	"context"
	"fmt"
	"time"

	"go.jetify.com/typeid"
)

// StatusStore backs C9: CAS-guarded persistence of ProjectionStatus records,
// keyed by (projectionName, objectId) (spec.md §4.8, §6 "Projection-status
// record").
type StatusStore interface {
	// Get returns NotFoundError if no status document exists yet.
	Get(ctx context.Context, projectionName, objectID string) (ProjectionStatus, error)
	// Set performs CAS using ProjectionStatus.ETag; an empty ETag means
	// "create, must not already exist". A mismatch is ConcurrencyError.
	Set(ctx context.Context, status ProjectionStatus) error
	GetByStatus(ctx context.Context, projectionName string, kind ProjectionStatusKind) ([]ProjectionStatus, error)
	// ListRebuilding returns every status document currently in Rebuilding or
	// CatchingUp, for recoverStuckRebuilds to scan.
	ListRebuilding(ctx context.Context, projectionName string) ([]ProjectionStatus, error)
}

// StatusCoordinator implements the C9 distributed state machine (spec.md
// §4.8): Active -> Rebuilding -> CatchingUp -> Ready -> Active, or
// Rebuilding -> Failed, or Active <-> Disabled.
type StatusCoordinator struct {
	Store StatusStore
}

// NewStatusCoordinator wires a coordinator to its backing store.
func NewStatusCoordinator(store StatusStore) *StatusCoordinator {
	return &StatusCoordinator{Store: store}
}

func newNonce(prefix string) (string, error) {
	tid, err := typeid.WithPrefix(prefix)
	if err != nil {
		return "", fmt.Errorf("newNonce: %w", err)
	}
	return tid.String(), nil
}

// StartRebuild upserts the status document with status Rebuilding and a
// fresh token expiring after timeout (spec.md §4.8 "startRebuild").
func (c *StatusCoordinator) StartRebuild(ctx context.Context, projectionName, objectID string, strategy RebuildStrategy, timeout time.Duration, now time.Time) (RebuildToken, error) {
	nonce, err := newNonce("rebuild")
	if err != nil {
		return RebuildToken{}, err
	}
	token := RebuildToken{
		ProjectionName: projectionName,
		ObjectID:       objectID,
		Strategy:       strategy,
		IssuedAt:       now,
		ExpiresAt:      now.Add(timeout),
		Nonce:          nonce,
	}

	existing, err := c.Store.Get(ctx, projectionName, objectID)
	etag := ""
	if err == nil {
		etag = existing.ETag
	} else if !IsNotFoundError(err) {
		return RebuildToken{}, err
	}

	status := ProjectionStatus{
		ProjectionName:  projectionName,
		ObjectID:        objectID,
		Status:          StatusRebuilding,
		StatusChangedAt: now,
		RebuildToken:    &token,
		ETag:            etag,
	}
	if err := c.Store.Set(ctx, status); err != nil {
		return RebuildToken{}, err
	}
	return token, nil
}

// validate loads the current status document and checks token against it
// (spec.md §4.8 "Token validation").
func (c *StatusCoordinator) validate(ctx context.Context, token RebuildToken, now time.Time) (ProjectionStatus, error) {
	status, err := c.Store.Get(ctx, token.ProjectionName, token.ObjectID)
	if err != nil {
		return ProjectionStatus{}, err
	}
	if status.RebuildToken == nil || status.RebuildToken.Nonce != token.Nonce {
		return ProjectionStatus{}, &TokenInvalidError{
			EventStoreError: EventStoreError{Op: "validate"},
			ProjectionName:  token.ProjectionName,
			ObjectID:        token.ObjectID,
		}
	}
	if status.RebuildToken.Expired(now) {
		return ProjectionStatus{}, &TokenExpiredError{
			EventStoreError: EventStoreError{Op: "validate"},
			ProjectionName:  token.ProjectionName,
			ObjectID:        token.ObjectID,
		}
	}
	return status, nil
}

func (c *StatusCoordinator) transition(ctx context.Context, status ProjectionStatus, kind ProjectionStatusKind, now time.Time, clearToken bool, info *RebuildInfo) error {
	status.Status = kind
	status.StatusChangedAt = now
	if clearToken {
		status.RebuildToken = nil
	}
	status.RebuildInfo = info
	return c.Store.Set(ctx, status)
}

// StartCatchUp validates token and transitions to CatchingUp.
func (c *StatusCoordinator) StartCatchUp(ctx context.Context, token RebuildToken, now time.Time) error {
	status, err := c.validate(ctx, token, now)
	if err != nil {
		return err
	}
	return c.transition(ctx, status, StatusCatchingUp, now, false, nil)
}

// MarkReady validates token and transitions to Ready.
func (c *StatusCoordinator) MarkReady(ctx context.Context, token RebuildToken, now time.Time) error {
	status, err := c.validate(ctx, token, now)
	if err != nil {
		return err
	}
	return c.transition(ctx, status, StatusReady, now, false, nil)
}

// CompleteRebuild validates token, transitions to Active, and clears the
// token.
func (c *StatusCoordinator) CompleteRebuild(ctx context.Context, token RebuildToken, now time.Time) error {
	status, err := c.validate(ctx, token, now)
	if err != nil {
		return err
	}
	return c.transition(ctx, status, StatusActive, now, true, nil)
}

// CancelRebuild validates token and transitions to Failed (if rebuildErr is
// non-empty) or back to Active, clearing the token either way.
func (c *StatusCoordinator) CancelRebuild(ctx context.Context, token RebuildToken, rebuildErr string, now time.Time) error {
	status, err := c.validate(ctx, token, now)
	if err != nil {
		return err
	}
	kind := StatusActive
	var info *RebuildInfo
	if rebuildErr != "" {
		kind = StatusFailed
		info = &RebuildInfo{Error: rebuildErr, UpdatedAt: now}
	}
	return c.transition(ctx, status, kind, now, true, info)
}

// GetStatus is a read-only point query.
func (c *StatusCoordinator) GetStatus(ctx context.Context, projectionName, objectID string) (ProjectionStatus, error) {
	return c.Store.Get(ctx, projectionName, objectID)
}

// GetByStatus is a read-only query over every document in kind.
func (c *StatusCoordinator) GetByStatus(ctx context.Context, projectionName string, kind ProjectionStatusKind) ([]ProjectionStatus, error) {
	return c.Store.GetByStatus(ctx, projectionName, kind)
}

// RecoverStuckRebuilds scans Rebuilding/CatchingUp documents whose token has
// expired and transitions them to Failed under CAS, skipping any that lost a
// concurrent race (spec.md §4.8 "recoverStuckRebuilds"). Returns the count
// recovered.
func (c *StatusCoordinator) RecoverStuckRebuilds(ctx context.Context, projectionName string, now time.Time) (int, error) {
	stuck, err := c.Store.ListRebuilding(ctx, projectionName)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, status := range stuck {
		if status.RebuildToken == nil || !status.RebuildToken.Expired(now) {
			continue
		}
		status.Status = StatusFailed
		status.StatusChangedAt = now
		status.RebuildToken = nil
		status.RebuildInfo = &RebuildInfo{Error: "Rebuild timed out", UpdatedAt: now}
		if err := c.Store.Set(ctx, status); err != nil {
			if IsConcurrencyError(err) {
				continue // another actor already resolved it
			}
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Disable is an operator override: Active -> Disabled.
func (c *StatusCoordinator) Disable(ctx context.Context, projectionName, objectID string, now time.Time) error {
	status, err := c.Store.Get(ctx, projectionName, objectID)
	if err != nil {
		return err
	}
	return c.transition(ctx, status, StatusDisabled, now, false, nil)
}

// Enable is an operator override: Disabled -> Active.
func (c *StatusCoordinator) Enable(ctx context.Context, projectionName, objectID string, now time.Time) error {
	status, err := c.Store.Get(ctx, projectionName, objectID)
	if err != nil {
		return err
	}
	return c.transition(ctx, status, StatusActive, now, false, nil)
}
