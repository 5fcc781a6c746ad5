// Package sync pushes the ledger's computed project totals to the external
// control plane so enforced limits match internal bookkeeping.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LaboInfra/fob-api/internal/cloud"
	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/quota"
	"github.com/LaboInfra/fob-api/internal/repository"
	"github.com/LaboInfra/fob-api/internal/ws"
)

// ErrExternalProjectMissing reports that the project has no counterpart in
// the identity control plane. This is a misconfiguration, not a transient
// condition; it is never retried.
var ErrExternalProjectMissing = errors.New("sync: external project missing")

// RejectedError is the distinguished refusal of a new aggregate, carrying
// the offending resource type so mutation paths can roll back.
type RejectedError struct {
	Project string
	Type    domain.ResourceType
	Reason  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("sync: project %s rejected %s quota update: %s", e.Project, e.Type, e.Reason)
}

// Synchronizer recomputes a project's allocated totals from the ledger and
// pushes them to the type-specific quota subsystems.
type Synchronizer struct {
	quotas   repository.QuotaRepository
	identity cloud.ProjectDirectory
	compute  cloud.ComputeQuotaSetter
	storage  cloud.StorageQuotaSetter
	hub      *ws.Hub
	logger   *slog.Logger
	timeout  time.Duration
}

// New constructs a Synchronizer. The timeout bounds each external call.
func New(quotas repository.QuotaRepository, identity cloud.ProjectDirectory, compute cloud.ComputeQuotaSetter, storage cloud.StorageQuotaSetter, hub *ws.Hub, logger *slog.Logger, timeout time.Duration) *Synchronizer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Synchronizer{quotas: quotas, identity: identity, compute: compute, storage: storage, hub: hub, logger: logger, timeout: timeout}
}

// SyncProject pushes the project's current aggregates. Totals are always
// recomputed from the ledger, never cached, which makes the call idempotent
// and safe to repeat after a crash between local commit and external sync.
func (s *Synchronizer) SyncProject(ctx context.Context, project *domain.Project) error {
	shares, err := s.quotas.ListSharesByProject(ctx, project.ID)
	if err != nil {
		return err
	}
	totals := quota.ProjectAllocatedTotals(shares)

	externalID, err := s.identity.FindProjectID(ctx, project.Name)
	if err != nil {
		if errors.Is(err, cloud.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrExternalProjectMissing, project.Name)
		}
		return err
	}

	for _, t := range domain.ResourceTypes() {
		if err := s.push(ctx, externalID, t, totals[t]); err != nil {
			var rejected *cloud.QuotaRejectedError
			if errors.As(err, &rejected) {
				recordSync(project.Name, "rejected")
				recordRejection(t)
				s.publish(project.Name, "sync_rejected", t, totals[t], rejected.Reason)
				return &RejectedError{Project: project.Name, Type: t, Reason: rejected.Reason}
			}
			recordSync(project.Name, "error")
			return err
		}
		s.logger.Debug("quota pushed", "project", project.Name, "type", string(t), "quantity", totals[t])
	}

	recordSync(project.Name, "ok")
	s.publish(project.Name, "synced", "", 0, "")
	return nil
}

// push dispatches one resource type to its quota subsystem. The mapping is
// fixed and total; an unhandled type can only come from a code change that
// forgot to extend this switch.
func (s *Synchronizer) push(ctx context.Context, externalID string, t domain.ResourceType, quantity int64) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch t {
	case domain.ResourceCPU:
		return s.compute.SetQuota(callCtx, externalID, cloud.ComputeQuota{Cores: &quantity})
	case domain.ResourceMemory:
		return s.compute.SetQuota(callCtx, externalID, cloud.ComputeQuota{RAMMB: &quantity})
	case domain.ResourceStorage:
		return s.storage.SetQuota(callCtx, externalID, cloud.StorageQuota{Gigabytes: quantity})
	default:
		return fmt.Errorf("sync: no quota subsystem handles resource type %q", t)
	}
}

func (s *Synchronizer) publish(project, kind string, t domain.ResourceType, quantity int64, detail string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(ws.Event{
		Kind:     kind,
		Project:  project,
		Resource: string(t),
		Quantity: quantity,
		Detail:   detail,
	})
}
