// Package ledger owns the quota bookkeeping mutations: admin grants of
// owned capacity, set-semantics project shares, and the rollback
// composition that keeps the external control plane and the ledger
// convergent when a sync is refused.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/quota"
	"github.com/LaboInfra/fob-api/internal/repository"
	"github.com/LaboInfra/fob-api/internal/service/guard"
	syncsvc "github.com/LaboInfra/fob-api/internal/service/sync"
	"github.com/LaboInfra/fob-api/internal/ws"
)

var (
	ErrQuantityZero     = errors.New("quantity cannot be zero")
	ErrQuantityNegative = errors.New("quantity cannot be negative")
)

// ProjectSyncer pushes a project's ledger aggregates to the external
// control plane.
type ProjectSyncer interface {
	SyncProject(ctx context.Context, project *domain.Project) error
}

// Service orchestrates ledger mutations and their synchronization.
type Service struct {
	quotas   repository.QuotaRepository
	users    repository.UserRepository
	projects repository.ProjectRepository
	guard    guard.Guard
	syncer   ProjectSyncer
	hub      *ws.Hub
	logger   *slog.Logger
}

// New constructs a Service.
func New(quotas repository.QuotaRepository, users repository.UserRepository, projects repository.ProjectRepository, g guard.Guard, syncer ProjectSyncer, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{quotas: quotas, users: users, projects: projects, guard: g, syncer: syncer, hub: hub, logger: logger}
}

// UserTotals reports one user's position for every resource type.
type UserTotals struct {
	Type      domain.ResourceType `json:"type"`
	Owned     int64               `json:"owned"`
	SharedOut int64               `json:"shared_out"`
	Available int64               `json:"available"`
}

// ShareInfo is one share row resolved to human-readable names.
type ShareInfo struct {
	ID       string              `json:"id"`
	Username string              `json:"username"`
	Project  string              `json:"project"`
	Type     domain.ResourceType `json:"type"`
	Quantity int64               `json:"quantity"`
	Comment  string              `json:"comment,omitempty"`
}

// GiveOwnedQuota appends an admin-issued entitlement adjustment. The
// quantity may be negative (claw-back) but never zero. Owned capacity is
// internal bookkeeping; no external sync happens here.
func (s Service) GiveOwnedQuota(ctx context.Context, actor *domain.User, username string, t domain.ResourceType, quantity int64, comment string) (*domain.OwnedQuotaGrant, error) {
	if err := s.guard.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if quantity == 0 {
		return nil, ErrQuantityZero
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", username, err)
	}
	grant := &domain.OwnedQuotaGrant{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Type:      t,
		Quantity:  quantity,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.quotas.CreateGrant(ctx, grant); err != nil {
		return nil, err
	}
	s.logger.Info("owned quota granted", "user", username, "type", string(t), "quantity", quantity, "admin", actor.Username)
	return grant, nil
}

// RevokeOwnedGrant deletes one adjustment row unconditionally. Shares are
// not re-checked, so this can push the user into deficit; future share
// increases are blocked until the deficit clears.
func (s Service) RevokeOwnedGrant(ctx context.Context, actor *domain.User, grantID string) (*domain.OwnedQuotaGrant, error) {
	if err := s.guard.RequireAdmin(actor); err != nil {
		return nil, err
	}
	grant, err := s.quotas.GetGrantByID(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if err := s.quotas.DeleteGrant(ctx, grantID); err != nil {
		return nil, err
	}
	s.logger.Info("owned quota grant revoked", "grant_id", grantID, "admin", actor.Username)
	return grant, nil
}

// UserTotalsFor reports owned, shared-out and available capacity per
// resource type, zero-filled. Historical deficits show as negative
// available values.
func (s Service) UserTotalsFor(ctx context.Context, actor *domain.User, username string) ([]UserTotals, error) {
	if err := s.guard.RequireAdminOrSelf(actor, username); err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	grants, err := s.quotas.ListGrantsByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	shares, err := s.quotas.ListSharesByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	owned := quota.OwnedTotals(grants)
	shared := quota.SharedOutTotals(shares)
	totals := make([]UserTotals, 0, len(domain.ResourceTypes()))
	for _, t := range domain.ResourceTypes() {
		totals = append(totals, UserTotals{
			Type:      t,
			Owned:     owned[t],
			SharedOut: shared[t],
			Available: owned[t] - shared[t],
		})
	}
	return totals, nil
}

// ListUserGrants returns a user's raw adjustment rows.
func (s Service) ListUserGrants(ctx context.Context, actor *domain.User, username string) ([]domain.OwnedQuotaGrant, error) {
	if err := s.guard.RequireAdminOrSelf(actor, username); err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.quotas.ListGrantsByUser(ctx, user.ID)
}

// ProjectTotals returns the project's allocated capacity per resource
// type, zero-filled, summed over all contributing users.
func (s Service) ProjectTotals(ctx context.Context, actor *domain.User, projectName string) (map[domain.ResourceType]int64, error) {
	project, err := s.authorizedProject(ctx, actor, projectName)
	if err != nil {
		return nil, err
	}
	shares, err := s.quotas.ListSharesByProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	return quota.ProjectAllocatedTotals(shares), nil
}

// ListProjectShares returns the per-user share breakdown for a project.
func (s Service) ListProjectShares(ctx context.Context, actor *domain.User, projectName string) ([]ShareInfo, error) {
	project, err := s.authorizedProject(ctx, actor, projectName)
	if err != nil {
		return nil, err
	}
	shares, err := s.quotas.ListSharesByProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	infos := make([]ShareInfo, 0, len(shares))
	for _, share := range shares {
		username := share.UserID
		if user, err := s.users.GetUserByID(ctx, share.UserID); err == nil {
			username = user.Username
		}
		infos = append(infos, ShareInfo{
			ID:       share.ID,
			Username: username,
			Project:  project.Name,
			Type:     share.Type,
			Quantity: share.Quantity,
			Comment:  share.Comment,
		})
	}
	return infos, nil
}

// SetShareInput names the target of a set-semantics share mutation.
type SetShareInput struct {
	Username string
	Project  string
	Type     domain.ResourceType
	Quantity int64
	Comment  string
}

// SetProjectShare sets the single share row for (user, project, type) to
// the target quantity, then pushes the new aggregate. A refused push rolls
// the row back to its previous quantity and re-syncs before surfacing the
// error; an unreachable control plane leaves the committed ledger state in
// place for the resync loop to reconcile.
func (s Service) SetProjectShare(ctx context.Context, actor *domain.User, input SetShareInput) (repository.ShareUpdate, error) {
	if input.Quantity < 0 {
		return repository.ShareUpdate{}, ErrQuantityNegative
	}
	user, err := s.users.GetUserByUsername(ctx, input.Username)
	if err != nil {
		return repository.ShareUpdate{}, fmt.Errorf("resolve user %s: %w", input.Username, err)
	}
	project, err := s.projects.GetProjectByName(ctx, input.Project)
	if err != nil {
		return repository.ShareUpdate{}, fmt.Errorf("resolve project %s: %w", input.Project, err)
	}
	if err := s.guard.RequireShareStanding(ctx, actor, user, project); err != nil {
		return repository.ShareUpdate{}, err
	}

	update, err := s.quotas.SetProjectShare(ctx, &domain.ProjectQuotaShare{
		UserID:    user.ID,
		ProjectID: project.ID,
		Type:      input.Type,
		Quantity:  input.Quantity,
		Comment:   input.Comment,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientQuota) {
			return repository.ShareUpdate{}, fmt.Errorf("user %s does not own enough %s quota for project %s: %w",
				input.Username, input.Type, input.Project, err)
		}
		return repository.ShareUpdate{}, err
	}

	if err := s.syncer.SyncProject(ctx, project); err != nil {
		if !isRollbackTrigger(err) {
			s.logger.Warn("share committed but external sync unavailable", "project", project.Name, "error", err)
			return update, err
		}
		s.rollbackShare(ctx, user, project, input.Type, update.Previous)
		return repository.ShareUpdate{}, fmt.Errorf("cannot apply %s quota change on %s: resource in use: %w",
			input.Type, project.Name, err)
	}

	s.publishShareEvent(project.Name, user.Username, input.Type, input.Quantity)
	s.logger.Info("project share set", "user", user.Username, "project", project.Name,
		"type", string(input.Type), "previous", update.Previous, "quantity", update.Current)
	return update, nil
}

// ZeroMemberShares returns all of one member's pledged capacity on a
// project, as the set-semantics path does, and syncs once. On a refused
// sync every share is restored to its prior quantity and the error is
// surfaced so the caller aborts the removal.
func (s Service) ZeroMemberShares(ctx context.Context, member *domain.User, project *domain.Project) error {
	shares, err := s.quotas.ListSharesByMember(ctx, project.ID, member.ID)
	if err != nil {
		return err
	}
	zeroed := make([]domain.ProjectQuotaShare, 0, len(shares))
	for _, share := range shares {
		if share.Quantity == 0 {
			continue
		}
		if _, err := s.quotas.SetProjectShare(ctx, &domain.ProjectQuotaShare{
			UserID:    member.ID,
			ProjectID: project.ID,
			Type:      share.Type,
			Quantity:  0,
			Comment:   "member removed from project",
		}); err != nil {
			s.restoreShares(ctx, project, zeroed)
			return err
		}
		zeroed = append(zeroed, share)
	}
	if len(zeroed) == 0 {
		return nil
	}

	if err := s.syncer.SyncProject(ctx, project); err != nil {
		if isRollbackTrigger(err) {
			s.restoreShares(ctx, project, zeroed)
			s.resyncBestEffort(ctx, project)
		}
		return fmt.Errorf("cannot return %s's quota on %s: %w", member.Username, project.Name, err)
	}
	s.publishShareEvent(project.Name, member.Username, "", 0)
	return nil
}

// SyncProject is the explicit force-resync operation; callable at any time
// to repair the crash window between local commit and external sync.
func (s Service) SyncProject(ctx context.Context, actor *domain.User, projectName string) error {
	project, err := s.authorizedProject(ctx, actor, projectName)
	if err != nil {
		return err
	}
	return s.syncer.SyncProject(ctx, project)
}

func (s Service) authorizedProject(ctx context.Context, actor *domain.User, projectName string) (*domain.Project, error) {
	project, err := s.projects.GetProjectByName(ctx, projectName)
	if err != nil {
		return nil, fmt.Errorf("resolve project %s: %w", projectName, err)
	}
	if err := s.guard.RequireProjectAccess(ctx, actor, project); err != nil {
		return nil, err
	}
	return project, nil
}

// isRollbackTrigger reports whether a sync failure should undo the local
// mutation. Rejections always do. A deadline expiry does too: the restore
// is a single-row write and the follow-up re-sync converges the external
// side whether or not the timed-out call landed.
func isRollbackTrigger(err error) bool {
	var rejected *syncsvc.RejectedError
	return errors.As(err, &rejected) || errors.Is(err, context.DeadlineExceeded)
}

func (s Service) rollbackShare(ctx context.Context, user *domain.User, project *domain.Project, t domain.ResourceType, previous int64) {
	if _, err := s.quotas.ForceSetProjectShare(ctx, &domain.ProjectQuotaShare{
		UserID:    user.ID,
		ProjectID: project.ID,
		Type:      t,
		Quantity:  previous,
		Comment:   "restored after sync rejection",
	}); err != nil {
		s.logger.Error("share rollback failed", "user", user.Username, "project", project.Name, "error", err)
		return
	}
	s.resyncBestEffort(ctx, project)
}

func (s Service) restoreShares(ctx context.Context, project *domain.Project, shares []domain.ProjectQuotaShare) {
	for _, share := range shares {
		if _, err := s.quotas.ForceSetProjectShare(ctx, &domain.ProjectQuotaShare{
			UserID:    share.UserID,
			ProjectID: project.ID,
			Type:      share.Type,
			Quantity:  share.Quantity,
			Comment:   share.Comment,
		}); err != nil {
			s.logger.Error("share restore failed", "project", project.Name, "type", string(share.Type), "error", err)
		}
	}
}

func (s Service) resyncBestEffort(ctx context.Context, project *domain.Project) {
	if err := s.syncer.SyncProject(ctx, project); err != nil {
		s.logger.Warn("post-rollback resync failed", "project", project.Name, "error", err)
	}
}

func (s Service) publishShareEvent(project, username string, t domain.ResourceType, quantity int64) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(ws.Event{
		Kind:     "share_set",
		Project:  project,
		Username: username,
		Resource: string(t),
		Quantity: quantity,
	})
}
