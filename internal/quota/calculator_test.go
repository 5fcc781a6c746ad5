package quota

import (
	"testing"

	"github.com/LaboInfra/fob-api/internal/domain"
)

func grant(user string, t domain.ResourceType, qty int64) domain.OwnedQuotaGrant {
	return domain.OwnedQuotaGrant{UserID: user, Type: t, Quantity: qty}
}

func share(user, project string, t domain.ResourceType, qty int64) domain.ProjectQuotaShare {
	return domain.ProjectQuotaShare{UserID: user, ProjectID: project, Type: t, Quantity: qty}
}

func TestOwnedTotalSumsSignedGrants(t *testing.T) {
	grants := []domain.OwnedQuotaGrant{
		grant("alice", domain.ResourceStorage, 10),
		grant("alice", domain.ResourceStorage, -6),
		grant("alice", domain.ResourceCPU, 4),
	}
	if got := OwnedTotal(grants, domain.ResourceStorage); got != 4 {
		t.Fatalf("expected storage total 4, got %d", got)
	}
	if got := OwnedTotal(grants, domain.ResourceMemory); got != 0 {
		t.Fatalf("expected empty sum to be 0, got %d", got)
	}
}

func TestOwnedTotalsZeroFillsEveryType(t *testing.T) {
	totals := OwnedTotals([]domain.OwnedQuotaGrant{grant("alice", domain.ResourceCPU, 2)})
	if len(totals) != len(domain.ResourceTypes()) {
		t.Fatalf("expected %d entries, got %d", len(domain.ResourceTypes()), len(totals))
	}
	for _, rt := range domain.ResourceTypes() {
		if _, ok := totals[rt]; !ok {
			t.Fatalf("missing entry for %s", rt)
		}
	}
	if totals[domain.ResourceCPU] != 2 || totals[domain.ResourceStorage] != 0 {
		t.Fatalf("unexpected totals: %v", totals)
	}
}

func TestAvailableTotalMayBeNegative(t *testing.T) {
	grants := []domain.OwnedQuotaGrant{
		grant("alice", domain.ResourceStorage, 10),
		grant("alice", domain.ResourceStorage, -8),
	}
	shares := []domain.ProjectQuotaShare{share("alice", "p1", domain.ResourceStorage, 4)}
	if got := AvailableTotal(grants, shares, domain.ResourceStorage); got != -2 {
		t.Fatalf("expected deficit of -2, got %d", got)
	}
}

func TestSharedOutTotalSpansProjects(t *testing.T) {
	shares := []domain.ProjectQuotaShare{
		share("alice", "p1", domain.ResourceCPU, 3),
		share("alice", "p2", domain.ResourceCPU, 2),
		share("alice", "p1", domain.ResourceMemory, 512),
	}
	if got := SharedOutTotal(shares, domain.ResourceCPU); got != 5 {
		t.Fatalf("expected 5 cpu shared out, got %d", got)
	}
}

func TestProjectAllocatedTotalsSumsAllContributors(t *testing.T) {
	shares := []domain.ProjectQuotaShare{
		share("alice", "p1", domain.ResourceStorage, 4),
		share("bob", "p1", domain.ResourceStorage, 6),
		share("bob", "p1", domain.ResourceCPU, 1),
	}
	totals := ProjectAllocatedTotals(shares)
	if totals[domain.ResourceStorage] != 10 {
		t.Fatalf("expected storage 10, got %d", totals[domain.ResourceStorage])
	}
	if totals[domain.ResourceCPU] != 1 || totals[domain.ResourceMemory] != 0 {
		t.Fatalf("unexpected totals: %v", totals)
	}
}
