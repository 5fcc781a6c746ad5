// Package quota folds ledger rows into per-user and per-project totals.
// Every function is pure: it reads the rows it is given and touches nothing
// else, so the same arithmetic serves API reads and the in-transaction
// conservation check.
package quota

import "github.com/LaboInfra/fob-api/internal/domain"

// OwnedTotal sums grant quantities for one resource type. An empty ledger
// sums to zero.
func OwnedTotal(grants []domain.OwnedQuotaGrant, t domain.ResourceType) int64 {
	var total int64
	for _, g := range grants {
		if g.Type == t {
			total += g.Quantity
		}
	}
	return total
}

// OwnedTotals sums grants per resource type. The result carries every known
// type, zero-filled; callers never see a missing key.
func OwnedTotals(grants []domain.OwnedQuotaGrant) map[domain.ResourceType]int64 {
	totals := emptyTotals()
	for _, g := range grants {
		totals[g.Type] += g.Quantity
	}
	return totals
}

// SharedOutTotal sums a user's share quantities for one resource type across
// all projects.
func SharedOutTotal(shares []domain.ProjectQuotaShare, t domain.ResourceType) int64 {
	var total int64
	for _, s := range shares {
		if s.Type == t {
			total += s.Quantity
		}
	}
	return total
}

// SharedOutTotals sums a user's shares per resource type, zero-filled.
func SharedOutTotals(shares []domain.ProjectQuotaShare) map[domain.ResourceType]int64 {
	totals := emptyTotals()
	for _, s := range shares {
		totals[s.Type] += s.Quantity
	}
	return totals
}

// AvailableTotal is owned minus shared-out headroom. It may be negative when
// an admin clawed back owned capacity below what is already pledged; such a
// deficit is reported as-is.
func AvailableTotal(grants []domain.OwnedQuotaGrant, shares []domain.ProjectQuotaShare, t domain.ResourceType) int64 {
	return OwnedTotal(grants, t) - SharedOutTotal(shares, t)
}

// ProjectAllocatedTotals sums every contributing user's shares on a project
// per resource type, zero-filled. This is the only value ever pushed to the
// external control plane.
func ProjectAllocatedTotals(shares []domain.ProjectQuotaShare) map[domain.ResourceType]int64 {
	totals := emptyTotals()
	for _, s := range shares {
		totals[s.Type] += s.Quantity
	}
	return totals
}

func emptyTotals() map[domain.ResourceType]int64 {
	totals := make(map[domain.ResourceType]int64, len(domain.ResourceTypes()))
	for _, t := range domain.ResourceTypes() {
		totals[t] = 0
	}
	return totals
}
