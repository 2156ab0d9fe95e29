// Package entitlement decides which paid features a case currently has
// access to. Rules are static membership checks over the set of purchased
// packs plus an administrator override.
package entitlement

import (
	"errors"

	"gorm.io/gorm"

	"rentvault/internal/models"
)

type Pack string

const (
	PackCheckin Pack = "checkin"
	PackDeposit Pack = "deposit"
	PackBundle  Pack = "bundle"
)

var ErrUnknownPack = errors.New("unknown pack")

func ParsePack(s string) (Pack, error) {
	switch Pack(s) {
	case PackCheckin, PackDeposit, PackBundle:
		return Pack(s), nil
	}
	return "", ErrUnknownPack
}

type Feature string

const (
	FeatureHandoverAccess   Feature = "handover_access"
	FeatureCheckinExport    Feature = "checkin_export"
	FeatureDepositExport    Feature = "deposit_export"
	FeatureUnlimitedUploads Feature = "unlimited_uploads"
)

// Grant is the resolved entitlement set for one case.
type Grant struct {
	Admin bool   `json:"admin"`
	Packs []Pack `json:"packs"`
	// Degraded is true when the purchase lookup failed and Packs was filled
	// from the legacy fallback column instead.
	Degraded bool `json:"degraded,omitempty"`
}

func (g Grant) has(p Pack) bool {
	for _, owned := range g.Packs {
		if owned == p {
			return true
		}
	}
	return false
}

// Allows evaluates the static membership rules. An unknown feature is never
// granted.
func (g Grant) Allows(f Feature) bool {
	if g.Admin {
		switch f {
		case FeatureHandoverAccess, FeatureCheckinExport, FeatureDepositExport, FeatureUnlimitedUploads:
			return true
		}
		return false
	}
	switch f {
	case FeatureHandoverAccess:
		return g.has(PackDeposit) || g.has(PackBundle)
	case FeatureCheckinExport:
		return g.has(PackCheckin) || g.has(PackBundle)
	case FeatureDepositExport:
		return g.has(PackDeposit) || g.has(PackBundle)
	case FeatureUnlimitedUploads:
		return len(g.Packs) > 0
	}
	return false
}

// ExportFeature maps a purchasable pack to the export it unlocks. The bundle
// is not itself an export target.
func ExportFeature(p Pack) (Feature, error) {
	switch p {
	case PackCheckin:
		return FeatureCheckinExport, nil
	case PackDeposit:
		return FeatureDepositExport, nil
	}
	return "", ErrUnknownPack
}

// Resolve reads completed purchases for the case; this is the canonical
// entitlement source. If the lookup fails, it falls back to the case's legacy
// purchase_type column and marks the result Degraded. The fallback is a
// previously-known signal, never an open grant.
func Resolve(db *gorm.DB, c *models.Case, admin bool) Grant {
	var rows []models.Purchase
	err := db.Where("case_id = ? AND completed_at IS NOT NULL", c.ID).Find(&rows).Error
	if err != nil {
		g := Grant{Admin: admin, Degraded: true}
		if p, perr := ParsePack(c.PurchaseType); perr == nil {
			g.Packs = []Pack{p}
		}
		return g
	}
	g := Grant{Admin: admin}
	seen := map[Pack]bool{}
	for _, row := range rows {
		p, perr := ParsePack(row.Pack)
		if perr != nil || seen[p] {
			continue
		}
		seen[p] = true
		g.Packs = append(g.Packs, p)
	}
	return g
}
