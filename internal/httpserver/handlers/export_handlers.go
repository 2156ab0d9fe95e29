package handlers

import (
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rentvault/internal/auth"
	"rentvault/internal/entitlement"
	"rentvault/internal/models"
	"rentvault/internal/sealing"
	"rentvault/internal/storage"
)

// exportPhase maps an export pack to the phase whose seal gates its download.
func exportPhase(p entitlement.Pack) sealing.Phase {
	if p == entitlement.PackDeposit {
		return sealing.PhaseHandover
	}
	return sealing.PhaseCheckin
}

// exportKinds lists the evidence included in each pack. Issue media is never
// part of an export.
func exportKinds(p entitlement.Pack) []string {
	if p == entitlement.PackDeposit {
		return []string{
			models.AssetHandoverPhoto, models.AssetMeterPhoto,
			models.AssetDepositProof, models.AssetWalkthroughVideo,
		}
	}
	return []string{
		models.AssetCheckinPhoto, models.AssetMeterPhoto,
		models.AssetContractPDF, models.AssetWalkthroughVideo,
	}
}

// Export assembles the evidence-pack manifest. Preview is always available,
// watermarked unless the pack is owned. The unwatermarked download
// additionally requires the governing phase to be sealed: pack ownership
// gates the watermark, sealing gates the download.
func Export(db *gorm.DB, store storage.ObjectStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		pack, err := entitlement.ParsePack(chi.URLParam(r, "pack"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		feature, err := entitlement.ExportFeature(pack)
		if err != nil {
			http.Error(w, "pack is not exportable", http.StatusBadRequest)
			return
		}
		claims := auth.FromContext(r.Context())
		grant := entitlement.Resolve(db, c, claims.IsAdmin())
		entitled := grant.Allows(feature)
		download := r.URL.Query().Get("download") == "1"

		if download {
			if !entitled {
				respondLocked(w, "export download requires the "+string(pack)+" pack", "/v1/cases/"+c.ID+"/checkout")
				return
			}
			if !phaseState(c, exportPhase(pack)).Sealed() {
				respondLocked(w, "phase must be completed and locked before export", "/v1/cases/"+c.ID+"/lock/"+string(exportPhase(pack)))
				return
			}
		}

		var assets []models.Asset
		if err := db.Where("case_id = ? AND kind IN ? AND issue_id IS NULL", c.ID, exportKinds(pack)).
			Order("created_at asc").Find(&assets).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		type exportItem struct {
			Kind   string  `json:"kind"`
			RoomID *string `json:"room_id,omitempty"`
			URL    string  `json:"url"`
		}
		items := make([]exportItem, 0, len(assets))
		if download {
			for _, a := range assets {
				url, err := store.PresignDownload(r.Context(), a.StorageKey, path.Base(a.StorageKey))
				if err != nil {
					lg.Errorw("export presign failed", "asset", a.ID, "error", err)
					http.Error(w, "could not issue read credentials", http.StatusBadGateway)
					return
				}
				items = append(items, exportItem{Kind: a.Kind, RoomID: a.RoomID, URL: url})
			}
		} else {
			keys := make([]string, len(assets))
			for i, a := range assets {
				keys[i] = a.StorageKey
			}
			urls, err := store.PresignGetBatch(r.Context(), keys)
			if err != nil {
				lg.Warnw("export batch presign failed", "case", c.ID, "error", err)
				urls = map[string]string{}
			}
			for _, a := range assets {
				items = append(items, exportItem{Kind: a.Kind, RoomID: a.RoomID, URL: urls[a.StorageKey]})
			}
		}

		sealedAt, sealed := phaseState(c, exportPhase(pack)).At()
		resp := map[string]any{
			"pack":        string(pack),
			"case_id":     c.ID,
			"watermarked": !entitled,
			"sealed":      sealed,
			"items":       items,
			"expires_in":  int(storage.GetExpiry.Seconds()),
		}
		if sealed {
			resp["sealed_at"] = sealedAt
		}
		if download {
			audit(db, claims.Subject, c.ID, "export.download", map[string]any{"pack": string(pack)})
		}
		respondJSON(w, resp)
	}
}
