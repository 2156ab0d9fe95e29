package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"rentvault/internal/auth"
	"rentvault/internal/models"
	"rentvault/internal/services/contractai"
)

// aiError maps analyzer failures onto scoped statuses: a stuck or failing
// upstream never reads as a case-level failure.
func aiError(w http.ResponseWriter, lg *zap.SugaredLogger, op string, err error) {
	switch {
	case errors.Is(err, contractai.ErrTimeout):
		respondStatus(w, http.StatusGatewayTimeout, map[string]any{"error": "contract AI timed out", "op": op})
	case errors.Is(err, contractai.ErrDisabled):
		respondStatus(w, http.StatusServiceUnavailable, map[string]any{"error": "contract AI is not configured", "op": op})
	default:
		lg.Errorw("contract AI call failed", "op", op, "error", err)
		respondStatus(w, http.StatusBadGateway, map[string]any{"error": "contract AI failed", "op": op})
	}
}

type analyzeReq struct {
	Text string `json:"text" validate:"required,max=200000"`
}

// storedAnalysis is the shape persisted in the case's contract_analysis
// column: the extraction plus the source text, so Q&A and translation can
// run without re-uploading.
type storedAnalysis struct {
	Fields     *contractai.ContractFields `json:"fields"`
	Text       string                     `json:"text"`
	AnalyzedAt time.Time                  `json:"analyzed_at"`
}

func AnalyzeContract(db *gorm.DB, ai contractai.Analyzer, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var req analyzeReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fields, err := ai.ExtractFields(r.Context(), req.Text)
		if err != nil {
			aiError(w, lg, "analyze", err)
			return
		}
		stored := storedAnalysis{Fields: fields, Text: req.Text, AnalyzedAt: time.Now()}
		raw, err := json.Marshal(stored)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		c.ContractAnalysis = models.JSONB(raw)
		if start, perr := time.Parse("2006-01-02", fields.LeaseStart); perr == nil {
			c.LeaseStart = &start
		}
		if end, perr := time.Parse("2006-01-02", fields.LeaseEnd); perr == nil {
			c.LeaseEnd = &end
		}
		c.UpdatedAt = time.Now()
		if err := db.Save(c).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		audit(db, auth.Subject(r.Context()), c.ID, "contract.analyze", nil)
		respondJSON(w, fields)
	}
}

func loadAnalysis(c *models.Case) (*storedAnalysis, bool) {
	if len(c.ContractAnalysis) == 0 {
		return nil, false
	}
	var stored storedAnalysis
	if err := json.Unmarshal(c.ContractAnalysis, &stored); err != nil || stored.Text == "" {
		return nil, false
	}
	return &stored, true
}

type askReq struct {
	Question string `json:"question" validate:"required,max=2000"`
}

// AskContract answers a free-text question scoped to this case's analyzed
// contract.
func AskContract(db *gorm.DB, ai contractai.Analyzer, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var req askReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		stored, ok := loadAnalysis(c)
		if !ok {
			http.Error(w, "contract has not been analyzed yet", http.StatusConflict)
			return
		}
		answer, err := ai.Ask(r.Context(), stored.Text, req.Question)
		if err != nil {
			aiError(w, lg, "ask", err)
			return
		}
		respondJSON(w, map[string]any{"answer": answer})
	}
}

type translateReq struct {
	TargetLanguage string `json:"target_language" validate:"required,max=40"`
}

func TranslateContract(db *gorm.DB, ai contractai.Analyzer, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var req translateReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		stored, ok := loadAnalysis(c)
		if !ok {
			http.Error(w, "contract has not been analyzed yet", http.StatusConflict)
			return
		}
		translated, err := ai.Translate(r.Context(), stored.Text, req.TargetLanguage)
		if err != nil {
			aiError(w, lg, "translate", err)
			return
		}
		respondJSON(w, map[string]any{"translated": translated, "target_language": req.TargetLanguage})
	}
}

type classifyReq struct {
	Filename string `json:"filename" validate:"required,max=200"`
	Text     string `json:"text" validate:"required,max=100000"`
}

// ClassifyDocument extracts a category/title/summary for an arbitrary
// related-document upload.
func ClassifyDocument(db *gorm.DB, ai contractai.Analyzer, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var req classifyReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		info, err := ai.ClassifyDocument(r.Context(), req.Filename, req.Text)
		if err != nil {
			aiError(w, lg, "classify", err)
			return
		}
		respondJSON(w, info)
	}
}
