package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role struct {
	ID   int    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

type User struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	Roles        []Role    `gorm:"many2many:user_roles" json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

type Session struct {
	JTI       string     `gorm:"primaryKey;size:64" json:"jti"`
	UserID    string     `gorm:"type:uuid;index;not null" json:"user_id"`
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type AuditLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    *string   `gorm:"type:uuid" json:"user_id,omitempty"`
	CaseID    *string   `gorm:"type:uuid" json:"case_id,omitempty"`
	Action    string    `gorm:"not null" json:"action"`
	Metadata  JSONB     `gorm:"type:jsonb;default:'{}'" json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// Case is the root aggregate: one tenancy, with its rooms, assets, issues,
// deadlines and purchases hanging off it. A phase (check-in / handover) is
// sealed exactly when its completion timestamp is non-null; nothing else
// represents sealed-ness.
type Case struct {
	ID                  string     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID              string     `gorm:"type:uuid;index;not null" json:"user_id"`
	Label               string     `gorm:"not null" json:"label"`
	LeaseStart          *time.Time `json:"lease_start,omitempty"`
	LeaseEnd            *time.Time `json:"lease_end,omitempty"`
	ContractAnalysis    JSONB      `gorm:"type:jsonb;default:'{}'" json:"contract_analysis"`
	CheckinCompletedAt  *time.Time `json:"checkin_completed_at,omitempty"`
	HandoverCompletedAt *time.Time `json:"handover_completed_at,omitempty"`
	KeysReturnedAt      *time.Time `json:"keys_returned_at,omitempty"`
	RetentionUntil      *time.Time `json:"retention_until,omitempty"`
	// PurchaseType is the legacy pack column, kept only as the degraded-mode
	// fallback when the purchase lookup fails. The purchases table is the
	// canonical source.
	PurchaseType string    `gorm:"size:20;default:''" json:"purchase_type"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (c *Case) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

type Room struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CaseID    string    `gorm:"type:uuid;index;not null" json:"case_id"`
	Name      string    `gorm:"not null;size:60" json:"name"`
	Position  int       `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Room) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Asset kinds. The kind is immutable after creation.
const (
	AssetCheckinPhoto     = "checkin_photo"
	AssetHandoverPhoto    = "handover_photo"
	AssetMeterPhoto       = "meter_photo"
	AssetDepositProof     = "deposit_proof"
	AssetContractPDF      = "contract_pdf"
	AssetWalkthroughVideo = "walkthrough_video"
	AssetIssuePhoto       = "issue_photo"
	AssetIssueVideo       = "issue_video"
	AssetRelatedDocument  = "related_document"
)

// SingleSlotKinds hold at most one current asset per case (or per room for
// meter photos); registering a replacement removes the previous row and its
// stored object in the same step.
var SingleSlotKinds = map[string]bool{
	AssetDepositProof: true,
	AssetContractPDF:  true,
	AssetMeterPhoto:   true,
}

// PhotoKinds count against the free-tier upload quota.
var PhotoKinds = map[string]bool{
	AssetCheckinPhoto:  true,
	AssetHandoverPhoto: true,
	AssetMeterPhoto:    true,
}

// IssueKinds attach to issue-log entries; they sit outside the sealing model.
var IssueKinds = map[string]bool{
	AssetIssuePhoto: true,
	AssetIssueVideo: true,
}

type Asset struct {
	ID              string    `gorm:"type:uuid;primaryKey" json:"id"`
	CaseID          string    `gorm:"type:uuid;index;not null" json:"case_id"`
	RoomID          *string   `gorm:"type:uuid;index" json:"room_id,omitempty"`
	IssueID         *string   `gorm:"type:uuid;index" json:"issue_id,omitempty"`
	Kind            string    `gorm:"not null;size:30;index" json:"kind"`
	StorageKey      string    `gorm:"not null;uniqueIndex" json:"storage_key"`
	ContentType     string    `gorm:"not null;size:100" json:"content_type"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	ContentHash     *string   `gorm:"size:64" json:"content_hash,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Issue is the defect log. It sits outside the sealing model: always mutable,
// always deletable, excluded from sealed evidence and exports.
type Issue struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	CaseID     string    `gorm:"type:uuid;index;not null" json:"case_id"`
	Title      string    `gorm:"not null;size:120" json:"title"`
	Note       string    `json:"note"`
	HappenedAt time.Time `gorm:"not null" json:"happened_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (i *Issue) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

const (
	DeadlineTerminationNotice = "termination_notice"
	DeadlineRentPayment       = "rent_payment"
	DeadlineCustom            = "custom"
)

type Deadline struct {
	ID               string    `gorm:"type:uuid;primaryKey" json:"id"`
	CaseID           string    `gorm:"type:uuid;index;not null" json:"case_id"`
	Kind             string    `gorm:"not null;size:30" json:"kind"`
	Label            string    `gorm:"size:120" json:"label"`
	DueOn            time.Time `gorm:"not null" json:"due_on"`
	RemindDaysBefore JSONB     `gorm:"type:jsonb;default:'[]'" json:"remind_days_before"`
	CreatedAt        time.Time `json:"created_at"`
}

func (d *Deadline) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// Purchase records an unlocked pack. A row counts toward entitlements only
// once CompletedAt is set (payment confirmed via callback or webhook).
type Purchase struct {
	ID              string     `gorm:"type:uuid;primaryKey" json:"id"`
	CaseID          string     `gorm:"type:uuid;index;not null" json:"case_id"`
	Pack            string     `gorm:"not null;size:20" json:"pack"`
	StripeSessionID string     `gorm:"uniqueIndex;size:100" json:"stripe_session_id"`
	AmountCents     int64      `json:"amount_cents"`
	Currency        string     `gorm:"size:3" json:"currency"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (p *Purchase) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
