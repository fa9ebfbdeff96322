package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ThesisStatus captures the workflow outcome of the most recent completed review.
type ThesisStatus string

const (
	StatusSubmitted         ThesisStatus = "submitted"
	StatusGuideApproved     ThesisStatus = "guide_approved"
	StatusGuideRejected     ThesisStatus = "guide_rejected"
	StatusLibrarianReviewed ThesisStatus = "librarian_reviewed"
	StatusLibrarianRejected ThesisStatus = "librarian_rejected"
	StatusRegistrarReviewed ThesisStatus = "registrar_reviewed"
	StatusRegistrarRejected ThesisStatus = "registrar_rejected"
	StatusVCReviewed        ThesisStatus = "vc_reviewed"
	StatusVCRejected        ThesisStatus = "vc_rejected"
	StatusApproved          ThesisStatus = "approved"
	StatusRejected          ThesisStatus = "rejected"
)

// ThesisStage marks whose action is currently awaited.
type ThesisStage string

const (
	StageGuide     ThesisStage = "guide"
	StageLibrarian ThesisStage = "librarian"
	StageRegistrar ThesisStage = "registrar"
	StageVC        ThesisStage = "vc"
	StageFinal     ThesisStage = "final"
	StageCompleted ThesisStage = "completed"
	StageScholar   ThesisStage = "scholar"
)

// ApprovalKey identifies one decision slot in the approval history.
type ApprovalKey string

const (
	ApprovalKeyGuide          ApprovalKey = "guide"
	ApprovalKeyLibrarian      ApprovalKey = "librarian"
	ApprovalKeyRegistrar      ApprovalKey = "registrar"
	ApprovalKeyVC             ApprovalKey = "vc"
	ApprovalKeyFinal          ApprovalKey = "final"
	ApprovalKeyReapproval     ApprovalKey = "guideReapproval"
	ApprovalKeyFinalRejection ApprovalKey = "finalRejection"
)

// Approval is one recorded stage decision. Librarian entries carry the
// plagiarism fields; re-approval and final-rejection entries carry target,
// rejector, and original-rejector metadata.
type Approval struct {
	Decision             string    `json:"decision"`
	Comment              string    `json:"comment,omitempty"`
	PlagiarismPercentage *float64  `json:"plagiarismPercentage,omitempty"`
	Report               string    `json:"report,omitempty"`
	Target               string    `json:"target,omitempty"`
	RejectedBy           string    `json:"rejectedBy,omitempty"`
	OriginalRejector     string    `json:"originalRejector,omitempty"`
	Date                 time.Time `json:"date"`
}

// ApprovalSet maps stage keys to recorded decisions. Entries are append-only
// for a given pass; re-approval passes write differently-keyed entries
// instead of overwriting history. Stored as a JSONB column.
type ApprovalSet map[ApprovalKey]Approval

// Value implements driver.Valuer for JSONB persistence.
func (a ApprovalSet) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal approvals: %w", err)
	}
	return raw, nil
}

// Scan implements sql.Scanner for JSONB columns.
func (a *ApprovalSet) Scan(src interface{}) error {
	if src == nil {
		*a = ApprovalSet{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported approvals scan type %T", src)
	}
	if len(raw) == 0 {
		*a = ApprovalSet{}
		return nil
	}
	return json.Unmarshal(raw, a)
}

// Thesis is the document record moving through the approval workflow.
// Title, abstract and keywords are immutable after creation, as are the
// scholar and guide references.
type Thesis struct {
	ID               string         `db:"id" json:"id"`
	Title            string         `db:"title" json:"title"`
	Abstract         string         `db:"abstract" json:"abstract"`
	Keywords         pq.StringArray `db:"keywords" json:"keywords"`
	FileName         string         `db:"file_name" json:"fileName"`
	FileOriginalName string         `db:"file_original_name" json:"fileOriginalName"`
	FilePath         string         `db:"file_path" json:"filePath"`
	FileMimeType     string         `db:"file_mime_type" json:"fileMimeType"`
	FileSizeBytes    int64          `db:"file_size_bytes" json:"fileSizeBytes"`
	ScholarID        string         `db:"scholar_id" json:"scholarId"`
	GuideID          string         `db:"guide_id" json:"guideId"`
	Status           ThesisStatus   `db:"status" json:"status"`
	CurrentStage     ThesisStage    `db:"current_stage" json:"currentStage"`
	Approvals        ApprovalSet    `db:"approvals" json:"approvals"`
	CreatedAt        time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updatedAt"`
}

// Terminal reports whether no further transitions are accepted.
func (t *Thesis) Terminal() bool {
	if t.CurrentStage == StageCompleted && (t.Status == StatusApproved || t.Status == StatusRejected) {
		return true
	}
	return t.CurrentStage == StageScholar && t.Status == StatusRejected
}

// ThesisFilter constrains worklist queries.
type ThesisFilter struct {
	ScholarID            string
	GuideID              string
	Status               []ThesisStatus
	RequireGuideApproval bool
	Limit                int
	Offset               int
}
