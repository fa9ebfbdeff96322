package dto

import "github.com/noah-isme/thesis-track-api/internal/models"

// SubmitThesisRequest contains metadata submitted alongside the thesis file.
type SubmitThesisRequest struct {
	Title    string `form:"title" json:"title" validate:"required"`
	Abstract string `form:"abstract" json:"abstract"`
	Keywords string `form:"keywords" json:"keywords"`
	GuideID  string `form:"guideId" json:"guideId" validate:"required"`
}

// DecisionRequest is the shared payload for guide, registrar, vice-chancellor
// and final decisions.
type DecisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Comment  string `json:"comment"`
}

// LibrarianReviewRequest records the plagiarism check outcome.
type LibrarianReviewRequest struct {
	Result               string   `json:"result" validate:"required,oneof=passed failed"`
	PlagiarismPercentage *float64 `json:"plagiarismPercentage" validate:"required,gte=0,lte=100"`
	Report               string   `json:"report" validate:"required"`
	Comment              string   `json:"comment"`
}

// ReapprovalRequest re-injects a rejected thesis at a downstream stage.
type ReapprovalRequest struct {
	Target  models.ThesisStage `json:"target" validate:"required,oneof=librarian registrar vc"`
	Comment string             `json:"comment"`
}

// FinalRejectionRequest closes out a rejected thesis for good.
type FinalRejectionRequest struct {
	Comment string `json:"comment"`
}

// ThesisQuery captures worklist query parameters.
type ThesisQuery struct {
	Status string
	Page   int
	Limit  int
}

// ThesisResponse is the detail view returned to clients.
type ThesisResponse struct {
	models.Thesis
	DownloadURL string `json:"downloadUrl,omitempty"`
}
