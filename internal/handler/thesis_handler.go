package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/thesis-track-api/internal/dto"
	"github.com/noah-isme/thesis-track-api/internal/middleware"
	"github.com/noah-isme/thesis-track-api/internal/models"
	"github.com/noah-isme/thesis-track-api/internal/service"
	"github.com/noah-isme/thesis-track-api/internal/workflow"
	appErrors "github.com/noah-isme/thesis-track-api/pkg/errors"
	"github.com/noah-isme/thesis-track-api/pkg/response"
)

type thesisService interface {
	Submit(ctx context.Context, meta dto.SubmitThesisRequest, upload service.ThesisUpload, actor *models.JWTClaims) (*models.Thesis, error)
	Worklist(ctx context.Context, query dto.ThesisQuery, actor *models.JWTClaims) ([]models.Thesis, bool, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error)
	Decide(ctx context.Context, id string, req workflow.Request, actor *models.JWTClaims) (*models.Thesis, error)
	GetDownloadURL(ctx context.Context, id string, actor *models.JWTClaims) (string, error)
	Download(ctx context.Context, id, token string, actor *models.JWTClaims) (*service.ThesisDownload, error)
}

// ThesisHandler manages thesis HTTP endpoints.
type ThesisHandler struct {
	service thesisService
}

// NewThesisHandler constructs the handler.
func NewThesisHandler(service thesisService) *ThesisHandler {
	return &ThesisHandler{service: service}
}

// Submit godoc
// @Summary Submit a thesis
// @Tags Theses
// @Accept multipart/form-data
// @Produce json
// @Param title formData string true "Title"
// @Param abstract formData string false "Abstract"
// @Param keywords formData string false "Comma-separated keywords"
// @Param guideId formData string true "Guide user ID"
// @Param file formData file true "Thesis document"
// @Success 201 {object} response.Envelope
// @Router /theses [post]
func (h *ThesisHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitThesisRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid thesis payload"))
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	reader, ok := src.(io.ReadSeeker)
	if !ok {
		buf, readErr := io.ReadAll(src)
		if readErr != nil {
			response.Error(c, appErrors.Wrap(readErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file"))
			return
		}
		reader = bytes.NewReader(buf)
	}
	upload := service.ThesisUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Content:  reader,
	}
	thesis, err := h.service.Submit(c.Request.Context(), req, upload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, thesis, nil)
}

// Worklist godoc
// @Summary List theses awaiting the current user
// @Tags Theses
// @Produce json
// @Param status query string false "Status filter"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /theses [get]
func (h *ThesisHandler) Worklist(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.ThesisQuery{Status: strings.TrimSpace(c.Query("status"))}
	if page, err := strconv.Atoi(c.Query("page")); err == nil {
		query.Page = page
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		query.Limit = limit
	}

	theses, cacheHit, err := h.service.Worklist(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, theses, nil, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get thesis detail
// @Tags Theses
// @Produce json
// @Param id path string true "Thesis ID"
// @Success 200 {object} response.Envelope
// @Router /theses/{id} [get]
func (h *ThesisHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	thesis, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	downloadURL, err := h.service.GetDownloadURL(c.Request.Context(), thesis.ID, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ThesisResponse{
		Thesis:      *thesis,
		DownloadURL: downloadURL,
	}, nil)
}

// GuideDecision godoc
// @Summary Guide approves or rejects a submitted thesis
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /theses/{id}/guide-decision [put]
func (h *ThesisHandler) GuideDecision(c *gin.Context) {
	h.decide(c, workflow.ActionGuideDecide)
}

// LibrarianReview godoc
// @Summary Librarian records the plagiarism review
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.LibrarianReviewRequest true "Review result"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /theses/{id}/librarian-review [put]
func (h *ThesisHandler) LibrarianReview(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.LibrarianReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	thesis, err := h.service.Decide(c.Request.Context(), c.Param("id"), workflow.Request{
		Action:               workflow.ActionLibrarianReview,
		Decision:             req.Result,
		Comment:              req.Comment,
		PlagiarismPercentage: req.PlagiarismPercentage,
		Report:               req.Report,
	}, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis, nil)
}

// RegistrarDecision godoc
// @Summary Registrar approves or rejects a librarian-reviewed thesis
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /theses/{id}/registrar-decision [put]
func (h *ThesisHandler) RegistrarDecision(c *gin.Context) {
	h.decide(c, workflow.ActionRegistrarDecide)
}

// VCDecision godoc
// @Summary Vice-chancellor approves or rejects a registrar-reviewed thesis
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /theses/{id}/vc-decision [put]
func (h *ThesisHandler) VCDecision(c *gin.Context) {
	h.decide(c, workflow.ActionVCDecide)
}

// FinalDecision godoc
// @Summary Guide records the final decision
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /theses/{id}/final-decision [put]
func (h *ThesisHandler) FinalDecision(c *gin.Context) {
	h.decide(c, workflow.ActionFinalDecide)
}

// Reapprove godoc
// @Summary Guide re-approves a rejected thesis at a downstream stage
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.ReapprovalRequest true "Re-approval target"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /theses/{id}/reapprove [put]
func (h *ThesisHandler) Reapprove(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReapprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid re-approval payload"))
		return
	}
	thesis, err := h.service.Decide(c.Request.Context(), c.Param("id"), workflow.Request{
		Action:  workflow.ActionGuideReapprove,
		Comment: req.Comment,
		Target:  req.Target,
	}, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis, nil)
}

// FinalReject godoc
// @Summary Guide finally rejects a rejected thesis
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.FinalRejectionRequest true "Rejection comment"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /theses/{id}/final-reject [put]
func (h *ThesisHandler) FinalReject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.FinalRejectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid rejection payload"))
		return
	}
	thesis, err := h.service.Decide(c.Request.Context(), c.Param("id"), workflow.Request{
		Action:  workflow.ActionGuideFinalReject,
		Comment: req.Comment,
	}, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis, nil)
}

// Download godoc
// @Summary Download the thesis file via signed token
// @Tags Theses
// @Produce octet-stream
// @Param id path string true "Thesis ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /theses/{id}/download [get]
func (h *ThesisHandler) Download(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token := c.Query("token")
	if strings.TrimSpace(token) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.Download(c.Request.Context(), c.Param("id"), token, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.SizeBytes, result.MimeType, result.File, nil)
}

func (h *ThesisHandler) decide(c *gin.Context, action workflow.Action) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	thesis, err := h.service.Decide(c.Request.Context(), c.Param("id"), workflow.Request{
		Action:   action,
		Decision: req.Decision,
		Comment:  req.Comment,
	}, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis, nil)
}
