package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/thesis-track-api/internal/dto"
	"github.com/noah-isme/thesis-track-api/internal/middleware"
	"github.com/noah-isme/thesis-track-api/internal/models"
	"github.com/noah-isme/thesis-track-api/internal/service"
	"github.com/noah-isme/thesis-track-api/internal/workflow"
	appErrors "github.com/noah-isme/thesis-track-api/pkg/errors"
)

type thesisServiceMock struct {
	submitResp   *models.Thesis
	submitErr    error
	worklist     []models.Thesis
	worklistHit  bool
	worklistErr  error
	getResp      *models.Thesis
	getErr       error
	decideResp   *models.Thesis
	decideErr    error
	downloadURL  string
	lastUpload   service.ThesisUpload
	lastRequest  workflow.Request
	lastThesisID string
}

func (m *thesisServiceMock) Submit(ctx context.Context, meta dto.SubmitThesisRequest, upload service.ThesisUpload, actor *models.JWTClaims) (*models.Thesis, error) {
	m.lastUpload = upload
	return m.submitResp, m.submitErr
}

func (m *thesisServiceMock) Worklist(ctx context.Context, query dto.ThesisQuery, actor *models.JWTClaims) ([]models.Thesis, bool, error) {
	return m.worklist, m.worklistHit, m.worklistErr
}

func (m *thesisServiceMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error) {
	return m.getResp, m.getErr
}

func (m *thesisServiceMock) Decide(ctx context.Context, id string, req workflow.Request, actor *models.JWTClaims) (*models.Thesis, error) {
	m.lastThesisID = id
	m.lastRequest = req
	return m.decideResp, m.decideErr
}

func (m *thesisServiceMock) GetDownloadURL(ctx context.Context, id string, actor *models.JWTClaims) (string, error) {
	return m.downloadURL, nil
}

func (m *thesisServiceMock) Download(ctx context.Context, id, token string, actor *models.JWTClaims) (*service.ThesisDownload, error) {
	return nil, appErrors.ErrNotFound
}

func scholarClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "s1", Role: models.RoleScholar}
}

func guideClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "g1", Role: models.RoleGuide}
}

func multipartSubmission(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("title", "Graph Partitioning"))
	require.NoError(t, writer.WriteField("guideId", "g1"))
	part, err := writer.CreateFormFile("file", "thesis.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 content"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestThesisHandlerSubmit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &thesisServiceMock{submitResp: &models.Thesis{ID: "th-1", Title: "Graph Partitioning"}}
	handler := NewThesisHandler(mockSvc)

	body, contentType := multipartSubmission(t)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/theses", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	c.Set(middleware.ContextUserKey, scholarClaims())

	handler.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "thesis.pdf", mockSvc.lastUpload.Filename)
	assert.Contains(t, w.Body.String(), "th-1")
}

func TestThesisHandlerSubmitMissingFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewThesisHandler(&thesisServiceMock{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("title", "No File"))
	require.NoError(t, writer.WriteField("guideId", "g1"))
	require.NoError(t, writer.Close())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/theses", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.Request = req
	c.Set(middleware.ContextUserKey, scholarClaims())

	handler.Submit(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestThesisHandlerWorklistReportsCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &thesisServiceMock{
		worklist:    []models.Thesis{{ID: "th-1"}},
		worklistHit: true,
	}
	handler := NewThesisHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/theses?status=submitted&page=1&limit=10", nil)
	c.Set(middleware.ContextUserKey, guideClaims())

	handler.Worklist(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, true, envelope.Meta["cache_hit"])
}

func TestThesisHandlerGetIncludesDownloadURL(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &thesisServiceMock{
		getResp:     &models.Thesis{ID: "th-1", Title: "Graph Partitioning"},
		downloadURL: "/api/v1/theses/th-1/download?token=abc",
	}
	handler := NewThesisHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/theses/th-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "th-1"}}
	c.Set(middleware.ContextUserKey, scholarClaims())

	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "downloadUrl")
}

func TestThesisHandlerGuideDecision(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &thesisServiceMock{decideResp: &models.Thesis{ID: "th-1", Status: models.StatusGuideApproved}}
	handler := NewThesisHandler(mockSvc)

	payload, _ := json.Marshal(dto.DecisionRequest{Decision: "approved", Comment: "solid work"})
	c, w := newGinContext(http.MethodPut, "/theses/th-1/guide-decision", payload)
	c.Params = gin.Params{{Key: "id", Value: "th-1"}}
	c.Set(middleware.ContextUserKey, guideClaims())

	handler.GuideDecision(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, workflow.ActionGuideDecide, mockSvc.lastRequest.Action)
	assert.Equal(t, "approved", mockSvc.lastRequest.Decision)
	assert.Equal(t, "th-1", mockSvc.lastThesisID)
}

func TestThesisHandlerLibrarianReview(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &thesisServiceMock{decideResp: &models.Thesis{ID: "th-1", Status: models.StatusLibrarianReviewed}}
	handler := NewThesisHandler(mockSvc)

	pct := 12.5
	payload, _ := json.Marshal(dto.LibrarianReviewRequest{
		Result:               "passed",
		PlagiarismPercentage: &pct,
		Report:               "similarity within limits",
	})
	c, w := newGinContext(http.MethodPut, "/theses/th-1/librarian-review", payload)
	c.Params = gin.Params{{Key: "id", Value: "th-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "l1", Role: models.RoleLibrarian})

	handler.LibrarianReview(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, workflow.ActionLibrarianReview, mockSvc.lastRequest.Action)
	require.NotNil(t, mockSvc.lastRequest.PlagiarismPercentage)
	assert.Equal(t, 12.5, *mockSvc.lastRequest.PlagiarismPercentage)
	assert.Equal(t, "similarity within limits", mockSvc.lastRequest.Report)
}

func TestThesisHandlerReapprove(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &thesisServiceMock{decideResp: &models.Thesis{ID: "th-1", Status: models.StatusLibrarianReviewed}}
	handler := NewThesisHandler(mockSvc)

	payload, _ := json.Marshal(dto.ReapprovalRequest{Target: models.StageRegistrar, Comment: "fixed citations"})
	c, w := newGinContext(http.MethodPut, "/theses/th-1/reapprove", payload)
	c.Params = gin.Params{{Key: "id", Value: "th-1"}}
	c.Set(middleware.ContextUserKey, guideClaims())

	handler.Reapprove(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, workflow.ActionGuideReapprove, mockSvc.lastRequest.Action)
	assert.Equal(t, models.StageRegistrar, mockSvc.lastRequest.Target)
}

func TestThesisHandlerDecisionPreconditionFailed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &thesisServiceMock{
		decideErr: appErrors.WithDetails(appErrors.ErrPreconditionFailed, map[string]interface{}{
			"status":       models.StatusGuideApproved,
			"currentStage": models.StageLibrarian,
		}),
	}
	handler := NewThesisHandler(mockSvc)

	payload, _ := json.Marshal(dto.DecisionRequest{Decision: "approved"})
	c, w := newGinContext(http.MethodPut, "/theses/th-1/guide-decision", payload)
	c.Params = gin.Params{{Key: "id", Value: "th-1"}}
	c.Set(middleware.ContextUserKey, guideClaims())

	handler.GuideDecision(c)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Contains(t, w.Body.String(), "guide_approved")
}

func TestThesisHandlerDownloadRequiresToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewThesisHandler(&thesisServiceMock{})

	c, w := newGinContext(http.MethodGet, "/theses/th-1/download", nil)
	c.Params = gin.Params{{Key: "id", Value: "th-1"}}
	c.Set(middleware.ContextUserKey, scholarClaims())

	handler.Download(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
