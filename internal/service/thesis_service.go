package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/thesis-track-api/internal/dto"
	"github.com/noah-isme/thesis-track-api/internal/models"
	"github.com/noah-isme/thesis-track-api/internal/repository"
	"github.com/noah-isme/thesis-track-api/internal/workflow"
	appErrors "github.com/noah-isme/thesis-track-api/pkg/errors"
)

type thesisStore interface {
	Create(ctx context.Context, thesis *models.Thesis) error
	GetByID(ctx context.Context, id string) (*models.Thesis, error)
	List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, error)
	UpdateTransition(ctx context.Context, params repository.TransitionParams) error
}

type thesisUserFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type thesisFileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type thesisURLSigner interface {
	Generate(id, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (id, relPath string, expiresAt time.Time, err error)
}

// ThesisUpload carries upload metadata and stream reader.
type ThesisUpload struct {
	Filename string
	Size     int64
	MimeType string
	Content  io.ReadSeeker
}

// ThesisDownload bundles file reader metadata for streaming.
type ThesisDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// ThesisServiceConfig holds upload validation parameters.
type ThesisServiceConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
	APIPrefix         string
	WorklistTTL       time.Duration
}

// ThesisService orchestrates thesis submission and the review workflow.
type ThesisService struct {
	repo    thesisStore
	users   thesisUserFinder
	engine  *workflow.Engine
	storage thesisFileStorage
	signer  thesisURLSigner
	cache   *CacheService
	audit   auditLogger
	metrics *MetricsService
	logger  *zap.Logger
	cfg     ThesisServiceConfig
	extSet  map[string]struct{}
}

// NewThesisService constructs the service with defaults.
func NewThesisService(repo thesisStore, users thesisUserFinder, engine *workflow.Engine, storage thesisFileStorage, signer thesisURLSigner, cache *CacheService, audit auditLogger, metrics *MetricsService, logger *zap.Logger, cfg ThesisServiceConfig) *ThesisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = workflow.NewEngine()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".pdf", ".doc", ".docx"}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	if cfg.WorklistTTL <= 0 {
		cfg.WorklistTTL = 2 * time.Minute
	}
	extSet := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		extSet[strings.ToLower(ext)] = struct{}{}
	}
	return &ThesisService{
		repo:    repo,
		users:   users,
		engine:  engine,
		storage: storage,
		signer:  signer,
		cache:   cache,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		extSet:  extSet,
	}
}

// Submit stores the thesis file and creates the record at the guide stage.
func (s *ThesisService) Submit(ctx context.Context, meta dto.SubmitThesisRequest, upload ThesisUpload, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleScholar {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only scholars may submit theses")
	}
	if strings.TrimSpace(meta.Title) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title is required")
	}
	if strings.TrimSpace(meta.GuideID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "guideId is required")
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	ext := strings.ToLower(filepath.Ext(upload.Filename))
	if _, allowed := s.extSet[ext]; !allowed {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file type %q not allowed", ext))
	}

	guide, err := s.users.FindByID(ctx, meta.GuideID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "guide not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve guide")
	}
	if guide.Role != models.RoleGuide || !guide.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "guide is not an active guide account")
	}

	filename := s.generateFilename(upload.Filename)
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	path, err := s.storage.SaveStream(filename, upload.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist thesis file")
	}

	thesis := &models.Thesis{
		Title:            strings.TrimSpace(meta.Title),
		Abstract:         strings.TrimSpace(meta.Abstract),
		Keywords:         splitKeywords(meta.Keywords),
		FileName:         filename,
		FileOriginalName: upload.Filename,
		FilePath:         path,
		FileMimeType:     upload.MimeType,
		FileSizeBytes:    upload.Size,
		ScholarID:        actor.UserID,
		GuideID:          guide.ID,
		Status:           models.StatusSubmitted,
		CurrentStage:     models.StageGuide,
		Approvals:        models.ApprovalSet{},
	}
	if err := s.repo.Create(ctx, thesis); err != nil {
		_ = s.storage.Delete(path)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create thesis record")
	}

	s.invalidateWorklists(ctx)
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionThesisSubmit,
		Resource:   "thesis",
		ResourceID: &thesis.ID,
		NewValues:  []byte(fmt.Sprintf(`{"title":%q,"guideId":%q}`, thesis.Title, thesis.GuideID)),
	})
	return thesis, nil
}

// Worklist returns the theses awaiting the actor, per role. The second
// return value reports whether the result came from the cache.
func (s *ThesisService) Worklist(ctx context.Context, query dto.ThesisQuery, actor *models.JWTClaims) ([]models.Thesis, bool, error) {
	if actor == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	filter, err := worklistFilter(query, actor)
	if err != nil {
		return nil, false, err
	}

	key := worklistCacheKey(actor, query)
	var cached []models.Thesis
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, true, nil
	}

	start := time.Now()
	theses, err := s.repo.List(ctx, filter)
	s.metrics.ObserveDBQuery("thesis_worklist", time.Since(start))
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list theses")
	}
	if err := s.cache.Set(ctx, key, theses, s.cfg.WorklistTTL); err != nil {
		s.logger.Warn("worklist cache set failed", zap.String("key", key), zap.Error(err))
	}
	return theses, false, nil
}

// Get returns a thesis enforcing read access rules.
func (s *ThesisService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	thesis, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis")
	}
	if err := ensureReadAccess(thesis, actor); err != nil {
		return nil, err
	}
	return thesis, nil
}

// Decide validates and applies a workflow transition. The state change is
// written conditionally on the state the decision was made against, so two
// concurrent reviewers cannot both land a decision on the same pass.
func (s *ThesisService) Decide(ctx context.Context, id string, req workflow.Request, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	thesis, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis")
	}

	outcome, err := s.engine.Decide(thesis, workflow.Actor{UserID: actor.UserID, Role: actor.Role}, req)
	if err != nil {
		return nil, err
	}

	approvals := models.ApprovalSet{}
	for key, record := range thesis.Approvals {
		approvals[key] = record
	}
	approvals[outcome.Key] = outcome.Record

	now := time.Now().UTC()
	params := repository.TransitionParams{
		ID:             thesis.ID,
		ExpectedStatus: thesis.Status,
		ExpectedStage:  thesis.CurrentStage,
		NewStatus:      outcome.Status,
		NewStage:       outcome.Stage,
		Approvals:      approvals,
		UpdatedAt:      now,
	}
	start := time.Now()
	err = s.repo.UpdateTransition(ctx, params)
	s.metrics.ObserveDBQuery("thesis_transition", time.Since(start))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "thesis was modified by another reviewer")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update thesis")
	}

	oldState, _ := json.Marshal(map[string]interface{}{"status": thesis.Status, "currentStage": thesis.CurrentStage})
	thesis.Status = outcome.Status
	thesis.CurrentStage = outcome.Stage
	thesis.Approvals = approvals
	thesis.UpdatedAt = now

	s.invalidateWorklists(ctx)
	newState, _ := json.Marshal(map[string]interface{}{"status": thesis.Status, "currentStage": thesis.CurrentStage, "action": req.Action})
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionThesisTransition,
		Resource:   "thesis",
		ResourceID: &thesis.ID,
		OldValues:  oldState,
		NewValues:  newState,
	})
	return thesis, nil
}

// GetDownloadURL generates a signed URL for downloading the thesis file.
func (s *ThesisService) GetDownloadURL(ctx context.Context, id string, actor *models.JWTClaims) (string, error) {
	if s.signer == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	thesis, err := s.Get(ctx, id, actor)
	if err != nil {
		return "", err
	}
	token, _, err := s.signer.Generate(thesis.ID, thesis.FilePath)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return fmt.Sprintf("%s/theses/%s/download?token=%s", base, thesis.ID, token), nil
}

// Download validates the token and opens the thesis file.
func (s *ThesisService) Download(ctx context.Context, id, token string, actor *models.JWTClaims) (*ThesisDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	thesis, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	thesisID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if thesisID != thesis.ID || relPath != thesis.FilePath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open thesis file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read thesis file metadata")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionThesisDownload,
		Resource:   "thesis",
		ResourceID: &thesis.ID,
	})
	return &ThesisDownload{
		File:      file,
		Filename:  thesis.FileOriginalName,
		MimeType:  thesis.FileMimeType,
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

func worklistFilter(query dto.ThesisQuery, actor *models.JWTClaims) (models.ThesisFilter, error) {
	limit := query.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	page := query.Page
	if page < 1 {
		page = 1
	}
	filter := models.ThesisFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if query.Status != "" {
		filter.Status = []models.ThesisStatus{models.ThesisStatus(query.Status)}
	}

	switch actor.Role {
	case models.RoleScholar:
		filter.ScholarID = actor.UserID
	case models.RoleGuide:
		filter.GuideID = actor.UserID
	case models.RoleLibrarian:
		if len(filter.Status) == 0 {
			filter.Status = []models.ThesisStatus{models.StatusGuideApproved}
		}
	case models.RoleRegistrar:
		if len(filter.Status) == 0 {
			filter.Status = []models.ThesisStatus{models.StatusLibrarianReviewed}
		}
		filter.RequireGuideApproval = true
	case models.RoleVC:
		if len(filter.Status) == 0 {
			filter.Status = []models.ThesisStatus{models.StatusRegistrarReviewed}
		}
	default:
		return models.ThesisFilter{}, appErrors.ErrForbidden
	}
	return filter, nil
}

func ensureReadAccess(thesis *models.Thesis, actor *models.JWTClaims) error {
	if actor.Role.IsReviewBoard() {
		return nil
	}
	switch actor.Role {
	case models.RoleScholar:
		if thesis.ScholarID == actor.UserID {
			return nil
		}
	case models.RoleGuide:
		if thesis.GuideID == actor.UserID {
			return nil
		}
	}
	return appErrors.ErrForbidden
}

func worklistCacheKey(actor *models.JWTClaims, query dto.ThesisQuery) string {
	return fmt.Sprintf("worklist:%s:%s:%s:%d:%d", actor.Role, actor.UserID, query.Status, query.Page, query.Limit)
}

func (s *ThesisService) invalidateWorklists(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "worklist:*"); err != nil {
		s.logger.Warn("worklist cache invalidation failed", zap.Error(err))
	}
}

func (s *ThesisService) generateFilename(original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	return fmt.Sprintf("thesis_%d_%s%s", time.Now().Unix(), randomSuffix(), ext)
}

func splitKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			keywords = append(keywords, trimmed)
		}
	}
	return keywords
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func (s *ThesisService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "thesis-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create thesis audit", zap.Error(err))
	}
}
