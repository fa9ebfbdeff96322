package service

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/thesis-track-api/internal/models"
	"github.com/noah-isme/thesis-track-api/pkg/export"
	"github.com/noah-isme/thesis-track-api/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService renders approval-history datasets and persists the files.
type ExportService struct {
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// NewExportService constructs an ExportService.
func NewExportService(storage fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		storage: storage,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate renders the approval history of the thesis and stores the file.
func (s *ExportService) Generate(job *models.ReportJob, thesis *models.Thesis) (*ExportResult, error) {
	if job == nil || thesis == nil {
		return nil, fmt.Errorf("job and thesis required")
	}
	dataset, title := buildApprovalDataset(thesis)

	var payload []byte
	var err error
	switch job.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job, thesis)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	if base == "" {
		base = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/reports/download?token=%s", base, token),
		Format:       job.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob, thesis *models.Thesis) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("approvals_%s_%s.%s", sanitizeFilename(thesis.ID), timestamp, job.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

// buildApprovalDataset flattens the approval history into date-ordered rows.
func buildApprovalDataset(thesis *models.Thesis) (export.Dataset, string) {
	type entry struct {
		key    models.ApprovalKey
		record models.Approval
	}
	entries := make([]entry, 0, len(thesis.Approvals))
	for key, record := range thesis.Approvals {
		entries = append(entries, entry{key: key, record: record})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].record.Date.Before(entries[j].record.Date)
	})

	rows := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		row := map[string]string{
			"Stage":    string(e.key),
			"Decision": e.record.Decision,
			"Comment":  e.record.Comment,
			"Date":     e.record.Date.UTC().Format(time.RFC3339),
		}
		if e.record.PlagiarismPercentage != nil {
			row["Plagiarism (%)"] = fmt.Sprintf("%.1f", *e.record.PlagiarismPercentage)
		}
		if e.record.Target != "" {
			row["Comment"] = strings.TrimSpace(fmt.Sprintf("%s [re-entry at %s]", e.record.Comment, e.record.Target))
		}
		rows = append(rows, row)
	}

	dataset := export.Dataset{
		Headers: []string{"Stage", "Decision", "Plagiarism (%)", "Comment", "Date"},
		Rows:    rows,
	}
	title := fmt.Sprintf("Approval History %s", thesis.Title)
	return dataset, title
}
