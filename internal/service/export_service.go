package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/safeguard-ngo/impact-api/internal/models"
	appErrors "github.com/safeguard-ngo/impact-api/pkg/errors"
	"github.com/safeguard-ngo/impact-api/pkg/export"
)

type ledgerReader interface {
	Ledger(ctx context.Context, filter models.LiveMetricFilter) ([]models.LiveMetric, error)
}

// ExportService renders the published-metrics ledger as CSV or PDF
// downloads.
type ExportService struct {
	dashboard ledgerReader
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
}

// ExportResult bundles rendered bytes with response metadata.
type ExportResult struct {
	FileName    string
	ContentType string
	Content     []byte
}

// NewExportService constructs the service.
func NewExportService(dashboard ledgerReader) *ExportService {
	return &ExportService{
		dashboard: dashboard,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
	}
}

var ledgerHeaders = []string{"Field", "Value", "Category", "Location", "Year", "Approved By"}

// Render produces the ledger export in the requested format.
func (s *ExportService) Render(ctx context.Context, filter models.LiveMetricFilter, format string) (*ExportResult, error) {
	rows, err := s.dashboard.Ledger(ctx, filter)
	if err != nil {
		return nil, err
	}

	data := export.Dataset{Headers: ledgerHeaders, Rows: make([]map[string]string, 0, len(rows))}
	for _, row := range rows {
		data.Rows = append(data.Rows, map[string]string{
			"Field":       row.Field,
			"Value":       strconv.FormatFloat(row.Value, 'f', -1, 64),
			"Category":    row.Category,
			"Location":    row.Location,
			"Year":        strconv.Itoa(row.Year),
			"Approved By": row.ApprovedBy,
		})
	}

	switch strings.ToLower(format) {
	case "csv", "":
		content, err := s.csv.Render(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportResult{
			FileName:    exportFileName(filter, "csv"),
			ContentType: "text/csv",
			Content:     content,
		}, nil
	case "pdf":
		content, err := s.pdf.Render(data, "Published Impact Metrics")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportResult{
			FileName:    exportFileName(filter, "pdf"),
			ContentType: "application/pdf",
			Content:     content,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func exportFileName(filter models.LiveMetricFilter, ext string) string {
	if filter.Year > 0 {
		return fmt.Sprintf("live-metrics-%d.%s", filter.Year, ext)
	}
	return "live-metrics." + ext
}
