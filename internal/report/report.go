// Package report exports the email log and suppression list to XLSX.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/store"
)

const (
	SheetLog          = "Email Log"
	SheetSuppressions = "Suppressions"
	SheetSummary      = "Summary"

	timeLayout = "2006-01-02 15:04:05"
)

// Store is the persistence the exporter reads from.
type Store interface {
	ListEmailLogs(ctx context.Context, filter store.LogFilter) ([]model.EmailLog, error)
	ListSuppressions(ctx context.Context) ([]model.SuppressionEntry, error)
	GetQueueStats(ctx context.Context) (model.QueueStats, error)
}

// Exporter builds workbooks from the store.
type Exporter struct {
	store Store
}

func New(s Store) *Exporter {
	return &Exporter{store: s}
}

// Write builds the workbook and writes it to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, filter store.LogFilter) error {
	f, err := e.build(ctx, filter)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// SaveAs builds the workbook and saves it at path.
func (e *Exporter) SaveAs(ctx context.Context, path string, filter store.LogFilter) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	f, err := e.build(ctx, filter)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

func (e *Exporter) build(ctx context.Context, filter store.LogFilter) (*excelize.File, error) {
	logs, err := e.store.ListEmailLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	suppressions, err := e.store.ListSuppressions(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := e.store.GetQueueStats(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetLog); err != nil {
		f.Close()
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	logRows := make([][]interface{}, 0, len(logs))
	for _, l := range logs {
		logRows = append(logRows, []interface{}{
			l.CreatedAt.Local().Format(timeLayout), l.CampaignID, l.ContactID, l.Email,
			l.StepNumber, l.Subject, string(l.Outcome), l.MessageHandle, l.Error,
		})
	}
	suppressionRows := make([][]interface{}, 0, len(suppressions))
	for _, s := range suppressions {
		suppressionRows = append(suppressionRows, []interface{}{
			s.CreatedAt.Local().Format(timeLayout), s.Email, string(s.Scope), string(s.Source),
			s.CampaignID, s.CampaignRef, s.Reason,
		})
	}
	summaryRows := [][]interface{}{
		{string(model.QueuePending), stats.Pending},
		{string(model.QueueSending), stats.Sending},
		{string(model.QueueSent), stats.Sent},
		{string(model.QueueFailed), stats.Failed},
		{string(model.QueueSkipped), stats.Skipped},
	}

	sheets := []struct {
		name    string
		headers []string
		rows    [][]interface{}
	}{
		{SheetLog, []string{
			"Time", "Campaign", "Contact", "Email", "Step", "Subject", "Outcome", "Message ID", "Error",
		}, logRows},
		{SheetSuppressions, []string{
			"Time", "Email", "Scope", "Source", "Campaign", "Reference", "Reason",
		}, suppressionRows},
		{SheetSummary, []string{"Queue status", "Items"}, summaryRows},
	}

	for _, sh := range sheets {
		if sh.name != SheetLog {
			if _, err := f.NewSheet(sh.name); err != nil {
				f.Close()
				return nil, fmt.Errorf("creating sheet %s: %w", sh.name, err)
			}
		}
		if err := writeSheet(f, sh.name, sh.headers, sh.rows, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]interface{}, headerStyle int) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("writing %s header: %w", sheet, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("styling %s header: %w", sheet, err)
		}
	}

	for r, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, r+2, err)
		}
	}

	for i := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, col, col, 18)
	}
	return nil
}
