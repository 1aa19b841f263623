package export

import (
	"fmt"
	"io"
	"time"

	"skillspring-backend/internal/application/domain"

	"github.com/xuri/excelize/v2"
)

const (
	SummarySheet      = "Summary"
	ApplicationsSheet = "Applications"
	HistorySheet      = "Status History"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	dateLayout  = "2006-01-02 15:04"
)

var applicationHeaders = []string{
	"Type", "Company", "Role", "Platform", "Status", "Confidence", "First Seen", "Last Update", "Emails",
}

var historyHeaders = []string{"Company", "Role", "Status", "Observed At", "Email Subject"}

// WriteWorkbook writes the ledger as an XLSX workbook with a summary, one
// row per application and one row per status event.
func WriteWorkbook(w io.Writer, records []*domain.ApplicationRecord, insights *domain.Insights, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(ApplicationsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(HistorySheet); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	if err := writeSummary(f, headerStyle, insights, generatedAt); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if err := writeApplications(f, headerStyle, records); err != nil {
		return fmt.Errorf("failed to create applications sheet: %w", err)
	}
	if err := writeHistory(f, headerStyle, records); err != nil {
		return fmt.Errorf("failed to create history sheet: %w", err)
	}

	_, err = f.WriteTo(w)
	return err
}

func writeSummary(f *excelize.File, headerStyle int, in *domain.Insights, generatedAt time.Time) error {
	if in == nil {
		in = &domain.Insights{}
	}
	f.SetColWidth(SummarySheet, "A", "A", 28)
	f.SetColWidth(SummarySheet, "B", "B", 80)

	rows := [][]any{
		{"Application Report", ""},
		{"Generated", generatedAt.UTC().Format(dateLayout)},
		{"Total Applications", in.Total},
		{"Jobs", in.ByType[domain.TypeJob]},
		{"Internships", in.ByType[domain.TypeInternship]},
		{"Hackathons", in.ByType[domain.TypeHackathon]},
		{"Interviews", in.ByStatus[domain.StatusInterview]},
		{"Offers", in.ByStatus[domain.StatusSelected]},
		{"Rejections", in.ByStatus[domain.StatusRejected]},
		{"Summary", in.Summary},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "B1", headerStyle); err != nil {
		return err
	}
	return f.MergeCell(SummarySheet, "A1", "B1")
}

func writeApplications(f *excelize.File, headerStyle int, records []*domain.ApplicationRecord) error {
	if err := writeHeader(f, ApplicationsSheet, headerStyle, applicationHeaders); err != nil {
		return err
	}
	f.SetColWidth(ApplicationsSheet, "A", "A", 12)
	f.SetColWidth(ApplicationsSheet, "B", "C", 30)
	f.SetColWidth(ApplicationsSheet, "D", "I", 16)

	for i, r := range records {
		row := []any{
			string(r.Type),
			r.Company,
			r.Role,
			r.Platform,
			string(r.Status),
			r.Confidence,
			r.FirstObservedAt.UTC().Format(dateLayout),
			r.LastUpdatedAt.UTC().Format(dateLayout),
			len(r.StatusHistory),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(ApplicationsSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetPanes(ApplicationsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeHistory(f *excelize.File, headerStyle int, records []*domain.ApplicationRecord) error {
	if err := writeHeader(f, HistorySheet, headerStyle, historyHeaders); err != nil {
		return err
	}
	f.SetColWidth(HistorySheet, "A", "B", 30)
	f.SetColWidth(HistorySheet, "C", "D", 18)
	f.SetColWidth(HistorySheet, "E", "E", 60)

	rowNum := 2
	for _, r := range records {
		for _, e := range r.StatusHistory {
			row := []any{r.Company, r.Role, string(e.Status), e.ObservedAt.UTC().Format(dateLayout), e.Subject}
			cell, _ := excelize.CoordinatesToCellName(1, rowNum)
			if err := f.SetSheetRow(HistorySheet, cell, &row); err != nil {
				return err
			}
			rowNum++
		}
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, style int, headers []string) error {
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	return f.SetCellStyle(sheet, "A1", last, style)
}
