package settlement

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "summary"
	linesSheet   = "lines"
)

// BuildStatementXLSX renders a settlement result as a workbook: one summary
// row per tenant statement and one row per statement line.
func BuildStatementXLSX(result Result) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}

	_ = f.SetCellValue(summarySheet, "A1", "Betriebskostenabrechnung")
	_ = f.SetCellValue(summarySheet, "A2", "Property")
	_ = f.SetCellValue(summarySheet, "B2", string(result.PropertyID))
	_ = f.SetCellValue(summarySheet, "A3", "Year")
	_ = f.SetCellValue(summarySheet, "B3", result.Year)
	_ = f.SetCellValue(summarySheet, "A4", "Expense Total")
	_ = f.SetCellValue(summarySheet, "B4", result.ExpenseTotal.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A5", "Owner Share")
	_ = f.SetCellValue(summarySheet, "B5", result.OwnerShare.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A6", "Undistributed")
	_ = f.SetCellValue(summarySheet, "B6", result.Undistributed.InexactFloat64())

	header := []string{"Statement", "Unit", "Tenant", "Net", "VAT", "Gross", "Prepaid", "Balance"}
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 8)
		_ = f.SetCellValue(summarySheet, cell, h)
	}
	for i, st := range result.Statements {
		row := i + 9
		values := []any{
			string(st.InvoiceID),
			string(st.UnitID),
			string(st.TenantID),
			st.TotalNet.InexactFloat64(),
			st.TotalVAT.InexactFloat64(),
			st.TotalGross.InexactFloat64(),
			st.Prepaid.InexactFloat64(),
			st.Balance.InexactFloat64(),
		}
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return nil, fmt.Errorf("write statement %s: %w", st.InvoiceID, err)
		}
	}

	lineHeader := []any{"Statement", "Category", "Description", "Net", "VAT Rate", "VAT", "Gross", "Provisional"}
	if err := f.SetSheetRow(linesSheet, "A1", &lineHeader); err != nil {
		return nil, fmt.Errorf("write line header: %w", err)
	}
	row := 2
	for _, st := range result.Statements {
		for _, l := range st.Lines {
			values := []any{
				string(st.InvoiceID),
				string(l.Category),
				l.Description,
				l.Net.InexactFloat64(),
				l.VATRate.InexactFloat64(),
				l.VAT.InexactFloat64(),
				l.Gross.InexactFloat64(),
				l.Provisional,
			}
			if err := f.SetSheetRow(linesSheet, fmt.Sprintf("A%d", row), &values); err != nil {
				return nil, fmt.Errorf("write line of %s: %w", st.InvoiceID, err)
			}
			row++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
