package models

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ExportSheet is the sheet name of an XLSX export.
const ExportSheet = "Visits"

// WriteXLSX writes visits as a single-sheet workbook with a header row in
// Columns order. Price is written as a number.
func WriteXLSX(w io.Writer, visits []Visit) error {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	xl.SetSheetName(xl.GetSheetName(0), ExportSheet)

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := xl.SetSheetRow(ExportSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, v := range visits {
		row := []interface{}{
			v.VisitID, v.ClientID, v.Date, string(v.Direction), v.ClientName, v.Phone,
			v.Service, v.Price, v.ReferredBy, v.StudyPlace, v.VkLink, v.MailingConsent,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := xl.SetSheetRow(ExportSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if _, err := xl.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
