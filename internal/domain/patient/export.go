package patient

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

// RosterHeader is the fixed column order of the active roster export.
var RosterHeader = []string{
	"Service", "Bed", "Record", "Name", "Age", "Diagnosis", "Surgery",
	"DM", "HTN", "Allergies", "Other History", "Admitted", "Days",
}

// ActiveRoster projects the hospitalized records into flat export rows in
// RosterHeader order. Age and length of stay are recomputed from the record,
// never read from stale stored values. Blank allergies export as "denied",
// matching the original census sheets.
func ActiveRoster(records []*PatientRecord, now time.Time) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		if !rec.Hospitalized() {
			continue
		}
		allergies := rec.MedicalHistory.Allergies
		if allergies == "" {
			allergies = "denied"
		}
		rows = append(rows, []string{
			string(rec.ServiceType),
			rec.BedNumber,
			rec.RecordNumber,
			rec.FullName,
			fmt.Sprintf("%d", Age(rec.DateOfBirth, now)),
			rec.Diagnosis,
			rec.Surgery,
			yesNo(rec.MedicalHistory.Diabetes),
			yesNo(rec.MedicalHistory.Hypertension),
			allergies,
			rec.MedicalHistory.Other,
			rec.AdmissionDate,
			fmt.Sprintf("%d", LengthOfStay(rec.AdmissionDate, nil, StatusHospitalized, now)),
		})
	}
	return rows
}

// WriteRosterCSV serializes the active roster as CSV. Fields containing
// delimiters, quotes, or newlines are quoted by the encoder. Delivery of
// the output (file, HTTP response) is the caller's concern.
func WriteRosterCSV(w io.Writer, records []*PatientRecord, now time.Time) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RosterHeader); err != nil {
		return fmt.Errorf("write roster header: %w", err)
	}
	for _, row := range ActiveRoster(records, now) {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write roster row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush roster: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
