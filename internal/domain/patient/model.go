// Package patient holds the ward census domain: the patient record and its
// embedded note ledger, the admission/discharge lifecycle, and the pure
// projections (filtered views, roster export) computed over snapshots.
package patient

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wardsync/wardsync/internal/platform/store"
)

// Status is the patient lifecycle state. Transitions are one-way:
// hospitalized -> discharged, never back.
type Status string

const (
	StatusHospitalized Status = "hospitalized"
	StatusDischarged   Status = "discharged"
)

// ServiceType distinguishes primary-service patients from consults. The
// stored codes are HO (primary/hospitalized under the service) and IC
// (interconsult), preserved from the original census schema.
type ServiceType string

const (
	ServicePrimary ServiceType = "HO"
	ServiceConsult ServiceType = "IC"
)

// NoteType classifies a clinical note.
type NoteType string

const (
	NoteProgress  NoteType = "progress"
	NoteLab       NoteType = "lab"
	NoteProcedure NoteType = "procedure"
)

// DateLayout is the calendar-date wire format for dob and admissionDate.
const DateLayout = "2006-01-02"

// MedicalHistory is the patient's relevant history flags. Field names are
// the stored schema and must not change.
type MedicalHistory struct {
	Diabetes     bool   `json:"dm"`
	Hypertension bool   `json:"has"`
	Allergies    string `json:"allergies"`
	Other        string `json:"others"`
}

// Note is one immutable entry in a patient's append-only ledger. Once
// appended it is never edited or removed.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Type      NoteType  `json:"type"`
}

// PatientRecord is one admitted or discharged patient. JSON tags are the
// stored wire schema, field-for-field compatible with existing documents.
// ID is the store-assigned document id and is never persisted inside fields.
type PatientRecord struct {
	ID             string         `json:"id,omitempty"`
	BedNumber      string         `json:"bedNumber"`
	RecordNumber   string         `json:"recordNumber"`
	FullName       string         `json:"fullName"`
	DateOfBirth    string         `json:"dob"`
	AdmissionDate  string         `json:"admissionDate"`
	Diagnosis      string         `json:"diagnosis"`
	Surgery        string         `json:"surgery"`
	ServiceType    ServiceType    `json:"serviceType"`
	MedicalHistory MedicalHistory `json:"medicalHistory"`
	Age            int            `json:"age"`
	Status         Status         `json:"status"`
	Notes          []Note         `json:"notes"`
	AdmittedBy     string         `json:"admittedBy"`
	CreatedAt      time.Time      `json:"createdAt"`
	DischargeDate  *time.Time     `json:"dischargeDate,omitempty"`
	DischargedBy   string         `json:"dischargedBy,omitempty"`
}

// Hospitalized reports whether the record is still on the active census.
func (p *PatientRecord) Hospitalized() bool { return p.Status == StatusHospitalized }

// Normalize backfills sub-structures that records written before the current
// schema may lack, so consumers never see a nil ledger.
func (p *PatientRecord) Normalize() {
	if p.Notes == nil {
		p.Notes = []Note{}
	}
}

// FromDocument decodes a store document into a PatientRecord. The document
// id always wins over any id embedded in the fields.
func FromDocument(doc store.Document) (*PatientRecord, error) {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	var rec PatientRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode patient %s: %w", doc.ID, err)
	}
	rec.ID = doc.ID
	rec.Normalize()
	return &rec, nil
}

// Fields encodes the record as store fields, excluding the document id.
func (p *PatientRecord) Fields() (store.Fields, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode patient: %w", err)
	}
	var fields store.Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode patient fields: %w", err)
	}
	delete(fields, "id")
	return fields, nil
}

// Age computes whole years between dob (DateLayout) and asOf: calendar year
// difference, decremented by one when asOf's month/day precede the
// birthday's. Unparseable or empty dob yields 0. Always recomputed; never
// trusted from stale stored state.
func Age(dob string, asOf time.Time) int {
	birth, err := time.Parse(DateLayout, dob)
	if err != nil {
		return 0
	}
	years := asOf.Year() - birth.Year()
	if asOf.Month() < birth.Month() ||
		(asOf.Month() == birth.Month() && asOf.Day() < birth.Day()) {
		years--
	}
	return years
}

// LengthOfStay computes whole days between admission (DateLayout) and the
// end of stay: the discharge timestamp for discharged records, otherwise
// now. The difference is taken as an absolute value, so a future-dated
// admission yields the same positive magnitude rather than a negative stay.
// That quirk is intentional and pinned by tests.
func LengthOfStay(admission string, discharge *time.Time, status Status, now time.Time) int {
	start, err := time.Parse(DateLayout, admission)
	if err != nil {
		return 0
	}
	end := now
	if status == StatusDischarged && discharge != nil {
		end = *discharge
	}
	diff := end.Sub(start)
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}

// SortByBed orders records for display: numerically when both bed numbers
// parse as integers, lexicographically otherwise. The sort is stable so
// ties keep store order.
func SortByBed(records []*PatientRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].BedNumber, records[j].BedNumber
		na, errA := strconv.Atoi(a)
		nb, errB := strconv.Atoi(b)
		if errA == nil && errB == nil {
			return na < nb
		}
		return a < b
	})
}

// Filter keeps records with the given status and, when term is non-empty,
// those whose full name, bed number, or diagnosis contains it
// case-insensitively.
func Filter(records []*PatientRecord, status Status, term string) []*PatientRecord {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]*PatientRecord, 0, len(records))
	for _, rec := range records {
		if rec.Status != status {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(rec.FullName), term) &&
			!strings.Contains(strings.ToLower(rec.BedNumber), term) &&
			!strings.Contains(strings.ToLower(rec.Diagnosis), term) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func validServiceType(t ServiceType) bool {
	return t == ServicePrimary || t == ServiceConsult
}

func validNoteType(t NoteType) bool {
	return t == NoteProgress || t == NoteLab || t == NoteProcedure
}
