package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardsync/wardsync/internal/platform/metrics"
	"github.com/wardsync/wardsync/internal/platform/store"
)

// RecordSource is the caller-visible snapshot the lifecycle guards consult.
// The sync engine implements it.
type RecordSource interface {
	Lookup(id string) (*PatientRecord, bool)
}

// Service validates census intents and round-trips them through the remote
// store. It never mutates the local snapshot directly; changes come back
// through the store's change feed.
type Service struct {
	store      store.Store
	collection string
	source     RecordSource
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(st store.Store, collection string, source RecordSource, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:      st,
		collection: collection,
		source:     source,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// SetClock overrides the service clock. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// AdmitInput carries the demographic fields of a new admission.
type AdmitInput struct {
	BedNumber      string         `json:"bedNumber"`
	RecordNumber   string         `json:"recordNumber"`
	FullName       string         `json:"fullName"`
	DateOfBirth    string         `json:"dob"`
	AdmissionDate  string         `json:"admissionDate"`
	Diagnosis      string         `json:"diagnosis"`
	Surgery        string         `json:"surgery"`
	ServiceType    ServiceType    `json:"serviceType"`
	MedicalHistory MedicalHistory `json:"medicalHistory"`
}

func (in *AdmitInput) validate() error {
	if strings.TrimSpace(in.BedNumber) == "" {
		return fmt.Errorf("bed number is required: %w", ErrValidation)
	}
	if strings.TrimSpace(in.FullName) == "" {
		return fmt.Errorf("full name is required: %w", ErrValidation)
	}
	if in.ServiceType == "" {
		in.ServiceType = ServicePrimary
	}
	if !validServiceType(in.ServiceType) {
		return fmt.Errorf("invalid service type %q: %w", in.ServiceType, ErrValidation)
	}
	return nil
}

// Admit creates a new hospitalized record with a computed age, an empty note
// ledger, and the acting clinician as admittedBy. No existing record is
// touched.
func (s *Service) Admit(ctx context.Context, actor string, in AdmitInput) (*PatientRecord, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &PatientRecord{
		BedNumber:      strings.TrimSpace(in.BedNumber),
		RecordNumber:   strings.TrimSpace(in.RecordNumber),
		FullName:       strings.TrimSpace(in.FullName),
		DateOfBirth:    in.DateOfBirth,
		AdmissionDate:  in.AdmissionDate,
		Diagnosis:      in.Diagnosis,
		Surgery:        in.Surgery,
		ServiceType:    in.ServiceType,
		MedicalHistory: in.MedicalHistory,
		Age:            Age(in.DateOfBirth, now),
		Status:         StatusHospitalized,
		Notes:          []Note{},
		AdmittedBy:     actor,
		CreatedAt:      now,
	}

	fields, err := rec.Fields()
	if err != nil {
		return nil, err
	}
	id, err := s.store.Add(ctx, s.collection, fields)
	if err != nil {
		s.metrics.IncStoreErrors()
		return nil, fmt.Errorf("admit patient: %w", err)
	}
	rec.ID = id

	s.metrics.IncAdmissions()
	s.logger.Info().Str("patient_id", id).Str("bed", rec.BedNumber).
		Str("actor", actor).Msg("patient admitted")
	return rec, nil
}

// EditDemographics updates the demographic fields of a hospitalized record
// and recomputes the age. Status, the note ledger, and the discharge fields
// are never touched. Editing a discharged record is rejected.
func (s *Service) EditDemographics(ctx context.Context, id string, in AdmitInput) error {
	current, ok := s.source.Lookup(id)
	if !ok {
		return fmt.Errorf("edit patient %s: %w", id, store.ErrNotFound)
	}
	if !current.Hospitalized() {
		return fmt.Errorf("patient %s is discharged: %w", id, ErrInvalidTransition)
	}
	if err := in.validate(); err != nil {
		return err
	}

	partial := store.Fields{
		"fullName":      strings.TrimSpace(in.FullName),
		"bedNumber":     strings.TrimSpace(in.BedNumber),
		"recordNumber":  strings.TrimSpace(in.RecordNumber),
		"dob":           in.DateOfBirth,
		"age":           Age(in.DateOfBirth, s.now().UTC()),
		"admissionDate": in.AdmissionDate,
		"diagnosis":     in.Diagnosis,
		"surgery":       in.Surgery,
		"serviceType":   string(in.ServiceType),
		"medicalHistory": map[string]any{
			"dm":        in.MedicalHistory.Diabetes,
			"has":       in.MedicalHistory.Hypertension,
			"allergies": in.MedicalHistory.Allergies,
			"others":    in.MedicalHistory.Other,
		},
	}
	if err := s.store.UpdateFields(ctx, s.collection, id, partial); err != nil {
		s.metrics.IncStoreErrors()
		return fmt.Errorf("edit patient %s: %w", id, err)
	}
	s.logger.Info().Str("patient_id", id).Msg("patient demographics updated")
	return nil
}

// Discharge moves a hospitalized record to discharged, stamping the time
// and the acting clinician. A second discharge is a no-op with error so
// double submissions surface instead of passing silently. The write is a
// plain field update: if two actors discharge at the same instant the
// last write wins, and either outcome is an equivalent end state.
func (s *Service) Discharge(ctx context.Context, id, actor string) error {
	current, ok := s.source.Lookup(id)
	if !ok {
		return fmt.Errorf("discharge patient %s: %w", id, store.ErrNotFound)
	}
	if !current.Hospitalized() {
		return fmt.Errorf("patient %s already discharged: %w", id, ErrInvalidTransition)
	}

	now := s.now().UTC()
	partial := store.Fields{
		"status":        string(StatusDischarged),
		"dischargeDate": now.Format(time.RFC3339Nano),
		"dischargedBy":  actor,
	}
	if err := s.store.UpdateFields(ctx, s.collection, id, partial); err != nil {
		s.metrics.IncStoreErrors()
		return fmt.Errorf("discharge patient %s: %w", id, err)
	}

	s.metrics.IncDischarges()
	s.logger.Info().Str("patient_id", id).Str("actor", actor).Msg("patient discharged")
	return nil
}
