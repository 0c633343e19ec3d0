package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wardsync/wardsync/internal/platform/store"
)

// AppendNote appends one immutable note to the patient's ledger.
//
// The append is a transactional read-modify-write: the current ledger is
// read inside the store transaction, the new note appended, and the whole
// ledger written back. Two authors writing within the same instant both
// land — the store serializes conflicting transactions on the document and
// retries them, so no concurrent note is ever overwritten. Reading the
// ledger from a cached snapshot and writing back "old ledger + note" as a
// plain field update would silently drop the loser's note.
//
// The hospitalized precondition is checked against the caller-visible
// snapshot; a discharge racing this append is tolerated.
func (s *Service) AppendNote(ctx context.Context, patientID, content, author string, noteType NoteType) (*Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("note content is empty: %w", ErrValidation)
	}
	if noteType == "" {
		noteType = NoteProgress
	}
	if !validNoteType(noteType) {
		return nil, fmt.Errorf("invalid note type %q: %w", noteType, ErrValidation)
	}

	current, ok := s.source.Lookup(patientID)
	if !ok {
		return nil, fmt.Errorf("append note to %s: %w", patientID, store.ErrNotFound)
	}
	if !current.Hospitalized() {
		return nil, fmt.Errorf("patient %s is discharged: %w", patientID, ErrInvalidTransition)
	}

	note := Note{
		ID:        uuid.NewString(),
		Content:   content,
		Author:    author,
		CreatedAt: s.now().UTC(),
		Type:      noteType,
	}
	encoded, err := noteValue(note)
	if err != nil {
		return nil, err
	}

	// The update fn may run more than once under store retry; the note is
	// built once above so every attempt appends the identical entry.
	err = s.store.Transact(ctx, s.collection, patientID, func(fields store.Fields) (store.Fields, error) {
		ledger, _ := fields["notes"].([]any)
		fields["notes"] = append(ledger, encoded)
		return fields, nil
	})
	if err != nil {
		s.metrics.IncStoreErrors()
		return nil, fmt.Errorf("append note to %s: %w", patientID, err)
	}

	s.metrics.IncNotesAppended()
	s.logger.Info().Str("patient_id", patientID).Str("note_id", note.ID).
		Str("type", string(noteType)).Msg("note appended")
	return &note, nil
}

// noteValue converts a Note to the generic field representation stored in
// the document's notes array.
func noteValue(n Note) (map[string]any, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode note: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode note fields: %w", err)
	}
	return out, nil
}
