package exam

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Exam maps to the exams table. The idempotency key identifies the logical
// creation request; replaying it returns the original row instead of creating
// a duplicate.
type Exam struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Modality       string    `db:"modality" json:"modality"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	PerformedAt    time.Time `db:"performed_at" json:"performed_at"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// DICOM modality codes accepted for an exam.
var validModalities = map[string]bool{
	"CR": true,
	"CT": true,
	"DX": true,
	"MG": true,
	"MR": true,
	"NM": true,
	"OT": true,
	"PT": true,
	"RF": true,
	"US": true,
	"XA": true,
}

// ValidModality reports whether code is one of the accepted modality codes.
func ValidModality(code string) bool {
	return validModalities[code]
}

const (
	minIdempotencyKeyLen = 10
	maxIdempotencyKeyLen = 255
)

func (e *Exam) validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !ValidModality(e.Modality) {
		return fmt.Errorf("%w: invalid modality %q", ErrInvalidInput, e.Modality)
	}
	if e.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if n := len(e.IdempotencyKey); n < minIdempotencyKeyLen || n > maxIdempotencyKeyLen {
		return fmt.Errorf("%w: idempotency_key must be %d-%d characters",
			ErrInvalidInput, minIdempotencyKeyLen, maxIdempotencyKeyLen)
	}
	return nil
}
