package exam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/examreg/examreg/internal/platform/db"
)

// Domain failures surfaced by the exam use-cases.
var (
	ErrNotFound        = errors.New("exam not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrPatientInactive = errors.New("cannot register an exam for an inactive patient")
	ErrInvalidInput    = errors.New("invalid exam input")
)

// PatientRef is the slice of a patient the exam use-cases need.
type PatientRef struct {
	ID       uuid.UUID
	FullName string
	Active   bool
}

// PatientDirectory looks up patients for exam registration checks. A nil
// result with a nil error means the patient does not exist. Implementations
// must honor the transaction on the context.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*PatientRef, error)
}

type Service struct {
	repo     Repository
	patients PatientDirectory
	tx       db.Runner
}

func NewService(repo Repository, patients PatientDirectory, tx db.Runner) *Service {
	return &Service{repo: repo, patients: patients, tx: tx}
}

// RegisterInput carries the fields for registering an exam. PerformedAt is
// optional and defaults to the registration time.
type RegisterInput struct {
	Name           string
	Modality       string
	PatientID      uuid.UUID
	PerformedAt    time.Time
	IdempotencyKey string
}

// Register creates an exam, or returns the exam previously created for the
// same idempotency key. The bool result reports whether a new record was
// created; a replay is a success, not a conflict.
//
// The key lookup runs first so a replay short-circuits before the patient
// checks: a patient may have gone inactive since the original call, and the
// replay must still return the original result.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Exam, bool, error) {
	now := time.Now().UTC()
	performed := in.PerformedAt
	if performed.IsZero() {
		performed = now
	}
	e := &Exam{
		ID:             uuid.New(),
		Name:           in.Name,
		Modality:       in.Modality,
		PatientID:      in.PatientID,
		PerformedAt:    performed,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.validate(); err != nil {
		return nil, false, err
	}

	var out *Exam
	created := false
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		ref, err := s.patients.GetPatient(ctx, in.PatientID)
		if err != nil {
			return err
		}
		if ref == nil {
			return ErrPatientNotFound
		}
		if !ref.Active {
			return ErrPatientInactive
		}

		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		out = e
		created = true
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			// A concurrent request with the same key won the insert race. The
			// unique index is the arbiter; resolve the loss as a replay of the
			// winner's result. The aborted transaction has rolled back, so
			// this lookup runs outside it.
			if dup, lookupErr := s.repo.GetByIdempotencyKey(ctx, in.IdempotencyKey); lookupErr == nil {
				return dup, false, nil
			}
		}
		return nil, false, err
	}
	return out, created, nil
}

// UpdateInput is a partial update: nil fields are left untouched. PerformedAt
// is the raw wire string and must parse as RFC 3339.
type UpdateInput struct {
	Name        *string
	Modality    *string
	PatientID   *uuid.UUID
	PerformedAt *string
}

// Update applies the non-nil fields of in to the stored exam. A new patient
// reference must point at an existing, active patient.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Exam, error) {
	var performed time.Time
	if in.PerformedAt != nil {
		parsed, err := time.Parse(time.RFC3339, *in.PerformedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: performed_at %q is not a valid timestamp", ErrInvalidInput, *in.PerformedAt)
		}
		performed = parsed
	}
	if in.Modality != nil && !ValidModality(*in.Modality) {
		return nil, fmt.Errorf("%w: invalid modality %q", ErrInvalidInput, *in.Modality)
	}

	var out *Exam
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		changed := false
		if in.Name != nil && e.Name != *in.Name {
			e.Name = *in.Name
			changed = true
		}
		if in.Modality != nil && e.Modality != *in.Modality {
			e.Modality = *in.Modality
			changed = true
		}
		if in.PatientID != nil && e.PatientID != *in.PatientID {
			ref, err := s.patients.GetPatient(ctx, *in.PatientID)
			if err != nil {
				return err
			}
			if ref == nil {
				return ErrPatientNotFound
			}
			if !ref.Active {
				return ErrPatientInactive
			}
			e.PatientID = *in.PatientID
			changed = true
		}
		if in.PerformedAt != nil && !e.PerformedAt.Equal(performed) {
			e.PerformedAt = performed
			changed = true
		}

		if changed {
			e.UpdatedAt = time.Now().UTC()
			if err := s.repo.Update(ctx, e); err != nil {
				return err
			}
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an exam and returns a confirmation message.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (string, error) {
	var name string
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		name = e.Name
		return s.repo.Delete(ctx, id)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("exam %q deleted", name), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Exam, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Exam, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Exam, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
