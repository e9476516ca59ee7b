package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/examreg/examreg/internal/platform/db"
)

// Domain failures surfaced by the patient use-cases. Handlers map them to
// transport status codes; everything else is treated as a store failure.
var (
	ErrNotFound     = errors.New("patient not found")
	ErrCPFInUse     = errors.New("a patient with this CPF is already registered")
	ErrInvalidInput = errors.New("invalid patient input")
)

// Service implements the patient use-cases. Every write runs inside a single
// transaction supplied by the Runner.
type Service struct {
	repo Repository
	tx   db.Runner
}

func NewService(repo Repository, tx db.Runner) *Service {
	return &Service{repo: repo, tx: tx}
}

// RegisterInput carries the fields for registering a patient. Status is
// optional and defaults to active.
type RegisterInput struct {
	FullName  string
	Email     string
	BirthDate time.Time
	Phone     string
	Address   string
	CPF       string
	Sex       Sex
	Status    Status
}

// Register creates a patient, enforcing CPF uniqueness. The existence check
// and the insert run in the same transaction so two concurrent requests with
// the same CPF cannot both succeed; the unique index on cpf is the final
// arbiter and its violation maps to ErrCPFInUse as well.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Patient, error) {
	status := in.Status
	if status == "" {
		status = StatusActive
	}

	now := time.Now().UTC()
	p := &Patient{
		ID:        uuid.New(),
		FullName:  in.FullName,
		Email:     in.Email,
		BirthDate: in.BirthDate,
		Phone:     in.Phone,
		Address:   in.Address,
		CPF:       in.CPF,
		Sex:       in.Sex,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetByCPF(ctx, in.CPF)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if existing != nil {
			return ErrCPFInUse
		}
		return s.repo.Create(ctx, p)
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			// Lost the race against a concurrent registration.
			return nil, ErrCPFInUse
		}
		return nil, err
	}
	return p, nil
}

// UpdateInput is a partial update: nil fields are left untouched. BirthDate
// is the raw wire string and must parse as 2006-01-02.
type UpdateInput struct {
	FullName  *string
	Email     *string
	BirthDate *string
	Phone     *string
	Address   *string
	Sex       *Sex
	Status    *Status
}

// Update applies the non-nil fields of in to the stored patient. The update
// timestamp is bumped only when a field genuinely changed; a no-op update
// skips the write entirely.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Patient, error) {
	var birth time.Time
	if in.BirthDate != nil {
		parsed, err := time.Parse(BirthDateLayout, *in.BirthDate)
		if err != nil {
			return nil, fmt.Errorf("%w: birth_date %q is not a valid date", ErrInvalidInput, *in.BirthDate)
		}
		birth = parsed
	}
	if in.Phone != nil && !ValidPhone(*in.Phone) {
		return nil, fmt.Errorf("%w: phone must match (XX) XXXXX-XXXX", ErrInvalidInput)
	}
	if in.Sex != nil && !in.Sex.Valid() {
		return nil, fmt.Errorf("%w: sex must be male, female or other", ErrInvalidInput)
	}
	if in.Status != nil && !in.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrInvalidInput, *in.Status)
	}

	var out *Patient
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		changed := false
		setStr := func(dst *string, v *string) {
			if v != nil && *dst != *v {
				*dst = *v
				changed = true
			}
		}
		setStr(&p.FullName, in.FullName)
		setStr(&p.Email, in.Email)
		setStr(&p.Phone, in.Phone)
		setStr(&p.Address, in.Address)
		if in.BirthDate != nil && !p.BirthDate.Equal(birth) {
			p.BirthDate = birth
			changed = true
		}
		if in.Sex != nil && p.Sex != *in.Sex {
			p.Sex = *in.Sex
			changed = true
		}
		if in.Status != nil && p.Status != *in.Status {
			p.Status = *in.Status
			changed = true
		}

		if changed {
			p.UpdatedAt = time.Now().UTC()
			if err := s.repo.Update(ctx, p); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a patient and returns a confirmation message. Exams owned by
// the patient are removed by the store's cascade.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (string, error) {
	var name string
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		name = p.FullName
		return s.repo.Delete(ctx, id)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("patient %q deleted", name), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}
