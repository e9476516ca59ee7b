package patient

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Status is a patient's lifecycle status. Inactive patients are kept on file
// but cannot receive new exams.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexOther  Sex = "other"
)

func (s Sex) Valid() bool {
	return s == SexMale || s == SexFemale || s == SexOther
}

// Patient maps to the patients table.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	BirthDate time.Time `db:"birth_date" json:"birth_date"`
	Phone     string    `db:"phone" json:"phone"`
	Address   string    `db:"address" json:"address"`
	CPF       string    `db:"cpf" json:"cpf"`
	Sex       Sex       `db:"sex" json:"sex"`
	Status    Status    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Active reports whether the patient can receive new exams.
func (p *Patient) Active() bool {
	return p.Status == StatusActive
}

// BirthDateLayout is the wire format for date-only fields.
const BirthDateLayout = "2006-01-02"

var (
	cpfPattern   = regexp.MustCompile(`^\d{3}\.\d{3}\.\d{3}-\d{2}$`)
	phonePattern = regexp.MustCompile(`^\(\d{2}\) \d{5}-\d{4}$`)
)

// ValidCPF reports whether s matches the XXX.XXX.XXX-XX format.
func ValidCPF(s string) bool {
	return cpfPattern.MatchString(s)
}

// ValidPhone reports whether s matches the (XX) XXXXX-XXXX format.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}

func (p *Patient) validate() error {
	if p.FullName == "" {
		return fmt.Errorf("%w: full_name is required", ErrInvalidInput)
	}
	if p.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if p.BirthDate.IsZero() {
		return fmt.Errorf("%w: birth_date is required", ErrInvalidInput)
	}
	if !ValidPhone(p.Phone) {
		return fmt.Errorf("%w: phone must match (XX) XXXXX-XXXX", ErrInvalidInput)
	}
	if p.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidInput)
	}
	if !ValidCPF(p.CPF) {
		return fmt.Errorf("%w: cpf must match XXX.XXX.XXX-XX", ErrInvalidInput)
	}
	if !p.Sex.Valid() {
		return fmt.Errorf("%w: sex must be male, female or other", ErrInvalidInput)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidInput, p.Status)
	}
	return nil
}
