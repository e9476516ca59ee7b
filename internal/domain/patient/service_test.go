package patient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// -- Mock repository --
//
// The mock enforces the cpf unique index the way Postgres does: an insert
// that collides fails with SQLSTATE 23505 even when the caller's existence
// check passed earlier.

type mockRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
	failGet  error
	blindGet bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.patients {
		if existing.CPF == p.CPF {
			return &pgconn.PgError{Code: "23505", ConstraintName: "patients_cpf_key"}
		}
	}
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetByCPF(_ context.Context, cpf string) (*Patient, error) {
	if m.failGet != nil {
		return nil, m.failGet
	}
	if m.blindGet {
		return nil, pgx.ErrNoRows
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if p.CPF == cpf {
			cp := *p
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.patients, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Patient
	for _, p := range m.patients {
		cp := *p
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patients)
}

// rollbackRunner simulates transactional behavior over the mock: units of
// work run one at a time, and a failed unit restores the state it started
// from.
type rollbackRunner struct {
	txMu sync.Mutex
	repo *mockRepo
}

func (r *rollbackRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.InTxAll(ctx, fn)
}

func (r *rollbackRunner) InTxAll(ctx context.Context, ops ...func(ctx context.Context) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.repo.mu.Lock()
	snapshot := make(map[uuid.UUID]*Patient, len(r.repo.patients))
	for id, p := range r.repo.patients {
		cp := *p
		snapshot[id] = &cp
	}
	r.repo.mu.Unlock()

	for _, op := range ops {
		if err := op(ctx); err != nil {
			r.repo.mu.Lock()
			r.repo.patients = snapshot
			r.repo.mu.Unlock()
			return err
		}
	}
	return nil
}

func newService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, &rollbackRunner{repo: repo}), repo
}

func validInput() RegisterInput {
	return RegisterInput{
		FullName:  "Maria Souza",
		Email:     "maria@example.com",
		BirthDate: time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC),
		Phone:     "(11) 98765-4321",
		Address:   "Rua das Flores 100, São Paulo",
		CPF:       "123.456.789-00",
		Sex:       SexFemale,
	}
}

func TestRegister_Success(t *testing.T) {
	svc, repo := newService()

	p, err := svc.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected a generated ID")
	}
	if p.Status != StatusActive {
		t.Errorf("expected default status active, got %s", p.Status)
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
	if repo.count() != 1 {
		t.Errorf("expected 1 patient stored, got %d", repo.count())
	}
}

func TestRegister_DuplicateCPF(t *testing.T) {
	svc, repo := newService()

	first, err := svc.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in := validInput()
	in.FullName = "Outra Pessoa"
	_, err = svc.Register(context.Background(), in)
	if !errors.Is(err, ErrCPFInUse) {
		t.Fatalf("expected ErrCPFInUse, got %v", err)
	}
	if repo.count() != 1 {
		t.Errorf("expected 1 patient after duplicate attempt, got %d", repo.count())
	}
	if stored, _ := repo.GetByID(context.Background(), first.ID); stored == nil {
		t.Error("original patient must survive the duplicate attempt")
	}
}

func TestRegister_UniqueViolationMapsToCPFInUse(t *testing.T) {
	svc, repo := newService()

	if _, err := svc.Register(context.Background(), validInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Blind the existence check so the insert reaches the unique index, the
	// way a concurrent registration that lost the race would.
	repo.blindGet = true
	_, err := svc.Register(context.Background(), validInput())
	if !errors.Is(err, ErrCPFInUse) {
		t.Fatalf("expected ErrCPFInUse from the index violation, got %v", err)
	}
	if repo.count() != 1 {
		t.Errorf("expected 1 patient stored, got %d", repo.count())
	}
}

func TestRegister_DuplicateCPF_Concurrent(t *testing.T) {
	svc, repo := newService()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(context.Background(), validInput())
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrCPFInUse):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly 1 successful registration, got %d", successes)
	}
	if repo.count() != 1 {
		t.Errorf("expected 1 patient stored, got %d", repo.count())
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	svc, _ := newService()

	cases := []struct {
		name   string
		mutate func(*RegisterInput)
	}{
		{"missing name", func(in *RegisterInput) { in.FullName = "" }},
		{"bad phone", func(in *RegisterInput) { in.Phone = "11987654321" }},
		{"bad cpf", func(in *RegisterInput) { in.CPF = "12345678900" }},
		{"bad sex", func(in *RegisterInput) { in.Sex = "unknown" }},
		{"missing birth date", func(in *RegisterInput) { in.BirthDate = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Register(context.Background(), in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRegister_StoreFailurePropagates(t *testing.T) {
	svc, repo := newService()
	repo.failGet = errors.New("connection refused")

	_, err := svc.Register(context.Background(), validInput())
	if err == nil || errors.Is(err, ErrCPFInUse) || errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected the store error to propagate unchanged, got %v", err)
	}
	if repo.count() != 0 {
		t.Errorf("expected no patient stored, got %d", repo.count())
	}
}

func TestUpdate_PartialFields(t *testing.T) {
	svc, _ := newService()
	p, err := svc.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(time.Millisecond)
	name := "Maria Souza Lima"
	updated, err := svc.Update(context.Background(), p.ID, UpdateInput{FullName: &name})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if updated.FullName != name {
		t.Errorf("expected name %q, got %q", name, updated.FullName)
	}
	if updated.Email != p.Email || updated.CPF != p.CPF || updated.Phone != p.Phone {
		t.Error("fields absent from the input must be left untouched")
	}
	if !updated.UpdatedAt.After(p.UpdatedAt) {
		t.Error("expected updated_at to be bumped when a field changed")
	}
	if !updated.CreatedAt.Equal(p.CreatedAt) {
		t.Error("created_at must never change on update")
	}
}

func TestUpdate_NoChangeSkipsWrite(t *testing.T) {
	svc, _ := newService()
	p, err := svc.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	same := p.FullName
	updated, err := svc.Update(context.Background(), p.ID, UpdateInput{FullName: &same})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.UpdatedAt.Equal(p.UpdatedAt) {
		t.Error("expected updated_at unchanged when no field genuinely changed")
	}
}

func TestUpdate_BadBirthDate(t *testing.T) {
	svc, _ := newService()
	p, err := svc.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := "12/04/1990"
	_, err = svc.Update(context.Background(), p.ID, UpdateInput{BirthDate: &bad})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unparseable date, got %v", err)
	}

	// The stored record must be untouched.
	stored, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stored.BirthDate.Equal(p.BirthDate) {
		t.Error("birth_date must not be corrupted by a failed parse")
	}
}

func TestUpdate_Deactivate(t *testing.T) {
	svc, _ := newService()
	p, err := svc.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inactive := StatusInactive
	updated, err := svc.Update(context.Background(), p.ID, UpdateInput{Status: &inactive})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Active() {
		t.Error("expected patient to be inactive after the transition")
	}
}

func TestUpdate_NotFound(t *testing.T) {
	svc, _ := newService()
	name := "X"
	_, err := svc.Update(context.Background(), uuid.New(), UpdateInput{FullName: &name})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, repo := newService()
	p, err := svc.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg, err := svc.Delete(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != `patient "Maria Souza" deleted` {
		t.Errorf("unexpected confirmation message: %q", msg)
	}
	if repo.count() != 0 {
		t.Errorf("expected 0 patients after delete, got %d", repo.count())
	}

	if _, err := svc.Delete(context.Background(), p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for repeated delete, got %v", err)
	}
}
