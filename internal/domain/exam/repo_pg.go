package exam

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examreg/examreg/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const examCols = `id, name, modality, patient_id, performed_at, idempotency_key,
	created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, e *Exam) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO exams (
			id, name, modality, patient_id, performed_at, idempotency_key,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.Name, e.Modality, e.PatientID, e.PerformedAt, e.IdempotencyKey,
		e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Exam, error) {
	return scanExam(r.conn(ctx).QueryRow(ctx,
		`SELECT `+examCols+` FROM exams WHERE id = $1`, id))
}

func (r *repoPG) GetByIdempotencyKey(ctx context.Context, key string) (*Exam, error) {
	return scanExam(r.conn(ctx).QueryRow(ctx,
		`SELECT `+examCols+` FROM exams WHERE idempotency_key = $1`, key))
}

func (r *repoPG) Update(ctx context.Context, e *Exam) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE exams SET
			name=$2, modality=$3, patient_id=$4, performed_at=$5, updated_at=$6
		WHERE id = $1`,
		e.ID, e.Name, e.Modality, e.PatientID, e.PerformedAt, e.UpdatedAt,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM exams WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Exam, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM exams`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+examCols+` FROM exams ORDER BY performed_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectExams(rows, total)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Exam, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM exams WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+examCols+` FROM exams WHERE patient_id = $1 ORDER BY performed_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectExams(rows, total)
}

func scanExam(row pgx.Row) (*Exam, error) {
	var e Exam
	err := row.Scan(
		&e.ID, &e.Name, &e.Modality, &e.PatientID, &e.PerformedAt, &e.IdempotencyKey,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectExams(rows pgx.Rows, total int) ([]*Exam, int, error) {
	var exams []*Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, 0, err
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}
