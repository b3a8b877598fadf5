package attendance

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists classrooms and attendance in Postgres. The
// attendance_records table carries a UNIQUE constraint on the idempotency key.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetClassroom loads a classroom with its sessions.
func (r *Repository) GetClassroom(ctx context.Context, id string) (Classroom, error) {
	var c Classroom
	row := r.db.QueryRowContext(ctx, `SELECT id, code, name FROM classrooms WHERE id = $1`, id)
	if err := row.Scan(&c.ID, &c.Code, &c.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Classroom{}, ErrClassroomNotFound
		}
		return Classroom{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, day, start_time, end_time,
		       COALESCE(start_time_24, ''), COALESCE(end_time_24, ''), COALESCE(subject, '')
		FROM class_sessions
		WHERE classroom_id = $1
		ORDER BY position, id
	`, id)
	if err != nil {
		return Classroom{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Day, &s.StartTime, &s.EndTime, &s.StartTime24, &s.EndTime24, &s.Subject); err != nil {
			return Classroom{}, err
		}
		c.Sessions = append(c.Sessions, s)
	}
	return c, rows.Err()
}

// ListEnrolledStudents returns the roster of a class code.
func (r *Repository) ListEnrolledStudents(ctx context.Context, classCode string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, display_name
		FROM enrollments
		WHERE class_code = $1
		ORDER BY student_id
	`, classCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.DisplayName); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// ListClassroomIDs returns every classroom id.
func (r *Repository) ListClassroomIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM classrooms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindRecord looks a record up by its idempotency key.
func (r *Repository) FindRecord(ctx context.Context, key Key) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, class_code, student_id, date, subject, status, occurred_at, submitted_at, proof_ref, excuse, source
		FROM attendance_records
		WHERE class_code = $1 AND student_id = $2 AND date = $3 AND subject = $4
	`, key.ClassCode, key.StudentID, key.Date, key.Subject)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.ClassCode, &rec.StudentID, &rec.Date, &rec.Subject, &rec.Status,
		&rec.Timestamp, &rec.SubmittedAt, &rec.ProofRef, &rec.Excuse, &rec.Source); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// CreateRecord inserts rec unless its key is taken, in which case it returns
// ErrDuplicate.
func (r *Repository) CreateRecord(ctx context.Context, rec Record) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, class_code, student_id, date, subject, status, is_late, occurred_at, submitted_at, proof_ref, excuse, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (class_code, student_id, date, subject) DO NOTHING
		RETURNING id
	`, rec.ID, rec.ClassCode, rec.StudentID, rec.Date, rec.Subject, rec.Status, rec.Status.IsLate(),
		rec.Timestamp, rec.SubmittedAt, rec.ProofRef, rec.Excuse, rec.Source)
	if err := row.Scan(&rec.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return Record{}, ErrDuplicate
		}
		return Record{}, err
	}
	return rec, nil
}

// isUniqueViolation catches 23505 raised by a concurrent insert on another
// unique index (the primary key).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
