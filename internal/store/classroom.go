package store

import (
	"database/sql"

	"github.com/practice-lms/practice/internal/model"
)

// CreateClassroom creates a classroom owned by a teacher.
func (s *Store) CreateClassroom(name string, ownerID int64) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO classrooms (name, owner_id) VALUES (?, ?)`, name, ownerID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetClassroom returns a classroom by ID, or nil.
func (s *Store) GetClassroom(id int64) (*model.Classroom, error) {
	var c model.Classroom
	err := s.db.QueryRow(
		`SELECT id, name, owner_id FROM classrooms WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.OwnerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListClassrooms returns all classrooms.
func (s *Store) ListClassrooms() ([]model.Classroom, error) {
	rows, err := s.db.Query(`SELECT id, name, owner_id FROM classrooms ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var classes []model.Classroom
	for rows.Next() {
		var c model.Classroom
		if err := rows.Scan(&c.ID, &c.Name, &c.OwnerID); err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// EnrollStudent adds a student to a classroom. Enrolling twice is a no-op.
func (s *Store) EnrollStudent(classroomID, studentID int64) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO enrollments (classroom_id, student_id) VALUES (?, ?)`,
		classroomID, studentID,
	)
	return err
}

// ListEnrollments returns the enrollments of one classroom.
func (s *Store) ListEnrollments(classroomID int64) ([]model.Enrollment, error) {
	rows, err := s.db.Query(
		`SELECT id, classroom_id, student_id FROM enrollments WHERE classroom_id = ? ORDER BY id`,
		classroomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var enrollments []model.Enrollment
	for rows.Next() {
		var e model.Enrollment
		if err := rows.Scan(&e.ID, &e.ClassroomID, &e.StudentID); err != nil {
			return nil, err
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}
