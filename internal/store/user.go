package store

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/practice-lms/practice/internal/model"
)

// CreateUser inserts a new user and its student profile. The profile SID
// is derived from the new user id ("S%06d").
func (s *Store) CreateUser(u model.User) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.Exec(
		`INSERT INTO users (username, email, first_name, last_name, password_hash, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.Role, u.Active, now,
	)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(
		`INSERT INTO student_profiles (user_id, sid, created_at) VALUES (?, ?, ?)`,
		id, model.FormatSID(id), now,
	)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role)
	return id, nil
}

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName,
		&u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const userCols = `id, username, email, first_name, last_name, password_hash, role, active, created_at`

// GetUserByUsername returns a user by username, or nil.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	return scanUser(s.db.QueryRow(
		`SELECT `+userCols+` FROM users WHERE username = ?`, username,
	))
}

// GetUserByID returns a user by ID, or nil.
func (s *Store) GetUserByID(id int64) (*model.User, error) {
	return scanUser(s.db.QueryRow(
		`SELECT `+userCols+` FROM users WHERE id = ?`, id,
	))
}

// ListUsers returns all users.
func (s *Store) ListUsers() ([]model.User, error) {
	rows, err := s.db.Query(`SELECT ` + userCols + ` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ToggleUserActive flips the active flag on a user.
func (s *Store) ToggleUserActive(id int64) error {
	_, err := s.db.Exec(`UPDATE users SET active = NOT active WHERE id = ?`, id)
	return err
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// AdminExists reports whether any admin account is present.
func (s *Store) AdminExists() (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE role = 'admin'`).Scan(&n)
	return n > 0, err
}

// GetProfile returns the student profile for a user, subjects included,
// or nil when the user has none.
func (s *Store) GetProfile(userID int64) (*model.StudentProfile, error) {
	var p model.StudentProfile
	err := s.db.QueryRow(
		`SELECT id, user_id, sid, date_of_birth, grade, created_at
		 FROM student_profiles WHERE user_id = ?`, userID,
	).Scan(&p.ID, &p.UserID, &p.SID, &p.DateOfBirth, &p.Grade, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT t.id, t.name, t.parent_id FROM tags t
		 JOIN profile_subjects ps ON ps.tag_id = t.id
		 WHERE ps.profile_id = ? ORDER BY t.name`, p.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.ParentID); err != nil {
			return nil, err
		}
		p.Subjects = append(p.Subjects, t)
	}
	return &p, rows.Err()
}

// UpdateProfile sets date of birth and grade on a user's profile.
func (s *Store) UpdateProfile(userID int64, dob *time.Time, grade string) error {
	_, err := s.db.Exec(
		`UPDATE student_profiles SET date_of_birth = ?, grade = ? WHERE user_id = ?`,
		dob, grade, userID,
	)
	return err
}

// SetProfileSubjects replaces the subject restriction for a user's profile.
func (s *Store) SetProfileSubjects(userID int64, tagIDs []int64) error {
	p, err := s.GetProfile(userID)
	if err != nil {
		return err
	}
	if p == nil {
		return sql.ErrNoRows
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM profile_subjects WHERE profile_id = ?`, p.ID); err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		if _, err := tx.Exec(
			`INSERT INTO profile_subjects (profile_id, tag_id) VALUES (?, ?)`, p.ID, tagID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
