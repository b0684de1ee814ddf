package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/practice-lms/practice/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS student_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL UNIQUE,
		sid TEXT NOT NULL DEFAULT '',
		date_of_birth DATETIME,
		grade TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS profile_subjects (
		profile_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		PRIMARY KEY (profile_id, tag_id),
		FOREIGN KEY (profile_id) REFERENCES student_profiles(id),
		FOREIGN KEY (tag_id) REFERENCES tags(id)
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS classrooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		owner_id INTEGER NOT NULL,
		FOREIGN KEY (owner_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		classroom_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		UNIQUE (classroom_id, student_id),
		FOREIGN KEY (classroom_id) REFERENCES classrooms(id),
		FOREIGN KEY (student_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		parent_id INTEGER,
		FOREIGN KEY (parent_id) REFERENCES tags(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		stem_md TEXT NOT NULL,
		choices TEXT NOT NULL DEFAULT '{}',
		correct TEXT NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 1,
		diagnostic_keys TEXT NOT NULL DEFAULT '{}',
		created_by INTEGER,
		created_at DATETIME NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		asset_hash TEXT NOT NULL DEFAULT '',
		asset_relpath TEXT NOT NULL DEFAULT '',
		asset_format TEXT NOT NULL DEFAULT 'svg',
		needs_asset_render INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (created_by) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS question_tags (
		question_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		PRIMARY KEY (question_id, tag_id),
		FOREIGN KEY (question_id) REFERENCES questions(id),
		FOREIGN KEY (tag_id) REFERENCES tags(id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assignment_title TEXT NOT NULL DEFAULT '',
		student_id INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		FOREIGN KEY (student_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS attempt_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		question_version INTEGER NOT NULL,
		submitted TEXT NOT NULL DEFAULT '{}',
		is_correct INTEGER NOT NULL,
		tags_snapshot TEXT NOT NULL DEFAULT '[]',
		diag_snapshot TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (attempt_id) REFERENCES attempts(id),
		FOREIGN KEY (student_id) REFERENCES users(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS attempt_views (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		view_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (attempt_id) REFERENCES attempts(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_attempt_items_student ON attempt_items(student_id, question_id, id);
	CREATE INDEX IF NOT EXISTS idx_attempt_views_attempt ON attempt_views(attempt_id, question_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

const questionCols = `id, type, stem_md, choices, correct, version, diagnostic_keys,
	created_by, created_at, content_hash, asset_hash, asset_relpath, asset_format, needs_asset_render`

func scanQuestion(row interface{ Scan(...any) error }) (model.Question, error) {
	var q model.Question
	var choices, correct, diag string
	err := row.Scan(&q.ID, &q.Type, &q.Stem, &choices, &correct, &q.Version, &diag,
		&q.CreatedBy, &q.CreatedAt, &q.ContentHash, &q.AssetHash, &q.AssetRelpath,
		&q.AssetFormat, &q.NeedsAssetRender)
	if err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(choices), &q.Choices); err != nil {
		return q, fmt.Errorf("question %d: decode choices: %w", q.ID, err)
	}
	if err := json.Unmarshal([]byte(correct), &q.Correct); err != nil {
		return q, fmt.Errorf("question %d: decode correct: %w", q.ID, err)
	}
	if err := json.Unmarshal([]byte(diag), &q.DiagnosticKeys); err != nil {
		return q, fmt.Errorf("question %d: decode diagnostic keys: %w", q.ID, err)
	}
	return q, nil
}

// InsertQuestion stores a question together with its tag links.
// The content hash is recomputed and the question flagged for asset
// rendering whenever the hash changes from the stored asset hash.
func (s *Store) InsertQuestion(q model.Question) (int64, error) {
	choices, err := json.Marshal(orEmptyMap(q.Choices))
	if err != nil {
		return 0, err
	}
	correct, err := json.Marshal(q.Correct)
	if err != nil {
		return 0, err
	}
	diag, err := json.Marshal(orEmptyMap(q.DiagnosticKeys))
	if err != nil {
		return 0, err
	}
	if q.Version == 0 {
		q.Version = 1
	}
	if q.AssetFormat == "" {
		q.AssetFormat = "svg"
	}
	hash := q.ComputeContentHash()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO questions (type, stem_md, choices, correct, version, diagnostic_keys,
		 created_by, created_at, content_hash, asset_format, needs_asset_render)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		q.Type, q.Stem, string(choices), string(correct), q.Version, string(diag),
		q.CreatedBy, time.Now(), hash, q.AssetFormat,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, name := range q.Tags {
		tagID, err := getOrCreateTagTx(tx, name)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO question_tags (question_id, tag_id) VALUES (?, ?)`, id, tagID,
		); err != nil {
			return 0, err
		}
	}

	return id, tx.Commit()
}

// GetQuestion returns a question by ID with its tag names populated.
func (s *Store) GetQuestion(id int64) (model.Question, error) {
	q, err := scanQuestion(s.db.QueryRow(
		`SELECT `+questionCols+` FROM questions WHERE id = ?`, id,
	))
	if err != nil {
		return q, err
	}
	q.Tags, err = s.questionTagNames(id)
	return q, err
}

func (s *Store) questionTagNames(questionID int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT t.name FROM tags t
		 JOIN question_tags qt ON qt.tag_id = t.id
		 WHERE qt.question_id = ? ORDER BY t.name`, questionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// SampleQuestions returns up to limit random questions, restricted to the
// given tag IDs (nil means no restriction) and excluding the given question
// IDs. Tags are populated on each returned question.
func (s *Store) SampleQuestions(tagIDs []int64, excludeIDs []int64, limit int) ([]model.Question, error) {
	if limit < 1 {
		limit = 1
	}
	// Non-nil but empty tag restriction means nothing is allowed.
	if tagIDs != nil && len(tagIDs) == 0 {
		return nil, nil
	}
	query := `SELECT DISTINCT ` + prefixCols("q", questionCols) + ` FROM questions q`
	var args []any
	if tagIDs != nil {
		query += ` JOIN question_tags qt ON qt.question_id = q.id AND qt.tag_id IN (` + placeholders(len(tagIDs)) + `)`
		for _, id := range tagIDs {
			args = append(args, id)
		}
	}
	query += ` WHERE 1=1`
	if len(excludeIDs) > 0 {
		query += ` AND q.id NOT IN (` + placeholders(len(excludeIDs)) + `)`
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY RANDOM() LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range questions {
		questions[i].Tags, err = s.questionTagNames(questions[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return questions, nil
}

// QuestionFilter narrows ListQuestions. A zero filter matches all
// questions; a non-nil empty TagIDs matches none.
type QuestionFilter struct {
	Type   model.QuestionType
	TagIDs []int64
}

// ListQuestions returns matching questions ordered by ID, tags populated.
func (s *Store) ListQuestions(filter QuestionFilter) ([]model.Question, error) {
	if filter.TagIDs != nil && len(filter.TagIDs) == 0 {
		return nil, nil
	}
	query := `SELECT DISTINCT ` + prefixCols("q", questionCols) + ` FROM questions q`
	var args []any
	if filter.TagIDs != nil {
		query += ` JOIN question_tags qt ON qt.question_id = q.id AND qt.tag_id IN (` + placeholders(len(filter.TagIDs)) + `)`
		for _, id := range filter.TagIDs {
			args = append(args, id)
		}
	}
	query += ` WHERE 1=1`
	if filter.Type != "" {
		query += ` AND q.type = ?`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY q.id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range questions {
		questions[i].Tags, err = s.questionTagNames(questions[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return questions, nil
}

// UpdateQuestionAnswer replaces a question's type and correct key and bumps
// the version so existing attempt items keep pointing at what they graded.
func (s *Store) UpdateQuestionAnswer(id int64, typ model.QuestionType, correct model.Answer) error {
	data, err := json.Marshal(correct)
	if err != nil {
		return err
	}
	q, err := s.GetQuestion(id)
	if err != nil {
		return err
	}
	q.Type = typ
	hash := q.ComputeContentHash()
	_, err = s.db.Exec(
		`UPDATE questions SET type = ?, correct = ?, version = version + 1,
		 content_hash = ?, needs_asset_render = CASE WHEN asset_hash != ? THEN 1 ELSE needs_asset_render END
		 WHERE id = ?`,
		typ, string(data), hash, hash, id,
	)
	return err
}

// SetQuestionType updates only the type field. Used by the fix-mcq pass.
func (s *Store) SetQuestionType(id int64, typ model.QuestionType) error {
	_, err := s.db.Exec(`UPDATE questions SET type = ? WHERE id = ?`, typ, id)
	return err
}

// DeleteQuestion removes a question and its tag links. Questions referenced
// by attempt items are protected.
func (s *Store) DeleteQuestion(id int64) error {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM attempt_items WHERE question_id = ?`, id).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("question %d has %d attempt items", id, n)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM question_tags WHERE question_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM questions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// QuestionExistsWithStem reports whether a question with this exact stem is
// already stored. Imports use it to stay idempotent.
func (s *Store) QuestionExistsWithStem(stem string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions WHERE stem_md = ?`, stem).Scan(&n)
	return n > 0, err
}

// ListQuestionsNeedingRender returns questions flagged for asset rendering.
func (s *Store) ListQuestionsNeedingRender() ([]model.Question, error) {
	rows, err := s.db.Query(`SELECT ` + questionCols + ` FROM questions WHERE needs_asset_render = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// SetQuestionAsset records a rendered asset and clears the render flag.
func (s *Store) SetQuestionAsset(id int64, relpath, format, hash string) error {
	_, err := s.db.Exec(
		`UPDATE questions SET asset_relpath = ?, asset_format = ?, asset_hash = ?, needs_asset_render = 0
		 WHERE id = ?`,
		relpath, format, hash, id,
	)
	return err
}

// ListQuestionsWithChoicesNotMCQ returns questions that carry choices but
// were imported with a different type.
func (s *Store) ListQuestionsWithChoicesNotMCQ() ([]model.Question, error) {
	rows, err := s.db.Query(`SELECT ` + questionCols + ` FROM questions
		WHERE choices NOT IN ('{}', '', 'null') AND type != 'mcq' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		if len(q.Choices) > 0 {
			questions = append(questions, q)
		}
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// --- tags --------------------------------------------------------------

// getOrCreateTagTx returns the tag id for name, creating it when missing.
func getOrCreateTagTx(tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT id FROM tags WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	res, err := tx.Exec(`INSERT INTO tags (name) VALUES (?)`, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CreateTag inserts a tag with an optional parent.
func (s *Store) CreateTag(name string, parentID *int64) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO tags (name, parent_id) VALUES (?, ?)`, name, parentID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags() ([]model.Tag, error) {
	rows, err := s.db.Query(`SELECT id, name, parent_id FROM tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []model.Tag
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.ParentID); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// GetTagByName returns the tag with this name (case-insensitive), or nil.
func (s *Store) GetTagByName(name string) (*model.Tag, error) {
	var t model.Tag
	err := s.db.QueryRow(
		`SELECT id, name, parent_id FROM tags WHERE name = ? COLLATE NOCASE`, name,
	).Scan(&t.ID, &t.Name, &t.ParentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SubjectGroups returns subject tags with their direct children, both
// sorted by name. A nil rootIDs selects every top-level tag; a non-nil
// slice selects exactly those tags as group roots.
func (s *Store) SubjectGroups(rootIDs []int64) ([]model.SubjectGroup, error) {
	rows, err := s.db.Query(`SELECT id, name, parent_id FROM tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var all []model.Tag
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.ParentID); err != nil {
			return nil, err
		}
		all = append(all, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	childrenOf := make(map[int64][]model.Tag)
	for _, t := range all {
		if t.ParentID != nil {
			childrenOf[*t.ParentID] = append(childrenOf[*t.ParentID], t)
		}
	}

	wanted := make(map[int64]bool)
	for _, id := range rootIDs {
		wanted[id] = true
	}

	groups := []model.SubjectGroup{}
	for _, t := range all {
		if rootIDs == nil {
			if t.ParentID != nil {
				continue
			}
		} else if !wanted[t.ID] {
			continue
		}
		groups = append(groups, model.SubjectGroup{
			Subject:  t,
			Children: childrenOf[t.ID],
		})
	}
	return groups, nil
}

// DescendantTagIDs returns the tag named name plus all its descendants.
// Returns nil (no IDs) when the tag does not exist.
func (s *Store) DescendantTagIDs(name string) ([]int64, error) {
	root, err := s.GetTagByName(name)
	if err != nil || root == nil {
		return nil, err
	}
	ids := []int64{root.ID}
	frontier := []int64{root.ID}
	for len(frontier) > 0 {
		rows, err := s.db.Query(
			`SELECT id FROM tags WHERE parent_id IN (`+placeholders(len(frontier))+`)`,
			toAnySlice(frontier)...,
		)
		if err != nil {
			return nil, err
		}
		var next []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			next = append(next, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		ids = append(ids, next...)
		frontier = next
	}
	return ids, nil
}

// TagsForQuestions returns the tags of each given question, keyed by
// question id. Used by the stats aggregation.
func (s *Store) TagsForQuestions(questionIDs []int64) (map[int64][]model.Tag, error) {
	out := make(map[int64][]model.Tag)
	if len(questionIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(
		`SELECT qt.question_id, t.id, t.name, t.parent_id
		 FROM question_tags qt JOIN tags t ON t.id = qt.tag_id
		 WHERE qt.question_id IN (`+placeholders(len(questionIDs))+`)`,
		toAnySlice(questionIDs)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var qid int64
		var t model.Tag
		if err := rows.Scan(&qid, &t.ID, &t.Name, &t.ParentID); err != nil {
			return nil, err
		}
		out[qid] = append(out[qid], t)
	}
	return out, rows.Err()
}

// --- helpers -----------------------------------------------------------

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func prefixCols(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
