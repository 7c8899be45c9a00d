package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid/v5"
	_ "modernc.org/sqlite"

	"github.com/zlnvch/artstudio/models"
	"github.com/zlnvch/artstudio/store"
)

// SQLiteArtStore implements the project and session stores on a local SQLite file.
// Used in dev mode and by tests; production runs on DynamoDB.
type SQLiteArtStore struct {
	db *sql.DB
}

func NewSQLiteArtStore(path string) (*SQLiteArtStore, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteArtStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			current_version INTEGER NOT NULL DEFAULT 1,
			layers TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE TABLE IF NOT EXISTS project_versions (
			project_id TEXT NOT NULL,
			version_number INTEGER NOT NULL,
			canvas_data TEXT NOT NULL,
			layers TEXT NOT NULL DEFAULT '[]',
			message TEXT NOT NULL DEFAULT '',
			author_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			PRIMARY KEY(project_id, version_number),
			FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			is_active INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS session_members (
			session_id TEXT NOT NULL,
			connection_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			color TEXT NOT NULL,
			joined_at INTEGER NOT NULL,
			last_activity INTEGER NOT NULL,
			PRIMARY KEY(session_id, connection_id),
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		// At most one active session per project
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_project ON sessions(project_id) WHERE is_active = 1;`,
		`CREATE INDEX IF NOT EXISTS idx_session_members_joined ON session_members(session_id, joined_at, connection_id);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return nil
}

// Close releases database resources.
func (s *SQLiteArtStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteArtStore) GetProject(ctx context.Context, projectId string) (models.Project, error) {
	var project models.Project
	var layersJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, current_version, layers FROM projects WHERE id = ?`, projectId,
	).Scan(&project.Id, &project.Title, &project.CurrentVersion, &layersJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Project{}, store.ErrItemNotFound
		}
		return models.Project{}, fmt.Errorf("query project: %w", err)
	}
	if err := json.Unmarshal([]byte(layersJSON), &project.Layers); err != nil {
		return models.Project{}, fmt.Errorf("decode layers: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT version_number, canvas_data, layers, message, author_id, created_at
		 FROM project_versions WHERE project_id = ? ORDER BY version_number`, projectId)
	if err != nil {
		return models.Project{}, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	project.Versions = []models.Version{}
	for rows.Next() {
		var v models.Version
		var vLayers string
		if err := rows.Scan(&v.VersionNumber, &v.CanvasData, &vLayers, &v.Message, &v.AuthorId, &v.CreatedAt); err != nil {
			return models.Project{}, fmt.Errorf("scan version: %w", err)
		}
		if err := json.Unmarshal([]byte(vLayers), &v.Layers); err != nil {
			return models.Project{}, fmt.Errorf("decode version layers: %w", err)
		}
		project.Versions = append(project.Versions, v)
	}
	if err := rows.Err(); err != nil {
		return models.Project{}, err
	}

	return project, nil
}

// PutProject inserts or replaces a project together with its version history.
func (s *SQLiteArtStore) PutProject(ctx context.Context, project models.Project) error {
	if project.Id == "" {
		return errors.New("project id is empty")
	}
	layersJSON, err := marshalLayers(project.Layers)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (id, title, current_version, layers) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, current_version = excluded.current_version, layers = excluded.layers`,
		project.Id, project.Title, project.CurrentVersion, layersJSON,
	); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM project_versions WHERE project_id = ?`, project.Id); err != nil {
		return fmt.Errorf("clear versions: %w", err)
	}
	for _, v := range project.Versions {
		vLayers, err := marshalLayers(v.Layers)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO project_versions (project_id, version_number, canvas_data, layers, message, author_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			project.Id, v.VersionNumber, v.CanvasData, vLayers, v.Message, v.AuthorId, v.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteArtStore) FindActiveSession(ctx context.Context, projectId string) (models.Session, error) {
	var sessionId string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE project_id = ? AND is_active = 1`, projectId,
	).Scan(&sessionId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, store.ErrItemNotFound
		}
		return models.Session{}, fmt.Errorf("query active session: %w", err)
	}
	return s.GetSession(ctx, sessionId)
}

// GetSession loads a session record with its active users ordered by join time.
func (s *SQLiteArtStore) GetSession(ctx context.Context, sessionId string) (models.Session, error) {
	var session models.Session
	var isActive int
	var startedAt int64
	var endedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, is_active, started_at, ended_at FROM sessions WHERE id = ?`, sessionId,
	).Scan(&session.Id, &session.ProjectId, &isActive, &startedAt, &endedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, store.ErrItemNotFound
		}
		return models.Session{}, fmt.Errorf("query session: %w", err)
	}
	session.IsActive = isActive == 1
	session.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		session.EndedAt = time.UnixMilli(endedAt.Int64)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, connection_id, color, joined_at, last_activity
		 FROM session_members WHERE session_id = ? ORDER BY joined_at, connection_id`, sessionId)
	if err != nil {
		return models.Session{}, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	session.ActiveUsers = []models.ActiveUser{}
	for rows.Next() {
		var u models.ActiveUser
		var joinedAt, lastActivity int64
		if err := rows.Scan(&u.UserId, &u.ConnectionId, &u.Color, &joinedAt, &lastActivity); err != nil {
			return models.Session{}, fmt.Errorf("scan member: %w", err)
		}
		u.JoinedAt = time.UnixMilli(joinedAt)
		u.LastActivity = time.UnixMilli(lastActivity)
		session.ActiveUsers = append(session.ActiveUsers, u)
	}
	if err := rows.Err(); err != nil {
		return models.Session{}, err
	}

	return session, nil
}

func (s *SQLiteArtStore) CreateSession(ctx context.Context, projectId string, member models.ActiveUser) (models.Session, bool, error) {
	sessionUUID, err := uuid.NewV7()
	if err != nil {
		return models.Session{}, false, err
	}
	startedAt := member.JoinedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Session{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, project_id, is_active, started_at) VALUES (?, ?, 1, ?)`,
		sessionUUID.String(), projectId, startedAt.UnixMilli(),
	)
	if err != nil {
		return models.Session{}, false, fmt.Errorf("insert session: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return models.Session{}, false, err
	}

	if inserted == 0 {
		// An active session already exists for this project
		if err := tx.Rollback(); err != nil {
			return models.Session{}, false, err
		}
		existing, err := s.FindActiveSession(ctx, projectId)
		if err != nil {
			return models.Session{}, false, fmt.Errorf("session exists but could not be read: %w", err)
		}
		return existing, false, nil
	}

	if err := insertMember(ctx, tx, sessionUUID.String(), member); err != nil {
		return models.Session{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return models.Session{}, false, fmt.Errorf("commit session: %w", err)
	}

	return models.Session{
		Id:          sessionUUID.String(),
		ProjectId:   projectId,
		ActiveUsers: []models.ActiveUser{member},
		IsActive:    true,
		StartedAt:   startedAt,
	}, true, nil
}

// AppendMember adds member to an active session. A member whose connection id is already
// recorded is left untouched.
func (s *SQLiteArtStore) AppendMember(ctx context.Context, sessionId string, member models.ActiveUser) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	active, err := sessionActive(ctx, tx, sessionId)
	if err != nil {
		return err
	}
	if !active {
		return store.ErrConditionFailed
	}

	if err := insertMember(ctx, tx, sessionId, member); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteArtStore) RemoveMember(ctx context.Context, sessionId string, connectionId string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := sessionActive(ctx, tx, sessionId); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_members WHERE session_id = ? AND connection_id = ?`, sessionId, connectionId,
	); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteArtStore) Deactivate(ctx context.Context, sessionId string, endedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	active, err := sessionActive(ctx, tx, sessionId)
	if err != nil {
		return err
	}
	if !active {
		return store.ErrConditionFailed
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0, ended_at = ? WHERE id = ?`, endedAt.UnixMilli(), sessionId,
	); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return tx.Commit()
}

func sessionActive(ctx context.Context, tx *sql.Tx, sessionId string) (bool, error) {
	var isActive int
	err := tx.QueryRowContext(ctx, `SELECT is_active FROM sessions WHERE id = ?`, sessionId).Scan(&isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, store.ErrItemNotFound
		}
		return false, fmt.Errorf("query session: %w", err)
	}
	return isActive == 1, nil
}

func insertMember(ctx context.Context, tx *sql.Tx, sessionId string, member models.ActiveUser) error {
	lastActivity := member.LastActivity
	if lastActivity.IsZero() {
		lastActivity = member.JoinedAt
	}
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO session_members (session_id, connection_id, user_id, color, joined_at, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionId, member.ConnectionId, member.UserId, member.Color, member.JoinedAt.UnixMilli(), lastActivity.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func marshalLayers(layers []models.Layer) (string, error) {
	if layers == nil {
		layers = []models.Layer{}
	}
	b, err := json.Marshal(layers)
	if err != nil {
		return "", fmt.Errorf("encode layers: %w", err)
	}
	return string(b), nil
}
