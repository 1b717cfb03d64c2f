package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"missioncontrol/internal/audit"
	"missioncontrol/internal/config"
	"missioncontrol/internal/repo"
)

// Engine owns every audited mutation of agents, the task board and transcripts.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Audit:  audit.Writer{Repo: r},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return repo.FormatTime(e.now())
}

// AuditWriter returns the audit writer sharing the engine clock.
func (e Engine) AuditWriter() audit.Writer {
	w := e.Audit
	w.Repo = e.Repo
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// ValidationError reports malformed input to a create or update.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func newID(id string) string {
	if strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	return uuid.NewString()
}

// validateJSONObject accepts "" or a JSON object.
func validateJSONObject(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return invalid(field, "must be a JSON object")
	}
	return nil
}

func validateJSON(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if !json.Valid([]byte(raw)) {
		return invalid(field, "must be valid JSON")
	}
	return nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
