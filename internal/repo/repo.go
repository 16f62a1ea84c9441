package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"siteledger/internal/aggregate"
	"siteledger/internal/domain"
	"siteledger/internal/events"
)

// Repo stores each project as one JSON document. Title and status are
// mirrored into columns for listing; the document is authoritative.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid project")
)

func (r Repo) now() string {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func decodeProject(id int64, doc string) (domain.Project, error) {
	var p domain.Project
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return p, fmt.Errorf("decode project %d: %w", id, err)
	}
	p.ID = id
	return p, nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,document_json FROM projects ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Project{}
	for rows.Next() {
		var (
			id  int64
			doc string
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		p, err := decodeProject(id, doc)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	var doc string
	err := r.DB.QueryRowContext(ctx, `SELECT document_json FROM projects WHERE id=?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, ErrNotFound
	}
	if err != nil {
		return domain.Project{}, err
	}
	return decodeProject(id, doc)
}

// InsertProject assigns the id, stamps timestamps and recomputes the
// server-side totals before storing the document.
func (r Repo) InsertProject(ctx context.Context, p domain.Project, actorID string) (domain.Project, error) {
	if strings.TrimSpace(p.Title) == "" {
		return domain.Project{}, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if p.Status == "" {
		p.Status = domain.ProjectPlanning
	}
	ts := r.now()
	p.CreatedAt = ts
	p.UpdatedAt = ts
	p = aggregate.Refresh(p)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO projects(title,status,document_json,created_at,updated_at) VALUES (?,?,'{}',?,?)`,
		p.Title, p.Status, ts, ts)
	if err != nil {
		return domain.Project{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Project{}, err
	}
	p.ID = id
	if err := writeDocument(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := r.Events.Append(ctx, tx, events.ForProject(events.ProjectCreated, id, actorID, events.Payload{
		"title":  p.Title,
		"status": p.Status,
	})); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// UpdateProject replaces the stored document. CreatedAt is kept from the
// stored row whatever the caller sent.
func (r Repo) UpdateProject(ctx context.Context, p domain.Project, actorID string) (domain.Project, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	var createdAt string
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM projects WHERE id=?`, p.ID).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, ErrNotFound
	}
	if err != nil {
		return domain.Project{}, err
	}
	p.CreatedAt = createdAt
	p.UpdatedAt = r.now()
	p = aggregate.Refresh(p)
	if err := writeDocument(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := r.Events.Append(ctx, tx, events.ForProject(events.ProjectUpdated, p.ID, actorID, events.Payload{
		"tasks":        len(p.Tasks),
		"inventory":    len(p.Inventory),
		"expenses":     len(p.Expenses),
		"team":         len(p.Team),
		"currentSpent": p.CurrentSpent,
	})); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func writeDocument(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project %d: %w", p.ID, err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE projects SET title=?,status=?,document_json=?,updated_at=? WHERE id=?`,
		p.Title, p.Status, string(doc), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestEvents returns the newest events first. Zero projectID and empty
// evtType match everything.
func (r Repo) LatestEvents(ctx context.Context, limit int, projectID int64, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID > 0 {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var (
			project  sql.NullInt64
			entityID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &project, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.ProjectID = project.Int64
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}
