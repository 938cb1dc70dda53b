package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowgraph/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowgraph.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "open libsql").WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

// SaveWorkflow inserts a workflow or replaces the document of an existing one.
// CreatedAt is preserved on update.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *Workflow) error {
	if wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	doc, err := marshalDocument(wf.Document)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	wf.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, revision, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, revision=excluded.revision,
		   document=excluded.document, updated_at=excluded.updated_at`,
		wf.ID, nullStr(wf.Name), wf.Revision, doc, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return storeError("save workflow", err)
	}
	return nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, revision, document, created_at, updated_at FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}

	query := "SELECT id, name, revision, document, created_at, updated_at FROM workflows"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list workflows", err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// DeleteWorkflow removes a workflow together with its instances. Status
// events are kept until pruned.
func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE workflow_id = ?`, id); err != nil {
		return storeError("delete instances", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return storeError("delete workflow", err)
	}
	if err := checkRowsAffected(res, "workflow", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit delete workflow", err)
	}
	return nil
}

// --- Instances ---

// CreateInstance records an instance and the frozen document it runs against.
// The parent workflow must exist.
func (s *LibSQLStore) CreateInstance(ctx context.Context, inst *Instance) error {
	if inst.ID == "" || inst.WorkflowID == "" {
		return schema.NewError(schema.ErrCodeValidation, "instance id and workflow id are required")
	}
	doc, err := marshalDocument(inst.Document)
	if err != nil {
		return err
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM workflows WHERE id = ?`, inst.WorkflowID).Scan(&exists)
	if err != nil {
		return storeError("check workflow", err)
	}
	if exists == 0 {
		return storeNotFound("workflow", inst.WorkflowID)
	}
	inst.CreatedAt = timeOrNow(inst.CreatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO instances (id, workflow_id, revision, document, created_at) VALUES (?, ?, ?, ?, ?)`,
		inst.ID, inst.WorkflowID, inst.Revision, doc, inst.CreatedAt,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return schema.NewErrorf(schema.ErrCodeDuplicateID, "instance %q already exists", inst.ID).WithCause(err)
		}
		return storeError("create instance", err)
	}
	return nil
}

func (s *LibSQLStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, revision, document, created_at FROM instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("instance", id)
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *LibSQLStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT id, workflow_id, revision, document, created_at FROM instances"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list instances", err)
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// --- Scanning ---

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*Workflow, error) {
	wf := &Workflow{}
	var name sql.NullString
	var docJSON string
	if err := row.Scan(&wf.ID, &name, &wf.Revision, &docJSON, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Name = name.String
	doc, err := unmarshalDocument(docJSON)
	if err != nil {
		return nil, err
	}
	wf.Document = doc
	return wf, nil
}

func scanInstance(row scanner) (*Instance, error) {
	inst := &Instance{}
	var docJSON string
	if err := row.Scan(&inst.ID, &inst.WorkflowID, &inst.Revision, &docJSON, &inst.CreatedAt); err != nil {
		return nil, err
	}
	doc, err := unmarshalDocument(docJSON)
	if err != nil {
		return nil, err
	}
	inst.Document = doc
	return inst, nil
}

// --- Helpers ---

func marshalDocument(doc *schema.GraphDocument) (string, error) {
	if doc == nil {
		doc = &schema.GraphDocument{}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeStore, "marshal document").WithCause(err)
	}
	return string(b), nil
}

func unmarshalDocument(raw string) (*schema.GraphDocument, error) {
	doc := &schema.GraphDocument{}
	if err := json.Unmarshal([]byte(raw), doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "unmarshal document").WithCause(err)
	}
	return doc, nil
}

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) *schema.FlowError {
	return schema.NewError(schema.ErrCodeStore, op).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
