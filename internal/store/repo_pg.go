package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"insurance-bot/internal/registration"
)

const uniqueViolation = "23505"

// PGGateway implements Gateway on Postgres. User rows read inside a unit of
// work are locked until commit, which serializes units for the same user.
type PGGateway struct {
	DB *sql.DB
}

// WithinUnitOfWork runs fn inside one database transaction.
func (g *PGGateway) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}
	return nil
}

// AppendErrorLog writes on its own connection, independent of any open unit of work.
func (g *PGGateway) AppendErrorLog(ctx context.Context, entry registration.ErrorLog) error {
	const query = `
INSERT INTO error_logs (id, message, trace, created_at)
VALUES ($1, $2, $3, $4)`
	_, err := g.DB.ExecContext(ctx, query, entry.ID, entry.Message, entry.Trace, entry.CreatedAt)
	return err
}

// RecentAuditLogs returns up to limit audit rows, newest first.
func (g *PGGateway) RecentAuditLogs(ctx context.Context, limit int) ([]registration.AuditLog, error) {
	const query = `
SELECT id, table_name, record_id, action, changes, created_at
FROM audit_logs
ORDER BY created_at DESC
LIMIT $1`
	rows, err := g.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []registration.AuditLog{}
	for rows.Next() {
		var entry registration.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TableName, &entry.RecordID, &entry.Action, &entry.Changes, &entry.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// RecentErrorLogs returns up to limit error rows, newest first.
func (g *PGGateway) RecentErrorLogs(ctx context.Context, limit int) ([]registration.ErrorLog, error) {
	const query = `
SELECT id, message, trace, created_at
FROM error_logs
ORDER BY created_at DESC
LIMIT $1`
	rows, err := g.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []registration.ErrorLog{}
	for rows.Next() {
		var entry registration.ErrorLog
		if err := rows.Scan(&entry.ID, &entry.Message, &entry.Trace, &entry.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Stats counts users and policies by status.
func (g *PGGateway) Stats(ctx context.Context) (Stats, error) {
	const query = `
SELECT
    (SELECT COUNT(*) FROM users),
    (SELECT COUNT(*) FROM policies WHERE status = 'issued'),
    (SELECT COUNT(*) FROM policies WHERE status = 'pending'),
    (SELECT COUNT(*) FROM policies WHERE status = 'failed')`
	var st Stats
	err := g.DB.QueryRowContext(ctx, query).Scan(&st.Users, &st.PoliciesIssued, &st.PoliciesPending, &st.PoliciesFailed)
	return st, err
}

type pgTx struct {
	tx *sql.Tx
}

const selectUser = `
SELECT id, chat_id, name, stage, upload_attempts, created_at
FROM users`

func (t *pgTx) FindUserByChatID(ctx context.Context, chatID int64) (registration.User, error) {
	return scanUser(t.tx.QueryRowContext(ctx, selectUser+` WHERE chat_id = $1 FOR UPDATE`, chatID))
}

func (t *pgTx) FindUserByID(ctx context.Context, id string) (registration.User, error) {
	return scanUser(t.tx.QueryRowContext(ctx, selectUser+` WHERE id = $1 FOR UPDATE`, id))
}

func scanUser(row *sql.Row) (registration.User, error) {
	var (
		u     registration.User
		stage string
	)
	if err := row.Scan(&u.ID, &u.ChatID, &u.Name, &stage, &u.UploadAttempts, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registration.User{}, ErrNotFound
		}
		return registration.User{}, err
	}
	parsed, err := registration.ParseStage(stage)
	if err != nil {
		return registration.User{}, err
	}
	u.Stage = parsed
	return u, nil
}

func (t *pgTx) CreateUser(ctx context.Context, u registration.User) error {
	const query = `
INSERT INTO users (id, chat_id, name, stage, upload_attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := t.tx.ExecContext(ctx, query, u.ID, u.ChatID, u.Name, string(u.Stage), u.UploadAttempts, u.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (t *pgTx) UpdateUser(ctx context.Context, u registration.User) error {
	const query = `
UPDATE users SET name = $2, stage = $3, upload_attempts = $4
WHERE id = $1`
	res, err := t.tx.ExecContext(ctx, query, u.ID, u.Name, string(u.Stage), u.UploadAttempts)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// CreateDocument inserts under a savepoint so a unique violation leaves the
// surrounding transaction usable.
func (t *pgTx) CreateDocument(ctx context.Context, d registration.Document) error {
	const query = `
INSERT INTO documents (id, user_id, kind, storage_path, fingerprint, uploaded_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT document_insert`); err != nil {
		return err
	}
	var fingerprint sql.NullString
	if d.Fingerprint != nil {
		fingerprint = sql.NullString{String: *d.Fingerprint, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, query, d.ID, d.UserID, string(d.Kind), d.StoragePath, fingerprint, d.UploadedAt)
	if err != nil {
		if isUniqueViolation(err) {
			if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT document_insert`); rbErr != nil {
				return fmt.Errorf("rollback document insert: %w", rbErr)
			}
			return ErrDuplicate
		}
		return err
	}
	_, err = t.tx.ExecContext(ctx, `RELEASE SAVEPOINT document_insert`)
	return err
}

const selectDocument = `
SELECT d.id, d.user_id, d.kind, d.storage_path, d.fingerprint, d.uploaded_at
FROM documents d`

func (t *pgTx) FindDocument(ctx context.Context, id string) (registration.Document, error) {
	var (
		d           registration.Document
		kind        string
		fingerprint sql.NullString
	)
	err := t.tx.QueryRowContext(ctx, selectDocument+` WHERE d.id = $1`, id).
		Scan(&d.ID, &d.UserID, &kind, &d.StoragePath, &fingerprint, &d.UploadedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registration.Document{}, ErrNotFound
		}
		return registration.Document{}, err
	}
	d.Kind = registration.DocumentKind(kind)
	if fingerprint.Valid {
		d.Fingerprint = &fingerprint.String
	}
	return d, nil
}

func (t *pgTx) DeleteDocument(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *pgTx) DocumentExists(ctx context.Context, userID, fingerprint string) (bool, error) {
	const query = `
SELECT EXISTS (SELECT 1 FROM documents WHERE user_id = $1 AND fingerprint = $2)`
	var exists bool
	err := t.tx.QueryRowContext(ctx, query, userID, fingerprint).Scan(&exists)
	return exists, err
}

func (t *pgTx) ListDocumentsByUser(ctx context.Context, userID string) ([]registration.Document, error) {
	return t.queryDocuments(ctx, selectDocument+`
WHERE d.user_id = $1
ORDER BY d.uploaded_at ASC`, userID)
}

func (t *pgTx) ListDocumentsByUserAndStage(ctx context.Context, userID string, stage registration.Stage) ([]registration.Document, error) {
	return t.queryDocuments(ctx, selectDocument+`
JOIN users u ON u.id = d.user_id
WHERE d.user_id = $1 AND u.stage = $2
ORDER BY d.uploaded_at ASC`, userID, string(stage))
}

func (t *pgTx) queryDocuments(ctx context.Context, query string, args ...any) ([]registration.Document, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []registration.Document{}
	for rows.Next() {
		var (
			d           registration.Document
			kind        string
			fingerprint sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.UserID, &kind, &d.StoragePath, &fingerprint, &d.UploadedAt); err != nil {
			return nil, err
		}
		d.Kind = registration.DocumentKind(kind)
		if fingerprint.Valid {
			fp := fingerprint.String
			d.Fingerprint = &fp
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateField(ctx context.Context, f registration.ExtractedField) error {
	const query = `
INSERT INTO extracted_fields (id, document_id, name, value)
VALUES ($1, $2, $3, $4)`
	_, err := t.tx.ExecContext(ctx, query, f.ID, f.DocumentID, f.Name, f.Value)
	return err
}

func (t *pgTx) ListFieldsByDocument(ctx context.Context, documentID string) ([]registration.ExtractedField, error) {
	const query = `
SELECT id, document_id, name, value
FROM extracted_fields
WHERE document_id = $1
ORDER BY name ASC`
	rows, err := t.tx.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []registration.ExtractedField{}
	for rows.Next() {
		var f registration.ExtractedField
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.Name, &f.Value); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteFieldsByUser(ctx context.Context, userID string) (int, error) {
	const query = `
DELETE FROM extracted_fields f
USING documents d
WHERE f.document_id = d.id AND d.user_id = $1`
	res, err := t.tx.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (t *pgTx) CreatePolicy(ctx context.Context, p registration.Policy) error {
	const query = `
INSERT INTO policies (id, user_id, policy_number, status, document_path, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := t.tx.ExecContext(ctx, query, p.ID, p.UserID, p.PolicyNumber, string(p.Status), p.DocumentPath, p.IssuedAt, p.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (t *pgTx) FindLatestPolicyByUser(ctx context.Context, userID string) (registration.Policy, error) {
	const query = `
SELECT id, user_id, policy_number, status, document_path, issued_at, expires_at
FROM policies
WHERE user_id = $1
ORDER BY issued_at DESC
LIMIT 1`
	var (
		p      registration.Policy
		status string
	)
	err := t.tx.QueryRowContext(ctx, query, userID).
		Scan(&p.ID, &p.UserID, &p.PolicyNumber, &status, &p.DocumentPath, &p.IssuedAt, &p.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registration.Policy{}, ErrNotFound
		}
		return registration.Policy{}, err
	}
	p.Status = registration.PolicyStatus(status)
	return p, nil
}

func (t *pgTx) AppendAuditLog(ctx context.Context, entry registration.AuditLog) error {
	const query = `
INSERT INTO audit_logs (id, table_name, record_id, action, changes, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	var changes any
	if len(entry.Changes) > 0 {
		changes = string(entry.Changes)
	}
	_, err := t.tx.ExecContext(ctx, query, entry.ID, entry.TableName, entry.RecordID, entry.Action, changes, entry.CreatedAt)
	return err
}

func (t *pgTx) AppendConversation(ctx context.Context, c registration.Conversation) error {
	const query = `
INSERT INTO conversations (id, user_id, prompt, response, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := t.tx.ExecContext(ctx, query, c.ID, c.UserID, c.Prompt, c.Response, c.CreatedAt)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Gateway = (*PGGateway)(nil)
