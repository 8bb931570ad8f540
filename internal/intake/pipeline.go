package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"insurance-bot/internal/audit"
	"insurance-bot/internal/extract"
	"insurance-bot/internal/registration"
	"insurance-bot/internal/shared/metrics"
	"insurance-bot/internal/shared/storage/object"
	"insurance-bot/internal/shared/telemetry"
	"insurance-bot/internal/shared/util"
	"insurance-bot/internal/store"
)

// DefaultMaxAttempts is used when Pipeline.MaxAttempts is not set.
const DefaultMaxAttempts = 5

var tracer = otel.Tracer("insurance-bot/internal/intake")

// Pipeline validates, deduplicates and stores uploaded documents.
type Pipeline struct {
	Store       object.ObjectStore
	Extractor   extract.Extractor
	MaxAttempts int
	Now         func() time.Time
}

// Outcome describes an accepted upload.
type Outcome struct {
	User     registration.User
	From     registration.Stage
	Document registration.Document
	Fields   []registration.ExtractedField
	// ExtractionErr is set when the document was stored but no fields could
	// be read from it.
	ExtractionErr error
}

// StageChanged reports whether the upload moved the user to a new stage.
func (o Outcome) StageChanged() bool {
	return o.From != o.User.Stage
}

// Limit returns the effective maximum number of upload attempts.
func (p *Pipeline) Limit() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// Ingest runs one upload for userID inside tx. ErrMaxAttemptsExceeded and
// ErrDuplicateContent leave the incremented attempt counter written to tx, so
// callers must commit the unit for those errors.
func (p *Pipeline) Ingest(ctx context.Context, tx store.Tx, rec *audit.Recorder, userID string, kind registration.DocumentKind, raw []byte) (out Outcome, err error) {
	ctx, span := tracer.Start(ctx, "intake.Ingest")
	span.SetAttributes(attribute.String("document.kind", string(kind)))
	defer func() {
		result := outcomeLabel(err)
		metrics.IncIntake(string(kind), result)
		span.SetAttributes(attribute.String("intake.outcome", result))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.End()
	}()

	before, err := tx.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return Outcome{}, fmt.Errorf("load user: %w", err)
	}
	next, err := registration.Transition(before.Stage, registration.EventUpload, kind)
	if err != nil {
		return Outcome{}, err
	}

	user := before
	limit := p.Limit()
	user.UploadAttempts++
	if user.UploadAttempts > limit+1 {
		user.UploadAttempts = limit + 1
	}
	if user.UploadAttempts > limit {
		if err := p.saveUser(ctx, tx, rec, before, user); err != nil {
			return Outcome{}, err
		}
		telemetry.Warn("intake.max_attempts", map[string]any{
			"user_id":  userID,
			"attempts": user.UploadAttempts,
			"limit":    limit,
		})
		return Outcome{User: user, From: before.Stage}, ErrMaxAttemptsExceeded
	}

	fingerprint := util.Fingerprint(raw)
	exists, err := tx.DocumentExists(ctx, userID, fingerprint)
	if err != nil {
		return Outcome{}, fmt.Errorf("check duplicate: %w", err)
	}
	if exists {
		if err := p.saveUser(ctx, tx, rec, before, user); err != nil {
			return Outcome{}, err
		}
		return Outcome{User: user, From: before.Stage}, ErrDuplicateContent
	}

	contentType := http.DetectContentType(raw)
	key, err := object.NewKey(path.Join("documents", userID), string(kind)+extensionFor(contentType))
	if err != nil {
		return Outcome{}, err
	}
	if _, err := p.Store.Put(ctx, key, contentType, bytes.NewReader(raw)); err != nil {
		return Outcome{}, fmt.Errorf("store document: %w", err)
	}

	doc := registration.NewDocument(userID, kind, key, fingerprint, p.now())
	if err := tx.CreateDocument(ctx, doc); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return Outcome{}, fmt.Errorf("create document: %w", err)
		}
		if delErr := p.Store.Delete(ctx, key); delErr != nil {
			telemetry.Warn("intake.orphan_blob", map[string]any{"key": key, "error": delErr})
		}
		if err := p.saveUser(ctx, tx, rec, before, user); err != nil {
			return Outcome{}, err
		}
		return Outcome{User: user, From: before.Stage}, ErrDuplicateContent
	}
	if err := rec.LogCreate(ctx, doc); err != nil {
		return Outcome{}, err
	}

	out = Outcome{From: before.Stage, Document: doc}
	fields, extractErr := p.extract(ctx, raw, kind)
	if extractErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		telemetry.Warn("intake.extraction_failed", map[string]any{
			"user_id":     userID,
			"document_id": doc.ID,
			"error":       extractErr,
		})
		out.ExtractionErr = extractErr
	}
	for _, name := range orderedNames(kind, fields) {
		field := registration.NewExtractedField(doc.ID, name, fields[name])
		if err := tx.CreateField(ctx, field); err != nil {
			return Outcome{}, fmt.Errorf("create field %s: %w", name, err)
		}
		if err := rec.LogCreate(ctx, field); err != nil {
			return Outcome{}, err
		}
		out.Fields = append(out.Fields, field)
	}

	user.Stage = next
	if next == registration.StageWaitingForReview {
		user.UploadAttempts = 0
	}
	if err := p.saveUser(ctx, tx, rec, before, user); err != nil {
		return Outcome{}, err
	}
	out.User = user
	return out, nil
}

func (p *Pipeline) saveUser(ctx context.Context, tx store.Tx, rec *audit.Recorder, before, after registration.User) error {
	if err := tx.UpdateUser(ctx, after); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return rec.LogUpdate(ctx, before, after)
}

func (p *Pipeline) extract(ctx context.Context, raw []byte, kind registration.DocumentKind) (map[string]string, error) {
	if p.Extractor == nil {
		return nil, extract.ErrUnavailable
	}
	fields, err := p.Extractor.ExtractFields(ctx, raw, kind)
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// orderedNames lists known fields first in display order, then any extras sorted.
func orderedNames(kind registration.DocumentKind, fields map[string]string) []string {
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, name := range extract.FieldOrder(kind) {
		if _, ok := fields[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	var extra []string
	for name := range fields {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrDuplicateContent):
		return "duplicate"
	case errors.Is(err, ErrMaxAttemptsExceeded):
		return "max_attempts"
	case errors.Is(err, registration.ErrInvalidTransition):
		return "wrong_stage"
	case errors.Is(err, ErrUserNotFound):
		return "unknown_user"
	default:
		return "error"
	}
}
