package consistency

import (
	"context"
	"fmt"

	"insurance-bot/internal/audit"
	"insurance-bot/internal/registration"
	"insurance-bot/internal/shared/telemetry"
	"insurance-bot/internal/store"
)

// Outcome values written to the CONSISTENCY_CHECK audit row.
const (
	OutcomeConsistent = "consistent"
	OutcomeRepaired   = "repaired"
)

// Result is the verdict of Check.
type Result struct {
	User     registration.User
	Repaired bool
	Removed  []registration.Document
}

// required lists the document kinds a user must own in each stage.
var required = map[registration.Stage][]registration.DocumentKind{
	registration.StageWaitingForVehicle: {registration.KindPassport},
	registration.StageWaitingForReview:  {registration.KindPassport, registration.KindVehicleRegistration},
}

// IsConsistent reports whether the documents on file satisfy the user's stage.
func IsConsistent(ctx context.Context, tx store.Tx, user registration.User) (bool, error) {
	kinds, ok := required[user.Stage]
	if !ok {
		return true, nil
	}
	docs, err := tx.ListDocumentsByUser(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("list documents: %w", err)
	}
	have := make(map[registration.DocumentKind]bool, len(docs))
	for _, d := range docs {
		have[d.Kind] = true
	}
	for _, k := range kinds {
		if !have[k] {
			return false, nil
		}
	}
	return true, nil
}

// Reset deletes the documents tied to the user's current stage, zeroes the
// attempt counter and moves the user to none.
func Reset(ctx context.Context, tx store.Tx, rec *audit.Recorder, user registration.User) (registration.User, []registration.Document, error) {
	docs, err := tx.ListDocumentsByUserAndStage(ctx, user.ID, user.Stage)
	if err != nil {
		return user, nil, fmt.Errorf("list stage documents: %w", err)
	}
	if err := deleteDocuments(ctx, tx, rec, docs); err != nil {
		return user, nil, err
	}

	after := user
	after.Stage = registration.StageNone
	after.UploadAttempts = 0
	if err := tx.UpdateUser(ctx, after); err != nil {
		return user, nil, fmt.Errorf("update user: %w", err)
	}
	if err := rec.LogUpdate(ctx, user, after); err != nil {
		return user, nil, err
	}
	return after, docs, nil
}

// Check validates user and repairs it when needed. The verdict is always
// audited.
func Check(ctx context.Context, tx store.Tx, rec *audit.Recorder, user registration.User) (Result, error) {
	ok, err := IsConsistent(ctx, tx, user)
	if err != nil {
		return Result{User: user}, err
	}

	res := Result{User: user}
	if !ok {
		res.User, res.Removed, err = Reset(ctx, tx, rec, user)
		if err != nil {
			return Result{User: user}, err
		}
		res.Repaired = true
		telemetry.Warn("consistency.repaired", map[string]any{
			"user_id": user.ID,
			"stage":   string(user.Stage),
			"removed": len(res.Removed),
		})
	}

	outcome := OutcomeConsistent
	if res.Repaired {
		outcome = OutcomeRepaired
	}
	detail := map[string]any{"outcome": outcome, "stage": string(user.Stage)}
	if err := rec.LogAction(ctx, user.AuditTable(), user.ID, audit.ActionConsistencyCheck, detail); err != nil {
		return Result{User: user}, err
	}
	return res, nil
}

// DiscardDocuments removes every document the user owns together with its
// fields. Used when a flow is cancelled, retried or restarted.
func DiscardDocuments(ctx context.Context, tx store.Tx, rec *audit.Recorder, userID string) ([]registration.Document, error) {
	docs, err := tx.ListDocumentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if err := deleteDocuments(ctx, tx, rec, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func deleteDocuments(ctx context.Context, tx store.Tx, rec *audit.Recorder, docs []registration.Document) error {
	for _, d := range docs {
		fields, err := tx.ListFieldsByDocument(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("list fields: %w", err)
		}
		if err := tx.DeleteDocument(ctx, d.ID); err != nil {
			return fmt.Errorf("delete document %s: %w", d.ID, err)
		}
		for _, f := range fields {
			if err := rec.LogDelete(ctx, f); err != nil {
				return err
			}
		}
		if err := rec.LogDelete(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
