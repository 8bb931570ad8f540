package consistency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insurance-bot/internal/audit"
	"insurance-bot/internal/registration"
	"insurance-bot/internal/store"
)

func seed(t *testing.T, stage registration.Stage, attempts int, kinds ...registration.DocumentKind) (*store.MemoryGateway, registration.User) {
	t.Helper()
	gw := store.NewMemoryGateway()
	u := registration.NewUser(1, "Ann", time.Now())
	u.Stage = stage
	u.UploadAttempts = attempts
	require.NoError(t, gw.WithinUnitOfWork(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		for i, k := range kinds {
			d := registration.NewDocument(u.ID, k, "key", string(k)+string(rune('a'+i)), time.Now())
			if err := tx.CreateDocument(ctx, d); err != nil {
				return err
			}
			if err := tx.CreateField(ctx, registration.NewExtractedField(d.ID, "Name", "v")); err != nil {
				return err
			}
		}
		return nil
	}))
	return gw, u
}

func runCheck(t *testing.T, gw *store.MemoryGateway, u registration.User) (Result, []registration.AuditLog, []registration.Document) {
	t.Helper()
	var (
		res  Result
		rows []registration.AuditLog
		docs []registration.Document
	)
	require.NoError(t, gw.WithinUnitOfWork(context.Background(), func(ctx context.Context, tx store.Tx) error {
		rec := audit.NewRecorder(tx)
		var err error
		if res, err = Check(ctx, tx, rec, u); err != nil {
			return err
		}
		rows = rec.Rows()
		docs, err = tx.ListDocumentsByUser(ctx, u.ID)
		return err
	}))
	return res, rows, docs
}

func TestVehicleStageWithoutPassportIsReset(t *testing.T) {
	gw, u := seed(t, registration.StageWaitingForVehicle, 3)

	res, rows, docs := runCheck(t, gw, u)
	assert.True(t, res.Repaired)
	assert.Equal(t, registration.StageNone, res.User.Stage)
	assert.Equal(t, 0, res.User.UploadAttempts)
	assert.Empty(t, docs)

	require.NotEmpty(t, rows)
	last := rows[len(rows)-1]
	assert.Equal(t, audit.ActionConsistencyCheck, last.Action)
	var detail map[string]string
	require.NoError(t, json.Unmarshal(last.Changes, &detail))
	assert.Equal(t, OutcomeRepaired, detail["outcome"])
	assert.Equal(t, audit.ActionStageChange, rows[len(rows)-2].Action)
}

func TestReviewStageMissingVehicleDeletesPassport(t *testing.T) {
	gw, u := seed(t, registration.StageWaitingForReview, 0, registration.KindPassport)

	res, rows, docs := runCheck(t, gw, u)
	assert.True(t, res.Repaired)
	require.Len(t, res.Removed, 1)
	assert.Empty(t, docs)

	var actions []string
	for _, r := range rows {
		actions = append(actions, r.TableName+":"+r.Action)
	}
	assert.Equal(t, []string{
		"extracted_fields:DELETE",
		"documents:DELETE",
		"users:STAGE_CHANGE",
		"users:CONSISTENCY_CHECK",
	}, actions)
}

func TestConsistentUserIsUntouched(t *testing.T) {
	gw, u := seed(t, registration.StageWaitingForReview, 0, registration.KindPassport, registration.KindVehicleRegistration)

	res, rows, docs := runCheck(t, gw, u)
	assert.False(t, res.Repaired)
	assert.Equal(t, u, res.User)
	assert.Len(t, docs, 2)
	require.Len(t, rows, 1)
	assert.Equal(t, audit.ActionConsistencyCheck, rows[0].Action)
	assert.Contains(t, string(rows[0].Changes), OutcomeConsistent)
}

func TestCheckClosure(t *testing.T) {
	all := []registration.DocumentKind{registration.KindPassport, registration.KindVehicleRegistration}
	stages := []registration.Stage{registration.StageWaitingForVehicle, registration.StageWaitingForReview}
	subsets := [][]registration.DocumentKind{nil, all[:1], all[1:], all}

	for _, stage := range stages {
		for _, kinds := range subsets {
			gw, u := seed(t, stage, 2, kinds...)
			res, _, docs := runCheck(t, gw, u)
			if res.Repaired {
				assert.Equal(t, registration.StageNone, res.User.Stage)
				assert.Zero(t, res.User.UploadAttempts)
				assert.Empty(t, docs)
				continue
			}
			ok, err := isConsistentIn(gw, res.User)
			require.NoError(t, err)
			assert.True(t, ok, "stage %s kinds %v", stage, kinds)
		}
	}
}

func isConsistentIn(gw *store.MemoryGateway, u registration.User) (bool, error) {
	var ok bool
	err := gw.WithinUnitOfWork(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		ok, err = IsConsistent(ctx, tx, u)
		return err
	})
	return ok, err
}

func TestOtherStagesAreConsistent(t *testing.T) {
	for _, stage := range []registration.Stage{
		registration.StageNone,
		registration.StageWaitingForPassport,
		registration.StageWaitingForPayment,
		registration.StageFinished,
	} {
		gw, u := seed(t, stage, 0)
		ok, err := isConsistentIn(gw, u)
		require.NoError(t, err)
		assert.True(t, ok, stage)
	}
}

func TestDiscardDocumentsRemovesAll(t *testing.T) {
	gw, u := seed(t, registration.StageWaitingForReview, 0, registration.KindPassport, registration.KindVehicleRegistration)
	require.NoError(t, gw.WithinUnitOfWork(context.Background(), func(ctx context.Context, tx store.Tx) error {
		rec := audit.NewRecorder(tx)
		removed, err := DiscardDocuments(ctx, tx, rec, u.ID)
		require.NoError(t, err)
		assert.Len(t, removed, 2)
		assert.Len(t, rec.Rows(), 4)
		docs, err := tx.ListDocumentsByUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, docs)
		return nil
	}))
}
