package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insurance-bot/internal/audit"
	"insurance-bot/internal/extract"
	"insurance-bot/internal/registration"
	"insurance-bot/internal/shared/storage/object/memory"
	"insurance-bot/internal/store"
)

type harness struct {
	t     *testing.T
	gw    *store.MemoryGateway
	blobs *memory.Store
	p     *Pipeline
	user  registration.User
}

func newHarness(t *testing.T, ex extract.Extractor) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		gw:    store.NewMemoryGateway(),
		blobs: memory.New(),
	}
	h.p = &Pipeline{Store: h.blobs, Extractor: ex, MaxAttempts: 5}
	h.user = registration.NewUser(42, "Ann", time.Now())
	require.NoError(t, h.gw.WithinUnitOfWork(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateUser(ctx, h.user)
	}))
	return h
}

// ingest runs one upload in its own unit and commits it for every outcome.
func (h *harness) ingest(kind registration.DocumentKind, raw []byte) (Outcome, []registration.AuditLog, error) {
	var (
		out  Outcome
		rows []registration.AuditLog
		ierr error
	)
	err := h.gw.WithinUnitOfWork(context.Background(), func(ctx context.Context, tx store.Tx) error {
		rec := audit.NewRecorder(tx)
		out, ierr = h.p.Ingest(ctx, tx, rec, h.user.ID, kind, raw)
		rows = rec.Rows()
		return nil
	})
	require.NoError(h.t, err)
	return out, rows, ierr
}

func (h *harness) setUser(mutate func(u *registration.User)) {
	require.NoError(h.t, h.gw.WithinUnitOfWork(context.Background(), func(ctx context.Context, tx store.Tx) error {
		u, err := tx.FindUserByID(ctx, h.user.ID)
		if err != nil {
			return err
		}
		mutate(&u)
		return tx.UpdateUser(ctx, u)
	}))
}

func (h *harness) state() (registration.User, []registration.Document) {
	var (
		u    registration.User
		docs []registration.Document
	)
	require.NoError(h.t, h.gw.WithinUnitOfWork(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		if u, err = tx.FindUserByID(ctx, h.user.ID); err != nil {
			return err
		}
		docs, err = tx.ListDocumentsByUser(ctx, h.user.ID)
		return err
	}))
	return u, docs
}

func TestIngestPassportThenSameBytesIsDuplicate(t *testing.T) {
	h := newHarness(t, extract.Simulated{})
	b1 := []byte("passport-bytes-1")

	out, _, err := h.ingest(registration.KindPassport, b1)
	require.NoError(t, err)
	assert.Equal(t, registration.StageWaitingForVehicle, out.User.Stage)
	assert.True(t, out.StageChanged())

	u, docs := h.state()
	assert.Equal(t, registration.StageWaitingForVehicle, u.Stage)
	assert.Equal(t, 1, u.UploadAttempts)
	require.Len(t, docs, 1)

	_, _, err = h.ingest(registration.KindVehicleRegistration, b1)
	require.ErrorIs(t, err, ErrDuplicateContent)

	u, docs = h.state()
	assert.Equal(t, 2, u.UploadAttempts)
	assert.Equal(t, registration.StageWaitingForVehicle, u.Stage)
	assert.Len(t, docs, 1)
	assert.Len(t, h.blobs.Keys(), 1)
}

func TestIngestSixthAttemptIsRejected(t *testing.T) {
	h := newHarness(t, extract.Simulated{})
	h.setUser(func(u *registration.User) { u.UploadAttempts = 5 })

	_, _, err := h.ingest(registration.KindPassport, []byte("fresh image"))
	require.ErrorIs(t, err, ErrMaxAttemptsExceeded)

	u, docs := h.state()
	assert.Equal(t, 6, u.UploadAttempts)
	assert.Equal(t, registration.StageWaitingForPassport, u.Stage)
	assert.Empty(t, docs)
	assert.Empty(t, h.blobs.Keys())

	_, _, err = h.ingest(registration.KindPassport, []byte("another image"))
	require.ErrorIs(t, err, ErrMaxAttemptsExceeded)
	u, _ = h.state()
	assert.Equal(t, 6, u.UploadAttempts, "counter is clamped at max+1")
}

func TestIngestVehicleResetsAttempts(t *testing.T) {
	h := newHarness(t, extract.Simulated{})
	_, _, err := h.ingest(registration.KindPassport, []byte("p"))
	require.NoError(t, err)
	_, _, err = h.ingest(registration.KindVehicleRegistration, []byte("p"))
	require.ErrorIs(t, err, ErrDuplicateContent)

	out, _, err := h.ingest(registration.KindVehicleRegistration, []byte("v"))
	require.NoError(t, err)
	assert.Equal(t, registration.StageWaitingForReview, out.User.Stage)
	assert.Equal(t, 0, out.User.UploadAttempts)
	require.Len(t, out.Fields, 4)
	assert.Equal(t, "VIN", out.Fields[0].Name)
	assert.Equal(t, "1HGBH41JXMN109186", out.Fields[0].Value)
}

func TestIngestWrongStageDoesNotCountAttempt(t *testing.T) {
	h := newHarness(t, extract.Simulated{})
	h.setUser(func(u *registration.User) {
		u.Stage = registration.StageWaitingForReview
		u.UploadAttempts = 2
	})

	_, rows, err := h.ingest(registration.KindPassport, []byte("x"))
	require.ErrorIs(t, err, registration.ErrInvalidTransition)
	assert.Empty(t, rows)

	u, docs := h.state()
	assert.Equal(t, 2, u.UploadAttempts)
	assert.Empty(t, docs)
}

func TestIngestUnknownUser(t *testing.T) {
	h := newHarness(t, extract.Simulated{})
	err := h.gw.WithinUnitOfWork(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := h.p.Ingest(ctx, tx, audit.NewRecorder(tx), "missing", registration.KindPassport, []byte("x"))
		return err
	})
	require.ErrorIs(t, err, ErrUserNotFound)
}

type failingExtractor struct{ err error }

func (f failingExtractor) ExtractFields(context.Context, []byte, registration.DocumentKind) (map[string]string, error) {
	return nil, f.err
}

func TestIngestKeepsDocumentWhenExtractionUnavailable(t *testing.T) {
	h := newHarness(t, failingExtractor{err: extract.ErrUnavailable})

	out, _, err := h.ingest(registration.KindPassport, []byte("blurry"))
	require.NoError(t, err)
	require.ErrorIs(t, out.ExtractionErr, extract.ErrUnavailable)
	assert.Empty(t, out.Fields)
	assert.Equal(t, registration.StageWaitingForVehicle, out.User.Stage)

	_, docs := h.state()
	assert.Len(t, docs, 1)
}

func TestIngestAuditsEveryWrite(t *testing.T) {
	h := newHarness(t, extract.Simulated{})

	_, rows, err := h.ingest(registration.KindPassport, []byte("p"))
	require.NoError(t, err)

	var got []string
	for _, r := range rows {
		got = append(got, r.TableName+":"+r.Action)
	}
	assert.Equal(t, []string{
		"documents:CREATE",
		"extracted_fields:CREATE",
		"extracted_fields:CREATE",
		"extracted_fields:CREATE",
		"users:STAGE_CHANGE",
	}, got)

	_, rows, err = h.ingest(registration.KindVehicleRegistration, []byte("p"))
	require.ErrorIs(t, err, ErrDuplicateContent)
	require.Len(t, rows, 1)
	assert.Equal(t, audit.ActionUpdate, rows[0].Action)
}

func TestIngestAttemptsNeverDecreaseWithoutVehicle(t *testing.T) {
	h := newHarness(t, extract.Simulated{})
	_, _, err := h.ingest(registration.KindPassport, []byte("passport"))
	require.NoError(t, err)

	prev := 1
	for i := 0; i < 8; i++ {
		_, _, err := h.ingest(registration.KindVehicleRegistration, []byte("passport"))
		require.Error(t, err)
		u, docs := h.state()
		require.GreaterOrEqual(t, u.UploadAttempts, prev)
		require.LessOrEqual(t, u.UploadAttempts, h.p.Limit()+1)
		require.Len(t, docs, 1)
		prev = u.UploadAttempts
	}
	assert.Equal(t, h.p.Limit()+1, prev)
}

// racingTx hides an existing row from the in-process check so the insert
// hits the uniqueness guard, as a concurrent upload would.
type racingTx struct {
	store.Tx
}

func (racingTx) DocumentExists(context.Context, string, string) (bool, error) {
	return false, nil
}

func TestIngestConstraintDuplicateDropsBlob(t *testing.T) {
	h := newHarness(t, extract.Simulated{})
	_, _, err := h.ingest(registration.KindPassport, []byte("p"))
	require.NoError(t, err)
	require.Len(t, h.blobs.Keys(), 1)

	var ierr error
	require.NoError(t, h.gw.WithinUnitOfWork(context.Background(), func(ctx context.Context, tx store.Tx) error {
		rtx := racingTx{Tx: tx}
		_, ierr = h.p.Ingest(ctx, rtx, audit.NewRecorder(rtx), h.user.ID, registration.KindVehicleRegistration, []byte("p"))
		return nil
	}))
	require.True(t, errors.Is(ierr, ErrDuplicateContent))
	assert.Len(t, h.blobs.Keys(), 1)

	u, docs := h.state()
	assert.Equal(t, 2, u.UploadAttempts)
	assert.Len(t, docs, 1)
}
