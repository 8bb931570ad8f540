//go:build integration

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"insurance-bot/internal/registration"
	"insurance-bot/internal/shared/storage/db"
)

func startPostgres(t *testing.T) *PGGateway {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("fastcar"),
		tcpostgres.WithUsername("fastcar"),
		tcpostgres.WithPassword("fastcar"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := db.Connect(ctx, dsn, db.DefaultServerOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.RunMigrations(ctx, conn))

	return &PGGateway{DB: conn}
}

func TestPGConcurrentIdenticalUploadsYieldOneDocument(t *testing.T) {
	gw := startPostgres(t)
	ctx := context.Background()

	user := registration.NewUser(1001, "Race", time.Now())
	require.NoError(t, gw.WithinUnitOfWork(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateUser(ctx, user)
	}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := gw.WithinUnitOfWork(ctx, func(ctx context.Context, tx Tx) error {
				u, err := tx.FindUserByID(ctx, user.ID)
				if err != nil {
					return err
				}
				doc := registration.NewDocument(u.ID, registration.KindPassport, "uploads/p", "same-bytes", time.Now())
				if err := tx.CreateDocument(ctx, doc); err != nil {
					return err
				}
				u.Stage = registration.StageWaitingForVehicle
				return tx.UpdateUser(ctx, u)
			})
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, dup int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicate):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, dup)

	require.NoError(t, gw.WithinUnitOfWork(ctx, func(ctx context.Context, tx Tx) error {
		docs, err := tx.ListDocumentsByUser(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		return nil
	}))
}

func TestPGDeleteDocumentCascadesFields(t *testing.T) {
	gw := startPostgres(t)
	ctx := context.Background()

	user := registration.NewUser(1002, "Cascade", time.Now())
	doc := registration.NewDocument(user.ID, registration.KindPassport, "uploads/p", "fp", time.Now())
	require.NoError(t, gw.WithinUnitOfWork(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.CreateUser(ctx, user))
		require.NoError(t, tx.CreateDocument(ctx, doc))
		return tx.CreateField(ctx, registration.NewExtractedField(doc.ID, "FullName", "John Doe"))
	}))

	require.NoError(t, gw.WithinUnitOfWork(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.DeleteDocument(ctx, doc.ID))
		fields, err := tx.ListFieldsByDocument(ctx, doc.ID)
		require.NoError(t, err)
		require.Empty(t, fields)
		return nil
	}))
}
