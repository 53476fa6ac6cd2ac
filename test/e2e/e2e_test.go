// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitlement-workers/internal/common/config"
	"entitlement-workers/internal/common/database"
	"entitlement-workers/internal/models"
	"entitlement-workers/internal/store"
)

// These tests run against a real PostgreSQL. Set E2E=1 and point the usual
// config (configs/config.yaml or env) at a disposable database.

var db *sql.DB

func TestMain(m *testing.M) {
	if os.Getenv("E2E") != "1" {
		fmt.Println("skipping e2e tests, set E2E=1 to run them")
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("config load failed: %v", err))
	}
	if _, err := database.Migrate(cfg.Database.Postgres); err != nil {
		panic(fmt.Sprintf("migrations failed: %v", err))
	}
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		panic(fmt.Sprintf("postgres failed: %v", err))
	}
	if err := pg.Ping(context.Background()); err != nil {
		panic(fmt.Sprintf("postgres ping failed: %v", err))
	}
	db = pg.DB

	code := m.Run()

	pg.Close()
	os.Exit(code)
}

func uniqueEmail() string {
	return fmt.Sprintf("e2e-%d@example.com", time.Now().UnixNano())
}

func TestSubjects_ConcurrentFindOrCreateYieldsOneRow(t *testing.T) {
	ctx := context.Background()
	repo := store.NewSubjectRepository(db)
	email := uniqueEmail()

	const callers = 8
	ids := make([]int64, callers)
	created := make([]bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, c, err := repo.FindOrCreate(ctx, email, models.Profile{Name: "E2E Buyer"})
			if !assert.NoError(t, err) {
				return
			}
			ids[i], created[i] = s.ID, c
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i := range ids {
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount)
}

func TestEntitlements_ConcurrentInsertKeepsFirstCredential(t *testing.T) {
	ctx := context.Background()
	subject, _, err := store.NewSubjectRepository(db).FindOrCreate(ctx, uniqueEmail(), models.Profile{})
	require.NoError(t, err)

	entitlements := store.NewEntitlementStore(db)

	const callers = 6
	usernames := make([]string, callers)
	inserted := make([]bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, ins, err := entitlements.TryInsert(ctx, models.Entitlement{
				SubjectID:             subject.ID,
				ItemID:                7,
				AmountPaid:            350,
				Currency:              "MXN",
				Provider:              models.ProviderStripe,
				ProviderTransactionID: "pi_e2e",
				CredentialUsername:    fmt.Sprintf("vault-e2e-%d", i),
				CredentialSecret:      "secret",
			})
			if !assert.NoError(t, err) {
				return
			}
			usernames[i], inserted[i] = e.CredentialUsername, ins
		}(i)
	}
	wg.Wait()

	insertedCount := 0
	for i := range usernames {
		assert.Equal(t, usernames[0], usernames[i], "every caller must observe the stored credential")
		if inserted[i] {
			insertedCount++
		}
	}
	assert.Equal(t, 1, insertedCount)

	found, ok, err := entitlements.FindBySubjectAndItem(ctx, subject.ID, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, usernames[0], found.CredentialUsername)
}

func TestPendingLedger_CompleteOnce(t *testing.T) {
	ctx := context.Background()
	subject, _, err := store.NewSubjectRepository(db).FindOrCreate(ctx, uniqueEmail(), models.Profile{})
	require.NoError(t, err)

	reference := fmt.Sprintf("cs_e2e_%d", time.Now().UnixNano())
	_, err = db.ExecContext(ctx, `INSERT INTO pending_payments
		(provider_reference, item_id, amount_paid, currency, provider, buyer_email, status)
		VALUES ($1, 3, 199, 'USD', 'stripe', 'buyer@example.com', 'paid')`, reference)
	require.NoError(t, err)

	ledger := store.NewPendingLedger(db)

	unresolved, err := ledger.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.True(t, containsReference(unresolved, reference))

	row, ok, err := ledger.FindByReference(ctx, reference)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, row.ProviderConfirmed())

	updated, err := ledger.MarkCompleted(ctx, row.ID, subject.ID, models.BuyerDetails{Email: "buyer@example.com", Name: "Buyer"})
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = ledger.MarkCompleted(ctx, row.ID, subject.ID, models.BuyerDetails{})
	require.NoError(t, err)
	assert.False(t, updated, "a completed row is never completed twice")

	unresolved, err = ledger.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.False(t, containsReference(unresolved, reference))
}

func containsReference(rows []models.PendingPayment, reference string) bool {
	for _, r := range rows {
		if r.ProviderReference == reference {
			return true
		}
	}
	return false
}
