package contract

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"polisflow/test/infra"
)

const schema = `
CREATE TABLE IF NOT EXISTS contracts (
	id             BIGSERIAL PRIMARY KEY,
	program_id     BIGINT NOT NULL,
	company_id     BIGINT NOT NULL,
	owner_id       BIGINT NOT NULL,
	number         TEXT NOT NULL DEFAULT '',
	integration_id TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'draft',
	active_from    TIMESTAMPTZ NOT NULL,
	active_to      TIMESTAMPTZ NOT NULL,
	signed_at      TIMESTAMPTZ NOT NULL,
	premium        DOUBLE PRECISION NOT NULL,
	insured_sum    DOUBLE PRECISION NOT NULL,
	options        JSONB,
	calc_coeff     JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS subjects (
	id          BIGSERIAL PRIMARY KEY,
	contract_id BIGINT NOT NULL,
	first_name  TEXT NOT NULL,
	last_name   TEXT NOT NULL,
	middle_name TEXT NOT NULL DEFAULT '',
	birth_date  TIMESTAMPTZ NOT NULL,
	phone       TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	doc_series  TEXT NOT NULL DEFAULT '',
	doc_number  TEXT NOT NULL DEFAULT '',
	login       TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	deleted_at  TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS insurance_objects (
	id             BIGSERIAL PRIMARY KEY,
	contract_id    BIGINT NOT NULL,
	product        TEXT NOT NULL,
	first_name     TEXT NOT NULL DEFAULT '',
	last_name      TEXT NOT NULL DEFAULT '',
	birth_date     TIMESTAMPTZ,
	payload        JSONB,
	number         TEXT NOT NULL DEFAULT '',
	premium        DOUBLE PRECISION NOT NULL,
	integration_id TEXT NOT NULL DEFAULT '',
	deleted_at     TIMESTAMPTZ
);
`

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test requires docker")
	}

	ctx := context.Background()
	pgC, dsn, err := infra.StartPostgres16(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	return NewRepository(pool)
}

func draftContract() (Contract, Subject, []InsuranceObject) {
	birth := time.Date(1988, 6, 15, 0, 0, 0, 0, time.UTC)
	c := Contract{
		ProgramID:  1,
		CompanyID:  1,
		OwnerID:    1,
		ActiveFrom: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		ActiveTo:   time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
		SignedAt:   time.Date(2024, 3, 28, 12, 0, 0, 0, time.UTC),
		Premium:    1500,
		InsuredSum: 500000,
	}
	s := Subject{
		FirstName: "Anna",
		LastName:  "Schmidt",
		BirthDate: birth,
		Email:     "anna@example.com",
	}
	objs := []InsuranceObject{
		{Product: ProductLife, FirstName: "Anna", LastName: "Schmidt", BirthDate: &birth, Premium: 900},
		{Product: ProductProperty, Premium: 600, Payload: map[string]any{"address": "Main St 1"}},
	}
	return c, s, objs
}

func TestRepositorySaveEmptyOptionsStoresNull(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	c, s, objs := draftContract()
	require.True(t, c.Options.Empty())
	require.NoError(t, repo.Save(ctx, &c, &s, objs))

	var isNull bool
	err := repo.pool.QueryRow(ctx, `SELECT options IS NULL FROM contracts WHERE id=$1`, c.ID).Scan(&isNull)
	require.NoError(t, err)
	require.True(t, isNull, "empty options bag must be stored as NULL")

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, got.Options.Empty())
}

func TestRepositorySaveRoundTrip(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	c, s, objs := draftContract()
	c.Options.Order = &OrderSession{OrderID: "ord-1"}
	require.NoError(t, repo.Save(ctx, &c, &s, objs))
	require.NotZero(t, c.ID)
	require.Equal(t, StatusDraft, c.Status)
	require.Equal(t, c.ID, s.ContractID)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c.Premium, got.Premium)
	require.NotNil(t, got.Options.Order)
	require.Equal(t, "ord-1", got.Options.Order.OrderID)

	subject, err := repo.GetSubject(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "anna@example.com", subject.Email)

	stored, err := repo.GetObjects(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, ProductLife, stored[0].Product)
	require.Equal(t, "Main St 1", stored[1].Payload["address"])
}

func TestRepositorySavePremiumMismatch(t *testing.T) {
	repo := setupRepository(t)

	c, s, objs := draftContract()
	c.Premium = 9999
	err := repo.Save(context.Background(), &c, &s, objs)
	require.ErrorIs(t, err, ErrPremiumMismatch)
}

func TestRepositorySaveReplacesChildren(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	c, s, objs := draftContract()
	require.NoError(t, repo.Save(ctx, &c, &s, objs))

	// re-save with a single object; the old set must retire
	c.Premium = 900
	replacement := []InsuranceObject{
		{Product: ProductLife, FirstName: "Anna", LastName: "Schmidt", Premium: 900},
	}
	s2 := s
	s2.ID = 0
	require.NoError(t, repo.Save(ctx, &c, &s2, replacement))

	stored, err := repo.GetObjects(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, 900.0, stored[0].Premium)
}

func TestRepositoryConfirmIsMonotonic(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	c, s, objs := draftContract()
	require.NoError(t, repo.Save(ctx, &c, &s, objs))

	require.NoError(t, repo.Confirm(ctx, c.ID))
	// idempotent second confirm
	require.NoError(t, repo.Confirm(ctx, c.ID))

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, got.Status)

	// confirmed contracts are immutable and not deletable
	err = repo.Save(ctx, &c, &s, objs)
	require.ErrorIs(t, err, ErrStatusFinal)
	err = repo.Delete(ctx, c.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryDeleteDraft(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	c, s, objs := draftContract()
	require.NoError(t, repo.Save(ctx, &c, &s, objs))
	require.NoError(t, repo.Delete(ctx, c.ID))

	_, err := repo.GetByID(ctx, c.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetSubject(ctx, c.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryExternalRef(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	c, s, objs := draftContract()
	require.NoError(t, repo.Save(ctx, &c, &s, objs))

	require.NoError(t, repo.SetNumber(ctx, c.ID, "POL-000123"))
	require.NoError(t, repo.SetExternalRef(ctx, c.ID, "UW-77"))

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "POL-000123", got.Number)
	require.Equal(t, "UW-77", got.Options.Extra["uwContractId"])
}
