package postgres

import (
	"context"
	"testing"
	"time"

	"satshunt/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUser() *domain.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.User{
		ID:           uuid.New(),
		Username:     "satoshi",
		PasswordHash: "$argon2id$hashed",
		Status:       domain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func userTestColumns() []string {
	return []string{"id", "username", "password_hash", "lightning_address",
		"status", "created_at", "updated_at"}
}

func userRow(u *domain.User) *pgxmock.Rows {
	return pgxmock.NewRows(userTestColumns()).AddRow(
		u.ID, u.Username, u.PasswordHash, u.LightningAddress,
		u.Status, u.CreatedAt, u.UpdatedAt,
	)
}

func userTransactionTestColumns() []string {
	return []string{"id", "user_id", "type", "amount_msat", "status",
		"location_id", "invoice", "payment_hash", "created_at"}
}

func TestUserRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	u := newTestUser()

	mock.ExpectExec("INSERT INTO users").
		WithArgs(u.ID, u.Username, u.PasswordHash, u.LightningAddress,
			u.Status, u.CreatedAt, u.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), u)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByUsername(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	u := newTestUser()

	mock.ExpectQuery("SELECT .+ FROM users WHERE username").
		WithArgs(u.Username).
		WillReturnRows(userRow(u))

	result, err := repo.GetByUsername(context.Background(), u.Username)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, u.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByUsername_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM users WHERE username").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows(userTestColumns()))

	result, err := repo.GetByUsername(context.Background(), "ghost")
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_SumTransactions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE\\(SUM").
		WithArgs(userID, domain.UserTransactionTypeWithdraw).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(9_000_000)))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	sum, err := repo.SumTransactions(context.Background(), tx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(9_000_000), sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_MarkTransactionStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	id := uuid.New()
	hash := "hash123"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE user_transactions").
		WithArgs(domain.UserTransactionStatusCompleted, &hash, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.MarkTransactionStatus(context.Background(), tx, id, domain.UserTransactionStatusCompleted, &hash)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_ListTransactions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	userID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rows := pgxmock.NewRows(userTransactionTestColumns()).
		AddRow(uuid.New(), userID, domain.UserTransactionTypeCollect, int64(500_000),
			domain.UserTransactionStatusCompleted, nil, nil, nil, now)

	mock.ExpectQuery("SELECT .+ FROM user_transactions").
		WithArgs(userID, 20, 0).
		WillReturnRows(rows)

	result, err := repo.ListTransactions(context.Background(), userID, 20, 0)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, domain.UserTransactionTypeCollect, result[0].Type)
	assert.Equal(t, int64(500_000), result[0].AmountMsat)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_ListStalePendingWithdraws(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	userID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)
	cutoff := now.Add(-30 * time.Second)
	invoice := "lnbc210u1x"
	hash := "hash123"

	rows := pgxmock.NewRows(userTransactionTestColumns()).
		AddRow(uuid.New(), userID, domain.UserTransactionTypeWithdraw, int64(21_000_000),
			domain.UserTransactionStatusPending, nil, &invoice, &hash, now.Add(-time.Minute))

	mock.ExpectQuery("SELECT .+ FROM user_transactions").
		WithArgs(domain.UserTransactionTypeWithdraw, domain.UserTransactionStatusPending, cutoff, 100).
		WillReturnRows(rows)

	result, err := repo.ListStalePendingWithdraws(context.Background(), cutoff, 100)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, domain.UserTransactionStatusPending, result[0].Status)
	require.NotNil(t, result[0].PaymentHash)
	assert.Equal(t, hash, *result[0].PaymentHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}
