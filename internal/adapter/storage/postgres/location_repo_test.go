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

func newTestLocation() *domain.Location {
	now := time.Now().UTC().Truncate(time.Microsecond)
	desc := "under the old oak"
	return &domain.Location{
		ID:              uuid.New(),
		Name:            "old oak",
		Description:     &desc,
		Latitude:        55.676,
		Longitude:       12.568,
		MaxCapacityMsat: 100_000_000,
		Status:          domain.LocationStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func locationTestColumns() []string {
	return []string{"id", "name", "description", "latitude", "longitude",
		"max_capacity_msat", "status", "last_refill_at", "last_withdraw_at",
		"created_at", "updated_at"}
}

func locationRow(l *domain.Location) *pgxmock.Rows {
	return pgxmock.NewRows(locationTestColumns()).AddRow(
		l.ID, l.Name, l.Description, l.Latitude, l.Longitude, l.MaxCapacityMsat,
		l.Status, l.LastRefillAt, l.LastWithdrawAt, l.CreatedAt, l.UpdatedAt,
	)
}

func TestLocationRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLocationRepo(mock)
	l := newTestLocation()

	mock.ExpectExec("INSERT INTO locations").
		WithArgs(l.ID, l.Name, l.Description, l.Latitude, l.Longitude, l.MaxCapacityMsat,
			l.Status, l.LastRefillAt, l.LastWithdrawAt, l.CreatedAt, l.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), l)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocationRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLocationRepo(mock)
	l := newTestLocation()

	mock.ExpectQuery("SELECT .+ FROM locations WHERE id").
		WithArgs(l.ID).
		WillReturnRows(locationRow(l))

	result, err := repo.GetByID(context.Background(), l.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, l.ID, result.ID)
	assert.Equal(t, l.MaxCapacityMsat, result.MaxCapacityMsat)
	assert.Equal(t, l.Latitude, result.Latitude)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocationRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLocationRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM locations WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(locationTestColumns()))

	result, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocationRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLocationRepo(mock)
	l := newTestLocation()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM locations WHERE id = .+ FOR UPDATE").
		WithArgs(l.ID).
		WillReturnRows(locationRow(l))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetByIDForUpdate(context.Background(), tx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, l.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocationRepo_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLocationRepo(mock)
	a := newTestLocation()
	b := newTestLocation()
	b.Name = "pier"

	rows := pgxmock.NewRows(locationTestColumns()).
		AddRow(a.ID, a.Name, a.Description, a.Latitude, a.Longitude, a.MaxCapacityMsat,
			a.Status, a.LastRefillAt, a.LastWithdrawAt, a.CreatedAt, a.UpdatedAt).
		AddRow(b.ID, b.Name, b.Description, b.Latitude, b.Longitude, b.MaxCapacityMsat,
			b.Status, b.LastRefillAt, b.LastWithdrawAt, b.CreatedAt, b.UpdatedAt)

	mock.ExpectQuery("SELECT .+ FROM locations ORDER BY name").
		WillReturnRows(rows)

	result, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "pier", result[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocationRepo_SetLastRefillAt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLocationRepo(mock)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE locations SET last_refill_at").
		WithArgs(at, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.SetLastRefillAt(context.Background(), tx, id, at)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
