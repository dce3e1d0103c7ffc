package repository

import (
	"context"
	"testing"
	"time"

	"example.com/backstage/services/telemetry/internal/database"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockRepository(t *testing.T) (DeviceRepository, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		TranslateError:         true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)

	return NewDeviceRepository(database.Wrap(gormDB)), mock
}

func deviceColumns() []string {
	return []string{"id", "created_at", "updated_at", "device_id", "name", "status", "location", "api_key"}
}

func TestFindByDeviceID(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM "devices" WHERE device_id = \$1`).
		WillReturnRows(sqlmock.NewRows(deviceColumns()).
			AddRow(1, now, now, "panel-7", "Roof Panel 7", "offline", "Lisbon", "secret"))

	device, err := repo.FindByDeviceID(context.Background(), "panel-7")
	require.NoError(t, err)
	assert.Equal(t, "panel-7", device.DeviceID)
	assert.Equal(t, "Roof Panel 7", device.Name)
	assert.Equal(t, "Lisbon", device.Location)
	assert.Equal(t, models.DeviceStatusOffline, device.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByDeviceIDNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT \* FROM "devices" WHERE device_id = \$1`).
		WillReturnRows(sqlmock.NewRows(deviceColumns()))

	_, err := repo.FindByDeviceID(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsByDeviceID(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "devices" WHERE device_id = \$1`).
		WithArgs("panel-7").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.ExistsByDeviceID(context.Background(), "panel-7")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingDevice(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`DELETE FROM "devices" WHERE device_id = \$1`).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDevice(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`UPDATE "devices" SET .*"name"=.*WHERE device_id = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), &models.Device{
		DeviceID: "panel-7",
		Name:     "Roof Panel 7b",
		Status:   models.DeviceStatusOnline,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrdersByCreation(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM "devices" ORDER BY created_at`).
		WillReturnRows(sqlmock.NewRows(deviceColumns()).
			AddRow(1, now, now, "panel-1", "One", "online", "", "k1").
			AddRow(2, now, now, "panel-2", "Two", "offline", "", "k2"))

	devices, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "panel-1", devices[0].DeviceID)
	assert.Equal(t, "panel-2", devices[1].DeviceID)
	require.NoError(t, mock.ExpectationsWereMet())
}
