package directory

import (
	"context"
	"errors"
	"io"
	"testing"

	"example.com/backstage/services/telemetry/internal/cache"
	"example.com/backstage/services/telemetry/internal/ingest"
	"example.com/backstage/services/telemetry/internal/metrics"
	"example.com/backstage/services/telemetry/internal/models"
	"example.com/backstage/services/telemetry/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDeviceRepository struct {
	mock.Mock
}

func (m *MockDeviceRepository) Create(ctx context.Context, device *models.Device) error {
	return m.Called(ctx, device).Error(0)
}

func (m *MockDeviceRepository) Update(ctx context.Context, device *models.Device) error {
	return m.Called(ctx, device).Error(0)
}

func (m *MockDeviceRepository) Delete(ctx context.Context, deviceID string) error {
	return m.Called(ctx, deviceID).Error(0)
}

func (m *MockDeviceRepository) FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Device), args.Error(1)
}

func (m *MockDeviceRepository) ExistsByDeviceID(ctx context.Context, deviceID string) (bool, error) {
	args := m.Called(ctx, deviceID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDeviceRepository) List(ctx context.Context) ([]*models.Device, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*models.Device), args.Error(1)
}

type MockDeviceCache struct {
	mock.Mock
}

func (m *MockDeviceCache) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Device), args.Error(1)
}

func (m *MockDeviceCache) SetDevice(ctx context.Context, device *models.Device) error {
	return m.Called(ctx, device).Error(0)
}

func (m *MockDeviceCache) DeleteDevice(ctx context.Context, deviceID string) error {
	return m.Called(ctx, deviceID).Error(0)
}

func (m *MockDeviceCache) Close() error {
	return m.Called().Error(0)
}

type recordingObserver struct {
	results []string
}

func (r *recordingObserver) ObserveCache(result string) {
	r.results = append(r.results, result)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newDirectory(t *testing.T, repo *MockDeviceRepository, c *MockDeviceCache, obs *recordingObserver) *Directory {
	t.Helper()
	d, err := New(Config{Repository: repo, Cache: c, Logger: quietLogger(), Observer: obs})
	require.NoError(t, err)
	return d
}

func TestLookupCacheHit(t *testing.T) {
	repo := new(MockDeviceRepository)
	c := new(MockDeviceCache)
	obs := &recordingObserver{}
	device := &models.Device{DeviceID: "panel-7", Name: "Roof Panel 7"}

	c.On("GetDevice", mock.Anything, "panel-7").Return(device, nil)

	got, err := newDirectory(t, repo, c, obs).Lookup(context.Background(), "panel-7")
	require.NoError(t, err)
	assert.Equal(t, device, got)
	assert.Equal(t, []string{metrics.CacheHit}, obs.results)
	repo.AssertNotCalled(t, "FindByDeviceID", mock.Anything, mock.Anything)
}

func TestLookupCacheMissPopulatesCache(t *testing.T) {
	repo := new(MockDeviceRepository)
	c := new(MockDeviceCache)
	obs := &recordingObserver{}
	device := &models.Device{DeviceID: "panel-7", Name: "Roof Panel 7"}

	c.On("GetDevice", mock.Anything, "panel-7").Return(nil, cache.ErrMiss)
	repo.On("FindByDeviceID", mock.Anything, "panel-7").Return(device, nil)
	c.On("SetDevice", mock.Anything, device).Return(nil)

	got, err := newDirectory(t, repo, c, obs).Lookup(context.Background(), "panel-7")
	require.NoError(t, err)
	assert.Equal(t, "Roof Panel 7", got.Name)
	assert.Equal(t, []string{metrics.CacheMiss}, obs.results)
	c.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestLookupCacheErrorFallsBackToDatabase(t *testing.T) {
	repo := new(MockDeviceRepository)
	c := new(MockDeviceCache)
	obs := &recordingObserver{}
	device := &models.Device{DeviceID: "panel-7"}

	c.On("GetDevice", mock.Anything, "panel-7").Return(nil, errors.New("connection refused"))
	repo.On("FindByDeviceID", mock.Anything, "panel-7").Return(device, nil)
	c.On("SetDevice", mock.Anything, device).Return(errors.New("connection refused"))

	got, err := newDirectory(t, repo, c, obs).Lookup(context.Background(), "panel-7")
	require.NoError(t, err)
	assert.Equal(t, "panel-7", got.DeviceID)
	assert.Equal(t, []string{metrics.CacheError}, obs.results)
}

func TestLookupUnknownDevice(t *testing.T) {
	repo := new(MockDeviceRepository)
	c := new(MockDeviceCache)

	c.On("GetDevice", mock.Anything, "ghost").Return(nil, cache.ErrMiss)
	repo.On("FindByDeviceID", mock.Anything, "ghost").Return(nil, repository.ErrNotFound)

	_, err := newDirectory(t, repo, c, &recordingObserver{}).Lookup(context.Background(), "ghost")
	assert.ErrorIs(t, err, ingest.ErrDeviceNotFound)
	c.AssertNotCalled(t, "SetDevice", mock.Anything, mock.Anything)
}

func TestLookupDatabaseFailureIsNotNotFound(t *testing.T) {
	repo := new(MockDeviceRepository)
	dbErr := errors.New("connection reset by peer")

	repo.On("FindByDeviceID", mock.Anything, "panel-7").Return(nil, dbErr)

	d, err := New(Config{Repository: repo, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = d.Lookup(context.Background(), "panel-7")
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, ingest.ErrDeviceNotFound)
}

func TestInvalidate(t *testing.T) {
	repo := new(MockDeviceRepository)
	c := new(MockDeviceCache)

	c.On("DeleteDevice", mock.Anything, "panel-7").Return(nil)

	newDirectory(t, repo, c, &recordingObserver{}).Invalidate(context.Background(), "panel-7")
	c.AssertExpectations(t)
}

func TestExistsReadsDatabase(t *testing.T) {
	repo := new(MockDeviceRepository)
	c := new(MockDeviceCache)

	repo.On("ExistsByDeviceID", mock.Anything, "panel-7").Return(true, nil)

	exists, err := newDirectory(t, repo, c, &recordingObserver{}).Exists(context.Background(), "panel-7")
	require.NoError(t, err)
	assert.True(t, exists)
	c.AssertNotCalled(t, "GetDevice", mock.Anything, mock.Anything)
}

func TestNewRequiresRepository(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
