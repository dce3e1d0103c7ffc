package repository

import (
	"context"
	"errors"

	"example.com/backstage/services/telemetry/internal/database"
	"example.com/backstage/services/telemetry/internal/models"

	"gorm.io/gorm"
)

// DeviceRepository defines the data access methods for devices
type DeviceRepository interface {
	Create(ctx context.Context, device *models.Device) error
	Update(ctx context.Context, device *models.Device) error
	Delete(ctx context.Context, deviceID string) error
	FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	ExistsByDeviceID(ctx context.Context, deviceID string) (bool, error)
	List(ctx context.Context) ([]*models.Device, error)
}

// deviceRepository implements DeviceRepository
type deviceRepository struct {
	db database.DB
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db database.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) Create(ctx context.Context, device *models.Device) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Create(device).Error; err != nil {
		return translate(err)
	}
	return nil
}

// Update saves the mutable fields of a device. device_id and api_key are
// never written by an update.
func (r *deviceRepository) Update(ctx context.Context, device *models.Device) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	res := gormDB.WithContext(ctx).
		Model(&models.Device{}).
		Where("device_id = ?", device.DeviceID).
		Select("name", "status", "capacity", "location", "manufacturer", "model", "tilt", "azimuth").
		Updates(device)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *deviceRepository) Delete(ctx context.Context, deviceID string) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	res := gormDB.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&models.Device{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *deviceRepository) FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var device models.Device
	if err := gormDB.WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		return nil, translate(err)
	}
	return &device, nil
}

func (r *deviceRepository) ExistsByDeviceID(ctx context.Context, deviceID string) (bool, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return false, err
	}

	var count int64
	if err := gormDB.WithContext(ctx).Model(&models.Device{}).Where("device_id = ?", deviceID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *deviceRepository) List(ctx context.Context) ([]*models.Device, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var devices []*models.Device
	if err := gormDB.WithContext(ctx).Order("created_at").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// translate maps gorm errors to repository errors
func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateKey
	}
	return err
}
