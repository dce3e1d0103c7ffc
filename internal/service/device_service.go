package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"example.com/backstage/services/telemetry/internal/models"
	"example.com/backstage/services/telemetry/internal/repository"

	"github.com/sirupsen/logrus"
)

// Device service errors
var (
	ErrDeviceExists   = errors.New("device already exists")
	ErrDeviceNotFound = errors.New("device not found")
	ErrInvalidStatus  = errors.New("invalid device status")
)

// apiKeyBytes is the entropy of a generated device credential
const apiKeyBytes = 32

// DeviceDirectory is the part of the device directory the service needs
type DeviceDirectory interface {
	Exists(ctx context.Context, deviceID string) (bool, error)
	Invalidate(ctx context.Context, deviceID string)
}

// DeviceService defines the device management operations
type DeviceService interface {
	RegisterDevice(ctx context.Context, device *models.Device) (string, error)
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	ListDevices(ctx context.Context) ([]*models.Device, error)
	UpdateDevice(ctx context.Context, deviceID string, update DeviceUpdate) (*models.Device, error)
	DeleteDevice(ctx context.Context, deviceID string) error
}

// DeviceUpdate carries the fields to change; nil fields are left alone.
// device_id and the credential cannot be updated.
type DeviceUpdate struct {
	Name         *string
	Status       *models.DeviceStatus
	Capacity     *float64
	Location     *string
	Manufacturer *string
	Model        *string
	Tilt         *float64
	Azimuth      *float64
}

type deviceService struct {
	repo      repository.DeviceRepository
	directory DeviceDirectory
	log       *logrus.Logger
	newKey    func() (string, error)
}

// NewDeviceService creates a device service
func NewDeviceService(repo repository.DeviceRepository, directory DeviceDirectory, log *logrus.Logger) (DeviceService, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if directory == nil {
		return nil, errors.New("directory is required")
	}
	if log == nil {
		log = logrus.New()
	}
	return &deviceService{
		repo:      repo,
		directory: directory,
		log:       log,
		newKey:    func() (string, error) { return generateSecureKey(apiKeyBytes) },
	}, nil
}

// RegisterDevice stores a new device and returns its credential. The
// credential is only ever returned here.
func (s *deviceService) RegisterDevice(ctx context.Context, device *models.Device) (string, error) {
	if device.Status == "" {
		device.Status = models.DeviceStatusOffline
	}
	if !device.Status.Valid() {
		return "", ErrInvalidStatus
	}

	exists, err := s.directory.Exists(ctx, device.DeviceID)
	if err != nil {
		return "", err
	}
	if exists {
		return "", ErrDeviceExists
	}

	key, err := s.newKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate device credential: %w", err)
	}
	device.APIKey = key

	if err := s.repo.Create(ctx, device); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return "", ErrDeviceExists
		}
		return "", fmt.Errorf("failed to create device: %w", err)
	}

	s.log.WithField("device_id", device.DeviceID).Info("Device registered")
	return key, nil
}

func (s *deviceService) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	device, err := s.repo.FindByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

func (s *deviceService) ListDevices(ctx context.Context) ([]*models.Device, error) {
	devices, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (s *deviceService) UpdateDevice(ctx context.Context, deviceID string, update DeviceUpdate) (*models.Device, error) {
	device, err := s.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if update.Status != nil && !update.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	update.apply(device)

	if err := s.repo.Update(ctx, device); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to update device: %w", err)
	}
	s.directory.Invalidate(ctx, deviceID)

	s.log.WithField("device_id", deviceID).Info("Device updated")
	return device, nil
}

func (s *deviceService) DeleteDevice(ctx context.Context, deviceID string) error {
	if err := s.repo.Delete(ctx, deviceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("failed to delete device: %w", err)
	}
	s.directory.Invalidate(ctx, deviceID)

	s.log.WithField("device_id", deviceID).Info("Device deleted")
	return nil
}

func (u DeviceUpdate) apply(d *models.Device) {
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.Capacity != nil {
		d.Capacity = u.Capacity
	}
	if u.Location != nil {
		d.Location = *u.Location
	}
	if u.Manufacturer != nil {
		d.Manufacturer = *u.Manufacturer
	}
	if u.Model != nil {
		d.DeviceModel = *u.Model
	}
	if u.Tilt != nil {
		d.Tilt = u.Tilt
	}
	if u.Azimuth != nil {
		d.Azimuth = u.Azimuth
	}
}

// generateSecureKey generates a random URL safe credential
func generateSecureKey(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
