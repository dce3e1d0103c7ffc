package directory

import (
	"context"
	"errors"
	"fmt"

	"example.com/backstage/services/telemetry/internal/cache"
	"example.com/backstage/services/telemetry/internal/ingest"
	"example.com/backstage/services/telemetry/internal/metrics"
	"example.com/backstage/services/telemetry/internal/models"
	"example.com/backstage/services/telemetry/internal/repository"

	"github.com/sirupsen/logrus"
)

// CacheObserver receives the result of every cache lookup
type CacheObserver interface {
	ObserveCache(result string)
}

type noopObserver struct{}

func (noopObserver) ObserveCache(string) {}

// Directory resolves device identities against the device table with a
// read-through cache in front of it. A failing cache is never fatal: lookups
// fall back to the database.
type Directory struct {
	repo     repository.DeviceRepository
	cache    cache.DeviceCache
	log      *logrus.Logger
	observer CacheObserver
}

// Config holds the dependencies of a Directory
type Config struct {
	Repository repository.DeviceRepository
	Cache      cache.DeviceCache
	Logger     *logrus.Logger
	Observer   CacheObserver
}

// New creates a device directory
func New(cfg Config) (*Directory, error) {
	if cfg.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	return &Directory{
		repo:     cfg.Repository,
		cache:    cfg.Cache,
		log:      cfg.Logger,
		observer: cfg.Observer,
	}, nil
}

// Lookup returns the device registered under deviceID. It returns
// ingest.ErrDeviceNotFound when no such device exists; any other error means
// the directory could not answer.
func (d *Directory) Lookup(ctx context.Context, deviceID string) (*models.Device, error) {
	if d.cache != nil {
		device, err := d.cache.GetDevice(ctx, deviceID)
		switch {
		case err == nil:
			d.observer.ObserveCache(metrics.CacheHit)
			return device, nil
		case errors.Is(err, cache.ErrMiss):
			d.observer.ObserveCache(metrics.CacheMiss)
		default:
			d.observer.ObserveCache(metrics.CacheError)
			d.log.WithError(err).WithField("device_id", deviceID).Warn("Device cache lookup failed, falling back to database")
		}
	}

	device, err := d.repo.FindByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ingest.ErrDeviceNotFound
		}
		return nil, err
	}

	if d.cache != nil {
		if err := d.cache.SetDevice(ctx, device); err != nil {
			d.log.WithError(err).WithField("device_id", deviceID).Warn("Failed to cache device")
		}
	}
	return device, nil
}

// Exists reports whether a device is registered under deviceID. It always
// reads the database so registration never trusts a stale cache entry.
func (d *Directory) Exists(ctx context.Context, deviceID string) (bool, error) {
	exists, err := d.repo.ExistsByDeviceID(ctx, deviceID)
	if err != nil {
		return false, fmt.Errorf("failed to check device %s: %w", deviceID, err)
	}
	return exists, nil
}

// Invalidate drops the cached entry for deviceID
func (d *Directory) Invalidate(ctx context.Context, deviceID string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.DeleteDevice(ctx, deviceID); err != nil {
		d.log.WithError(err).WithField("device_id", deviceID).Warn("Failed to invalidate cached device")
	}
}
