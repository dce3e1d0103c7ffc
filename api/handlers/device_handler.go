package handlers

import (
	"errors"
	"net/http"

	"example.com/backstage/services/telemetry/internal/models"
	"example.com/backstage/services/telemetry/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DeviceHandler handles device management requests
type DeviceHandler struct {
	service service.DeviceService
	log     *logrus.Logger
}

// NewDeviceHandler creates a new DeviceHandler instance
func NewDeviceHandler(svc service.DeviceService, log *logrus.Logger) *DeviceHandler {
	return &DeviceHandler{
		service: svc,
		log:     log,
	}
}

type registerDeviceRequest struct {
	DeviceID     string   `json:"device_id" validate:"required,max=50,device_id"`
	Name         string   `json:"name" validate:"required,max=100"`
	Status       string   `json:"status" validate:"omitempty,oneof=online offline unknown"`
	Capacity     *float64 `json:"capacity" validate:"omitempty,gte=0"`
	Location     string   `json:"location" validate:"max=255"`
	Manufacturer string   `json:"manufacturer" validate:"max=255"`
	Model        string   `json:"model" validate:"max=255"`
	Tilt         *float64 `json:"tilt" validate:"omitempty,gte=0,lte=90"`
	Azimuth      *float64 `json:"azimuth" validate:"omitempty,gte=0,lt=360"`
}

type updateDeviceRequest struct {
	DeviceID     *string  `json:"device_id"`
	Name         *string  `json:"name" validate:"omitempty,min=1,max=100"`
	Status       *string  `json:"status" validate:"omitempty,oneof=online offline unknown"`
	Capacity     *float64 `json:"capacity" validate:"omitempty,gte=0"`
	Location     *string  `json:"location" validate:"omitempty,max=255"`
	Manufacturer *string  `json:"manufacturer" validate:"omitempty,max=255"`
	Model        *string  `json:"model" validate:"omitempty,max=255"`
	Tilt         *float64 `json:"tilt" validate:"omitempty,gte=0,lte=90"`
	Azimuth      *float64 `json:"azimuth" validate:"omitempty,gte=0,lt=360"`

	// APIKey is accepted only to reject it
	APIKey *string `json:"api_key"`
}

// RegisterDevice handles POST /api/devices. The response is the only place
// the device credential is ever returned.
func (h *DeviceHandler) RegisterDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.WithError(err).Warn("Invalid device format")
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Invalid device format", nil))
		return
	}
	if failures := validateStruct(&req); failures != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Device failed validation", failures))
		return
	}

	device := &models.Device{
		DeviceID:     req.DeviceID,
		Name:         req.Name,
		Status:       models.DeviceStatus(req.Status),
		Capacity:     req.Capacity,
		Location:     req.Location,
		Manufacturer: req.Manufacturer,
		DeviceModel:  req.Model,
		Tilt:         req.Tilt,
		Azimuth:      req.Azimuth,
	}

	key, err := h.service.RegisterDevice(c.Request.Context(), device)
	if err != nil {
		h.writeServiceError(c, err, "Failed to register device")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":  "created",
		"device":  device,
		"api_key": key,
	})
}

// GetDevice handles GET /api/devices/:device_id
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	device, err := h.service.GetDevice(c.Request.Context(), c.Param("device_id"))
	if err != nil {
		h.writeServiceError(c, err, "Failed to get device")
		return
	}
	c.JSON(http.StatusOK, device)
}

// ListDevices handles GET /api/devices
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices, err := h.service.ListDevices(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err, "Failed to list devices")
		return
	}
	if devices == nil {
		devices = []*models.Device{}
	}
	c.JSON(http.StatusOK, devices)
}

// UpdateDevice handles PUT /api/devices/:device_id. The identity and the
// credential cannot be changed.
func (h *DeviceHandler) UpdateDevice(c *gin.Context) {
	deviceID := c.Param("device_id")

	var req updateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.WithError(err).Warn("Invalid device format")
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Invalid device format", nil))
		return
	}
	if req.DeviceID != nil && *req.DeviceID != deviceID {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "device_id cannot be changed",
			[]fieldError{{Field: "device_id", Reason: "immutable"}}))
		return
	}
	if req.APIKey != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "api_key cannot be changed",
			[]fieldError{{Field: "api_key", Reason: "immutable"}}))
		return
	}
	if failures := validateStruct(&req); failures != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Device failed validation", failures))
		return
	}

	update := service.DeviceUpdate{
		Name:         req.Name,
		Capacity:     req.Capacity,
		Location:     req.Location,
		Manufacturer: req.Manufacturer,
		Model:        req.Model,
		Tilt:         req.Tilt,
		Azimuth:      req.Azimuth,
	}
	if req.Status != nil {
		status := models.DeviceStatus(*req.Status)
		update.Status = &status
	}

	device, err := h.service.UpdateDevice(c.Request.Context(), deviceID, update)
	if err != nil {
		h.writeServiceError(c, err, "Failed to update device")
		return
	}
	c.JSON(http.StatusOK, device)
}

// DeleteDevice handles DELETE /api/devices/:device_id
func (h *DeviceHandler) DeleteDevice(c *gin.Context) {
	if err := h.service.DeleteDevice(c.Request.Context(), c.Param("device_id")); err != nil {
		h.writeServiceError(c, err, "Failed to delete device")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DeviceHandler) writeServiceError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, service.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, errorBody("not_found", "Device not found", nil))
	case errors.Is(err, service.ErrDeviceExists):
		c.JSON(http.StatusConflict, errorBody("conflict", "Device already exists", nil))
	case errors.Is(err, service.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Invalid device status", nil))
	default:
		h.log.WithError(err).Error(message)
		c.JSON(http.StatusInternalServerError, errorBody("internal_error", message, nil))
	}
}
