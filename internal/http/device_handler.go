package httpapi

import (
	"net/http"

	"device-management/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DeviceHandler 设备 Handler（挂载在 /sensors）
type DeviceHandler struct {
	deviceService service.DeviceService
	logger        *zap.Logger
}

// NewDeviceHandler 创建设备 Handler
func NewDeviceHandler(deviceService service.DeviceService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		logger:        logger,
	}
}

type createDeviceBody struct {
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	Model           string  `json:"model"`
	FirmwareVersion *string `json:"firmware_version"`
	Status          *string `json:"status"`
	OwnerID         *string `json:"owner_id"`
	ActivationCode  *string `json:"activation_code"`
}

type updateDeviceBody struct {
	Name            *string `json:"name"`
	Model           *string `json:"model"`
	FirmwareVersion *string `json:"firmware_version"`
	Status          *string `json:"status"`
}

type activateDeviceBody struct {
	ActivationCode string  `json:"activation_code"`
	OwnerID        *string `json:"owner_id"`
}

// ListDevices GET /sensors/
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.deviceService.ListDevices(r.Context())
	if err != nil {
		writeError(w, r, h.logger, "ListDevices", err)
		return
	}
	items := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		items = append(items, d.ToJSON())
	}
	writeJSON(w, http.StatusOK, Ok(items))
}

// GetDevice GET /sensors/{id}
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.deviceService.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, "GetDevice", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(device.ToJSON()))
}

// CreateDevice POST /sensors/
func (h *DeviceHandler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var body createDeviceBody
	if err := readBodyJSON(w, r, maxBodyBytes, &body); err != nil {
		writeBodyError(w, err)
		return
	}

	device, err := h.deviceService.CreateDevice(r.Context(), service.CreateDeviceRequest{
		Name:            body.Name,
		Type:            body.Type,
		Model:           body.Model,
		FirmwareVersion: body.FirmwareVersion,
		Status:          body.Status,
		OwnerID:         body.OwnerID,
		ActivationCode:  body.ActivationCode,
	})
	if err != nil {
		writeError(w, r, h.logger, "CreateDevice", err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(device.ToJSON()))
}

// UpdateDevice PUT /sensors/{id}，只更新请求体中出现的字段
func (h *DeviceHandler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	var body updateDeviceBody
	if err := readBodyJSON(w, r, maxBodyBytes, &body); err != nil {
		writeBodyError(w, err)
		return
	}

	device, err := h.deviceService.UpdateDevice(r.Context(), service.UpdateDeviceRequest{
		DeviceID:        chi.URLParam(r, "id"),
		Name:            body.Name,
		Model:           body.Model,
		FirmwareVersion: body.FirmwareVersion,
		Status:          body.Status,
	})
	if err != nil {
		writeError(w, r, h.logger, "UpdateDevice", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(device.ToJSON()))
}

// ActivateDevice POST /sensors/activate
func (h *DeviceHandler) ActivateDevice(w http.ResponseWriter, r *http.Request) {
	var body activateDeviceBody
	if err := readBodyJSON(w, r, maxBodyBytes, &body); err != nil {
		writeBodyError(w, err)
		return
	}

	device, err := h.deviceService.ActivateDevice(r.Context(), service.ActivateDeviceRequest{
		ActivationCode: body.ActivationCode,
		OwnerID:        body.OwnerID,
	})
	if err != nil {
		writeError(w, r, h.logger, "ActivateDevice", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(device.ToJSON()))
}

// DeleteDevice DELETE /sensors/{id}
func (h *DeviceHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.deviceService.DeleteDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, "DeleteDevice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
