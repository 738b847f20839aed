package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/serroba/shortlink-relay/internal/settings"
	"github.com/serroba/shortlink-relay/internal/shortener"
	"go.uber.org/zap"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// ConfigHandler applies and lists runtime settings.
type ConfigHandler struct {
	settings   *settings.Service
	propagator *settings.Propagator
	logger     *zap.Logger
}

func NewConfigHandler(svc *settings.Service, propagator *settings.Propagator, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{settings: svc, propagator: propagator, logger: logger}
}

// Apply never fails at the HTTP level; the outcome is in the body.
func (h *ConfigHandler) Apply(ctx context.Context, req *ConfigRequest) (*ConfigResponse, error) {
	resp := &ConfigResponse{Body: ConfigBody{Result: resultSuccess}}

	var values map[string]string
	if err := json.Unmarshal(req.RawBody, &values); err != nil {
		resp.Body.Result = resultFailure
		resp.Body.Error = "body must be a flat JSON object of string values: " + err.Error()

		return resp, nil
	}

	if _, err := h.settings.Apply(ctx, values); err != nil {
		if shortener.IsValidationError(err) {
			h.logger.Warn("config update rejected", zap.Error(err))
		} else {
			h.logger.Error("config update failed", zap.Error(err))
		}

		resp.Body.Result = resultFailure
		resp.Body.Error = err.Error()
	}

	return resp, nil
}

func (h *ConfigHandler) List(_ context.Context, _ *struct{}) (*SettingsResponse, error) {
	snap := h.propagator.Current()

	resp := &SettingsResponse{}
	resp.Body.UpdatedAt = snap.UpdatedAt.UTC().Format(time.RFC3339Nano)
	resp.Body.Values = snap.Values()

	return resp, nil
}
