package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink-relay/internal/retry"
	"github.com/serroba/shortlink-relay/internal/shortener"
	"go.uber.org/zap"
)

// RetryHandler exposes the local retry service on the internal listener.
type RetryHandler struct {
	retrier shortener.Retrier
	logger  *zap.Logger
}

func NewRetryHandler(retrier shortener.Retrier, logger *zap.Logger) *RetryHandler {
	return &RetryHandler{retrier: retrier, logger: logger}
}

func (h *RetryHandler) Retry(ctx context.Context, req *RetryRequest) (*RetryResponse, error) {
	outcome, err := h.retrier.Retry(ctx, req.ID)
	if err != nil {
		if errors.Is(err, shortener.ErrNotFound) {
			return nil, huma.Error404NotFound("retry record " + strconv.FormatInt(req.ID, 10) + " is undefined")
		}

		h.logger.Error("retry failed", zap.Int64("retry_id", req.ID), zap.Error(err))

		return nil, huma.Error500InternalServerError("failed to retry")
	}

	resp := &RetryResponse{
		Status:      outcome.StatusCode,
		ContentType: outcome.ContentType,
		Result:      retry.ResultSuccess,
		Attempts:    strconv.Itoa(outcome.Attempts),
		Body:        outcome.Body,
	}

	if !outcome.Success {
		resp.Result = retry.ResultFailure
		resp.Message = outcome.Message
		resp.ContentType = "text/plain; charset=utf-8"
		resp.Body = []byte(outcome.Message)
	}

	if resp.ContentType == "" {
		resp.ContentType = "application/octet-stream"
	}

	return resp, nil
}
