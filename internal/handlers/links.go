package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink-relay/internal/analytics"
	"github.com/serroba/shortlink-relay/internal/messaging"
	"github.com/serroba/shortlink-relay/internal/shortener"
	"go.uber.org/zap"
)

const (
	resultGenerated = "generated url"
	resultExists    = "url is already exists"

	msgUnknownToken = "A short url was expired or unknown"
)

// LinkHandler serves shorten, redirect and delete.
type LinkHandler struct {
	links           *shortener.Service
	baseURL         string
	publishCreated  messaging.Publish[analytics.LinkCreatedEvent]
	publishResolved messaging.Publish[analytics.LinkResolvedEvent]
	logger          *zap.Logger
}

func NewLinkHandler(
	links *shortener.Service,
	baseURL string,
	publishCreated messaging.Publish[analytics.LinkCreatedEvent],
	publishResolved messaging.Publish[analytics.LinkResolvedEvent],
	logger *zap.Logger,
) *LinkHandler {
	return &LinkHandler{
		links:           links,
		baseURL:         strings.TrimRight(baseURL, "/"),
		publishCreated:  publishCreated,
		publishResolved: publishResolved,
		logger:          logger,
	}
}

func (h *LinkHandler) Shorten(ctx context.Context, req *ShortenRequest) (*ShortenResponse, error) {
	result, err := h.links.Shorten(ctx, parseLongURL(req.RawBody))
	if err != nil {
		if errors.Is(err, shortener.ErrInvalidURL) {
			return nil, huma.Error400BadRequest("body must be an absolute http or https url")
		}

		h.logger.Error("shorten failed", zap.Error(err))

		return nil, huma.Error500InternalServerError("failed to save url")
	}

	shortURL := h.baseURL + "/" + string(result.Token)

	resp := &ShortenResponse{
		Status:   http.StatusFound,
		Location: shortURL,
		Body: ShortenBody{
			Result:   resultExists,
			Token:    string(result.Token),
			ShortURL: shortURL,
			LongURL:  result.LongURL,
		},
	}

	if result.Created {
		resp.Status = http.StatusCreated
		resp.Body.Result = resultGenerated

		meta := RequestMetaFromContext(ctx)
		event := &analytics.LinkCreatedEvent{
			Token:     string(result.Token),
			LongURL:   result.LongURL,
			CreatedAt: time.Now(),
			RequestID: meta.RequestID,
			ClientIP:  meta.ClientIP,
			UserAgent: meta.UserAgent,
		}

		if err := h.publishCreated(ctx, event); err != nil {
			h.logger.Error("failed to publish link created event",
				zap.String("token", event.Token),
				zap.Error(err),
			)
		}
	}

	return resp, nil
}

func (h *LinkHandler) Redirect(ctx context.Context, req *RedirectRequest) (*RedirectResponse, error) {
	header := http.Header{}
	setIfPresent(header, "Accept", req.Accept)
	setIfPresent(header, "Accept-Language", req.AcceptLanguage)
	setIfPresent(header, "User-Agent", req.UserAgent)

	result, err := h.links.Redirect(ctx, shortener.Token(req.Token), header)
	if err != nil {
		if errors.Is(err, shortener.ErrNotFound) {
			return nil, huma.Error404NotFound(msgUnknownToken)
		}

		h.logger.Error("redirect failed", zap.String("token", req.Token), zap.Error(err))

		return nil, huma.Error500InternalServerError("failed to resolve url")
	}

	meta := RequestMetaFromContext(ctx)
	event := &analytics.LinkResolvedEvent{
		Token:      string(result.Token),
		LongURL:    result.LongURL,
		StatusCode: result.StatusCode,
		Attempts:   result.Attempts,
		Retried:    result.Retried,
		Success:    result.Success,
		ResolvedAt: time.Now(),
		RequestID:  meta.RequestID,
		ClientIP:   meta.ClientIP,
		Referrer:   meta.Referrer,
	}

	if err := h.publishResolved(ctx, event); err != nil {
		h.logger.Error("failed to publish link resolved event",
			zap.String("token", event.Token),
			zap.Error(err),
		)
	}

	resp := &RedirectResponse{
		Status:      result.StatusCode,
		ContentType: result.ContentType,
		Body:        result.Body,
	}

	if resp.ContentType == "" {
		resp.ContentType = "application/octet-stream"
	}

	if result.Retried {
		resp.RetryAttempts = strconv.Itoa(result.Attempts)
	}

	return resp, nil
}

func (h *LinkHandler) Delete(ctx context.Context, req *TokenRequest) (*struct{}, error) {
	if err := h.links.Delete(ctx, shortener.Token(req.Token)); err != nil {
		h.logger.Error("delete failed", zap.String("token", req.Token), zap.Error(err))

		return nil, huma.Error500InternalServerError("failed to delete url")
	}

	return nil, nil
}

// parseLongURL accepts a bare URL or a JSON string literal.
func parseLongURL(body []byte) string {
	raw := strings.TrimSpace(string(body))

	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return s
		}
	}

	return raw
}

func setIfPresent(h http.Header, name, value string) {
	if value != "" {
		h.Set(name, value)
	}
}
