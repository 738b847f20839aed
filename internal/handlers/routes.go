package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink-relay/internal/ratelimit"
)

// RegisterRoutes registers the public API. Rate limit scopes are attached as
// operation metadata.
func RegisterRoutes(api huma.API, links *LinkHandler, config *ConfigHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "shorten",
		Method:      http.MethodPut,
		Path:        "/v1/shorten",
		Summary:     "Shorten a URL",
		Description: "Returns 201 with a new short URL, or 302 with the existing one.",
		Tags:        []string{"Links"},
		Metadata:    map[string]any{ratelimit.MetadataKey: ratelimit.ScopeShorten},
	}, links.Shorten)

	huma.Register(api, huma.Operation{
		OperationID: "redirect",
		Method:      http.MethodGet,
		Path:        "/{token}",
		Summary:     "Proxy the long URL",
		Description: "Fetches the long URL and returns its status and body, retrying on failure.",
		Tags:        []string{"Links"},
		Metadata:    map[string]any{ratelimit.MetadataKey: ratelimit.ScopeRedirect},
	}, links.Redirect)

	huma.Register(api, huma.Operation{
		OperationID:   "delete",
		Method:        http.MethodDelete,
		Path:          "/{token}",
		Summary:       "Delete a short URL",
		DefaultStatus: http.StatusAccepted,
		Tags:          []string{"Links"},
		Metadata:      map[string]any{ratelimit.MetadataKey: ratelimit.ScopeShorten},
	}, links.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "apply-config",
		Method:      http.MethodPost,
		Path:        "/config",
		Summary:     "Update runtime settings",
		Description: "Always answers 200; a rejected update is reported in the body.",
		Tags:        []string{"Config"},
		Metadata:    map[string]any{ratelimit.MetadataKey: ratelimit.ScopeConfig},

		// The body is decoded by the handler so malformed input still gets
		// the failure body instead of a 422.
		SkipValidateBody: true,
	}, config.Apply)

	huma.Register(api, huma.Operation{
		OperationID: "list-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "List runtime settings",
		Tags:        []string{"Config"},
	}, config.List)
}

// RegisterInternalRoutes registers the retry API served on the internal listener.
func RegisterInternalRoutes(api huma.API, retries *RetryHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "retry",
		Method:      http.MethodGet,
		Path:        "/v1/retry/{id}",
		Summary:     "Retry a failed fetch",
		Tags:        []string{"Retry"},
	}, retries.Retry)
}
