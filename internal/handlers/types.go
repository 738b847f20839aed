package handlers

// ShortenRequest carries the long URL as the raw request body. A JSON string
// literal is accepted too.
type ShortenRequest struct {
	RawBody []byte `contentType:"text/plain"`
}

// ShortenBody is returned for both new and existing mappings.
type ShortenBody struct {
	Result   string `doc:"generated url or url is already exists" example:"generated url"                     json:"result"`
	Token    string `doc:"The short token"                        example:"3dRZnXj2EsQvL1k"                   json:"token"`
	ShortURL string `doc:"The full short URL"                     example:"http://localhost:8888/3dRZnXj2EsQvL1k" json:"shortUrl"`
	LongURL  string `doc:"The long URL"                           example:"https://example.com/a"              json:"longUrl"`
}

// ShortenResponse is 201 for a new mapping and 302 for an existing one.
type ShortenResponse struct {
	Status   int
	Location string `header:"Location"`
	Body     ShortenBody
}

// TokenRequest addresses a mapping by its token.
type TokenRequest struct {
	Token string `doc:"The short token" example:"3dRZnXj2EsQvL1k" path:"token"`
}

// RedirectRequest also captures the client headers forwarded upstream.
type RedirectRequest struct {
	TokenRequest

	Accept         string `header:"Accept"`
	AcceptLanguage string `header:"Accept-Language"`
	UserAgent      string `header:"User-Agent"`
}

// RedirectResponse proxies the upstream status, content type and body.
type RedirectResponse struct {
	Status        int
	ContentType   string `header:"Content-Type"`
	RetryAttempts string `header:"X-Retry-Attempts"`
	Body          []byte
}

// ConfigRequest is a flat JSON object of setting names to string values.
type ConfigRequest struct {
	RawBody []byte `contentType:"application/json"`
}

// ConfigBody is always returned with status 200.
type ConfigBody struct {
	Result string `enum:"success,failure" json:"result"`
	Error  string `json:"error"`
}

type ConfigResponse struct {
	Body ConfigBody
}

// SettingsResponse lists the settings currently in effect.
type SettingsResponse struct {
	Body struct {
		UpdatedAt string            `json:"updatedAt"`
		Values    map[string]string `json:"values"`
	}
}

// RetryRequest names a stored retry record.
type RetryRequest struct {
	ID int64 `doc:"Retry record id" path:"id"`
}

// RetryResponse proxies the last upstream response of a bounded retry.
type RetryResponse struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Result      string `header:"X-Retry-Result"`
	Attempts    string `header:"X-Retry-Attempts"`
	Message     string `header:"X-Retry-Message"`
	Body        []byte
}
