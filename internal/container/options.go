package container

import (
	"fmt"
	"time"

	"github.com/serroba/shortlink-relay/internal/ratelimit"
)

// Store kinds accepted by --store.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Options are the process flags. humacli also reads them from SERVICE_*
// environment variables.
type Options struct {
	Port         int    `default:"8888" help:"Port of the public API"                        short:"p"`
	InternalPort int    `default:"8089" help:"Port of the internal retry API, 0 to disable"`
	BaseURL      string `default:""     help:"Base of returned short URLs (default http://localhost:<port>)"`
	TokenLength  int    `default:"15"   help:"Minimum length of generated tokens"`
	NodeID       int    `default:"-1"   help:"Snowflake node id (0-1023); negative uses a local counter"`

	Store       string `default:"memory" enum:"memory,postgres" help:"Storage engine"`
	DatabaseURL string `default:""       help:"PostgreSQL primary connection string"`
	ReplicaURL  string `default:""       help:"PostgreSQL replica connection string for reads"`

	RedisAddr       string `default:"localhost:6379" help:"Redis address, empty disables Redis" short:"r"`
	CacheTTLSeconds int    `default:"300"            help:"Lifetime of cached token lookups, 0 disables the cache"`

	RetryURL         string `default:""     help:"Base URL of a remote retry API; empty retries in-process"`
	AttemptTimeoutMS int    `default:"1000" help:"Timeout of a single upstream fetch in milliseconds"`
	RetryWaitMinMS   int    `default:"100"  help:"Minimum backoff between upstream attempts in milliseconds"`
	RetryWaitMaxMS   int    `default:"1000" help:"Maximum backoff between upstream attempts in milliseconds"`

	InstanceID             string `default:""   help:"Instance id used to skip our own settings broadcasts"`
	ShutdownTimeoutSeconds int    `default:"30" help:"Grace period for in-flight requests on shutdown"`

	LogFormat string `default:"console" enum:"console,json" help:"Log encoding"`
	LogLevel  string `default:"info"    help:"Minimum log level"`

	RateLimitWindowSeconds int `default:"60"  help:"Rate limit window in seconds"`
	RateLimitShorten       int `default:"60"  help:"Shorten and delete requests per window and client, 0 disables"`
	RateLimitRedirect      int `default:"600" help:"Redirects per window and client, 0 disables"`
	RateLimitConfig        int `default:"10"  help:"Config updates per window and client, 0 disables"`
}

func (o *Options) publicBaseURL() string {
	if o.BaseURL != "" {
		return o.BaseURL
	}

	return fmt.Sprintf("http://localhost:%d", o.Port)
}

func (o *Options) attemptTimeout() time.Duration {
	return time.Duration(o.AttemptTimeoutMS) * time.Millisecond
}

func (o *Options) cacheTTL() time.Duration {
	return time.Duration(o.CacheTTLSeconds) * time.Second
}

// ShutdownTimeout bounds the graceful stop of the HTTP listeners.
func (o *Options) ShutdownTimeout() time.Duration {
	return time.Duration(o.ShutdownTimeoutSeconds) * time.Second
}

func (o *Options) rateLimitPolicy() ratelimit.Policy {
	window := time.Duration(o.RateLimitWindowSeconds) * time.Second

	return ratelimit.Policy{
		ratelimit.ScopeShorten:  {Max: int64(o.RateLimitShorten), Window: window},
		ratelimit.ScopeRedirect: {Max: int64(o.RateLimitRedirect), Window: window},
		ratelimit.ScopeConfig:   {Max: int64(o.RateLimitConfig), Window: window},
	}
}
