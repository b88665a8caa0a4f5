package recallsdk

import (
	"time"

	"github.com/imroc/req/v3"

	"github.com/deeprecall/deeprecall/internal/version"
)

const (
	headerUserAgent = "User-Agent"
)

// SDK is the typed client for the DeepRecall sync server.
type SDK struct {
	client  *req.Client
	baseURL string

	Sync   *SyncAPI
	Device *DeviceAPI
}

// Option configures the SDK client.
type Option func(*req.Client)

// WithAuthToken sets the bearer token used on every request.
func WithAuthToken(token string) Option {
	return func(c *req.Client) {
		c.SetCommonBearerAuthToken(token)
	}
}

// WithDevIdentity sets the plain identity headers the server trusts when
// auth is disabled. Local development only.
func WithDevIdentity(user, device string) Option {
	return func(c *req.Client) {
		c.SetCommonHeader("X-DeepRecall-User", user)
		c.SetCommonHeader("X-DeepRecall-Device", device)
	}
}

// New creates a new SDK client.
func New(baseURL string, opts ...Option) (*SDK, error) {
	if baseURL == "" {
		return nil, ErrNoServerURL
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1 * time.Second).
		SetUserAgent("DeepRecall/" + version.Version).
		SetCommonHeader(headerUserAgent, "DeepRecall/"+version.Version).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		SetCommonErrorResult(&APIError{})

	for _, opt := range opts {
		opt(client)
	}

	return &SDK{
		client:  client,
		baseURL: baseURL,
		Sync:    newSyncAPI(client),
		Device:  newDeviceAPI(client),
	}, nil
}

// Close terminates idle connections.
func (s *SDK) Close() {
	s.client.CloseIdleConnections()
}
