package gateway

import (
	"context"
	"net/http"
)

// forwardedHeaders are copied from the inbound request. Identity headers never are: the
// only identity a backend sees is the one passed to ForwardRequest.
var forwardedHeaders = []string{
	"Content-Type",
	"Accept",
	"X-Request-Id",
}

type ServiceProxy struct {
	baseURL string
	client  *http.Client
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		baseURL: baseURL,
		client:  client,
	}
}

// ForwardRequest replays r against path on the backend. A nil identity forwards the
// request anonymously.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string, identity *Identity) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	for _, name := range forwardedHeaders {
		if value := r.Header.Get(name); value != "" {
			req.Header.Set(name, value)
		}
	}
	if identity != nil {
		identity.apply(req.Header)
	}

	return p.client.Do(req)
}
