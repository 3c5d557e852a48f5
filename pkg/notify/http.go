package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// HTTPConfig configures the mail relay client
type HTTPConfig struct {
	URL     string
	Timeout time.Duration

	// Client credentials are optional. When TokenURL is set every request
	// carries a bearer token from the relay's authorization server.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// HTTPNotifier posts messages as JSON to a mail relay
type HTTPNotifier struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPNotifier creates a relay client. Outbound requests are traced with otelhttp.
func NewHTTPNotifier(cfg HTTPConfig) *HTTPNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}

	if cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		base := client
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = cc.Client(ctx)
		client.Timeout = timeout
	}

	return &HTTPNotifier{url: cfg.URL, client: client, timeout: timeout}
}

// Send posts the message and treats any non-2xx answer as a failure
func (n *HTTPNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "entitle-notifier/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach mail relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("mail relay returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
