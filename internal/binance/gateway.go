package binance

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var ErrEmptyAPIKey = errors.New("api key is empty")

// Credentials carries one user's decrypted key pair for the lifetime of a
// single request; it is never stored.
type Credentials struct {
	apiKey string
	signer *Signer
}

func NewCredentials(apiKey, secretKey string) (Credentials, error) {
	if apiKey == "" {
		return Credentials{}, ErrEmptyAPIKey
	}
	signer, err := NewSigner(secretKey)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{apiKey: apiKey, signer: signer}, nil
}

// Gateway executes REST calls against the futures API. It signs and
// transports; interpreting responses is the caller's job.
type Gateway struct {
	httpClient *http.Client
	baseURL    string
	clock      *ServerClock
	recvWindow int64
}

type GatewayOption func(*Gateway)

func WithHTTPClient(client *http.Client) GatewayOption {
	return func(g *Gateway) { g.httpClient = client }
}

func WithBaseURL(baseURL string) GatewayOption {
	return func(g *Gateway) { g.baseURL = baseURL }
}

func WithTestnet(useTestnet bool) GatewayOption {
	return func(g *Gateway) {
		if useTestnet {
			g.baseURL = testnetBaseURL
		} else {
			g.baseURL = defaultBaseURL
		}
	}
}

func WithRecvWindow(ms int64) GatewayOption {
	return func(g *Gateway) {
		if ms > 0 {
			g.recvWindow = ms
		}
	}
}

func NewGateway(clock *ServerClock, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultBaseURL,
		clock:      clock,
		recvWindow: 5000,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) BaseURL() string { return g.baseURL }

// Public performs an unsigned call (server time, instrument metadata, ticker).
func (g *Gateway) Public(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	return g.do(ctx, method, endpoint, Canonical(params), "")
}

// Signed stamps params with the exchange clock, appends the signature over
// the exact query string transmitted, and sends the API key header. A failed
// clock sync aborts the call before anything reaches the wire.
func (g *Gateway) Signed(ctx context.Context, method, endpoint string, params url.Values, creds Credentials) ([]byte, error) {
	if creds.signer == nil {
		return nil, ErrEmptySecret
	}

	ts, err := g.clock.Now(ctx)
	if err != nil {
		return nil, err
	}

	signed := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			signed.Add(k, v)
		}
	}
	signed.Set("timestamp", strconv.FormatInt(ts, 10))
	signed.Set("recvWindow", strconv.FormatInt(g.recvWindow, 10))

	canonical := Canonical(signed)
	rawQuery := canonical + "&signature=" + creds.signer.Sign(canonical)

	return g.do(ctx, method, endpoint, rawQuery, creds.apiKey)
}

func (g *Gateway) do(ctx context.Context, method, endpoint, rawQuery, apiKey string) ([]byte, error) {
	reqURL, err := url.Parse(g.baseURL + endpoint)
	if err != nil {
		return nil, &TransportError{Op: endpoint, Err: err}
	}
	reqURL.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), nil)
	if err != nil {
		return nil, &TransportError{Op: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(apiKeyHeader, apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: endpoint, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 500:
		return nil, &TransportError{Op: endpoint, Err: errors.New(http.StatusText(resp.StatusCode))}
	default:
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		var parsed struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil {
			apiErr.Code = parsed.Code
			apiErr.Msg = parsed.Msg
		} else {
			apiErr.Msg = string(body)
		}
		return nil, apiErr
	}
}
