package eauth

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/layer-3/eauth/internal/eth"
)

// HTTPClient talks to the service over HTTP, keeping the session cookie in a jar
type HTTPClient struct {
	baseURL *url.URL
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// Option configures an HTTPClient
type Option func(*HTTPClient)

// WithTransport sets the round tripper used for requests
func WithTransport(rt http.RoundTripper) Option {
	return func(c *HTTPClient) {
		c.http.Transport = rt
	}
}

// NewHTTPClient creates a client for the service at baseURL
func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &HTTPClient{
		baseURL: u,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Challenge requests the typed data to sign for address
func (c *HTTPClient) Challenge(ctx context.Context, address string) (apitypes.TypedData, error) {
	var td apitypes.TypedData
	resp, err := c.do(ctx, http.MethodGet, "/auth/"+url.PathEscape(address), nil, "")
	if err != nil {
		return td, err
	}
	defer resp.Body.Close()

	if err := expect(resp, http.StatusOK); err != nil {
		return td, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&td); err != nil {
		return td, fmt.Errorf("decoding challenge: %w", err)
	}
	return td, nil
}

// Login submits signature for the challenge identified by nonce
func (c *HTTPClient) Login(ctx context.Context, nonce, signature string) (LoginResponse, error) {
	var out LoginResponse
	resp, err := c.do(ctx, http.MethodPost, "/auth/"+url.PathEscape(nonce)+"/"+url.PathEscape(signature), nil, "")
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	if err := expect(resp, http.StatusOK); err != nil {
		return out, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decoding login response: %w", err)
	}
	return out, nil
}

// SignIn runs the whole challenge/response exchange with key
func (c *HTTPClient) SignIn(ctx context.Context, key *ecdsa.PrivateKey) (LoginResponse, error) {
	td, err := c.Challenge(ctx, crypto.PubkeyToAddress(key.PublicKey).Hex())
	if err != nil {
		return LoginResponse{}, err
	}
	nonce, ok := td.Message["nonce"].(string)
	if !ok {
		return LoginResponse{}, fmt.Errorf("challenge carries no nonce")
	}
	signature, err := eth.SignTypedData(td, key)
	if err != nil {
		return LoginResponse{}, err
	}
	return c.Login(ctx, nonce, signature)
}

// User returns the address of the signed-in session
func (c *HTTPClient) User(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/user", nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusFound {
		return "", ErrUnauthenticated
	}
	if err := expect(resp, http.StatusOK); err != nil {
		return "", err
	}

	var body LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding user response: %w", err)
	}
	if !body.Success {
		return "", ErrUnauthenticated
	}
	return body.Message, nil
}

// Logout ends the session
func (c *HTTPClient) Logout(ctx context.Context, redirect string) error {
	var body io.Reader
	contentType := ""
	if redirect != "" {
		body = strings.NewReader(url.Values{"url": {redirect}}.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/logout", body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		// The gate answers 200 with a failure body for expired tokens
		return ErrUnauthenticated
	}
	return expect(resp, http.StatusFound)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func expect(resp *http.Response, code int) error {
	switch {
	case resp.StatusCode == code:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return ErrRejected
	default:
		return &StatusError{Method: resp.Request.Method, Path: resp.Request.URL.Path, Code: resp.StatusCode}
	}
}
