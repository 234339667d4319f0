package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/cryptexdrive/cryptexdrive/internal/common"
	"github.com/cryptexdrive/cryptexdrive/internal/logging"
)

// HTTPClient implements Client over plain HTTP JSON.
//
// A cookie jar is mandatory: the backend keys the send-otp endpoint off the
// session cookie established by the password login, so the same jar must be
// reused for the whole authentication sequence.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
	log     logging.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, log logging.Logger) (*HTTPClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout, Jar: jar},
		log:     log,
	}, nil
}

// errorBody is the failure shape common to every endpoint.
type errorBody struct {
	Error string `json:"error"`
}

func (c *HTTPClient) do(ctx context.Context, method, path, token, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		// Raw token, no "Bearer" prefix: the backend compares the header
		// value as-is.
		req.Header.Set(common.AuthorizationHeaderName, token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Debug(ctx, "transport failure", "method", method, "path", path, "err", err)
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	return resp, nil
}

// postJSON performs a JSON POST and decodes a 2xx body into out (out may be
// nil when the body does not matter).
func (c *HTTPClient) postJSON(ctx context.Context, path, token string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	resp, err := c.do(ctx, http.MethodPost, path, token, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.decode(resp, out, token != "")
}

// decode finishes a response: 2xx bodies are unmarshalled into out, explicit
// rejections on token-bearing calls become ErrUnauthorized, everything else
// becomes *ServerError with the verbatim message.
func (c *HTTPClient) decode(resp *http.Response, out any, secured bool) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &ServerError{StatusCode: resp.StatusCode, Message: "malformed response body"}
		}
		return nil
	}

	if secured && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return ErrUnauthorized
	}

	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	return &ServerError{StatusCode: resp.StatusCode, Message: eb.Error}
}

func (c *HTTPClient) Register(ctx context.Context, username, password, email string) error {
	in := map[string]string{"username": username, "password": password, "email": email}
	return c.postJSON(ctx, "/register", "", in, nil)
}

func (c *HTTPClient) Login(ctx context.Context, username, password string) error {
	in := map[string]string{"username": username, "password": password}
	return c.postJSON(ctx, "/login", "", in, nil)
}

func (c *HTTPClient) SendOTP(ctx context.Context, email string) error {
	in := map[string]string{"email": email}
	return c.postJSON(ctx, "/send-otp", "", in, nil)
}

func (c *HTTPClient) VerifyOTP(ctx context.Context, username, otp string) (*Grant, error) {
	in := map[string]string{"username": username, "otp": otp}

	var out struct {
		DynamicID string `json:"dynamic_id"`
		IsAdmin   bool   `json:"is_admin"`
	}
	if err := c.postJSON(ctx, "/verify-otp", "", in, &out); err != nil {
		return nil, err
	}

	// A 2xx answer without a token is not a grant. Treat it as a server
	// error rather than minting an empty credential.
	if out.DynamicID == "" {
		return nil, &ServerError{StatusCode: http.StatusOK, Message: "verify-otp response missing dynamic_id"}
	}

	return &Grant{DynamicID: out.DynamicID, IsAdmin: out.IsAdmin}, nil
}

func (c *HTTPClient) Probe(ctx context.Context, token string) (*WhoAmI, error) {
	resp, err := c.do(ctx, http.MethodGet, "/secure", token, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Status  string `json:"status"`
		User    string `json:"user"`
		IsAdmin bool   `json:"is_admin"`
	}
	if err := c.decode(resp, &out, true); err != nil {
		return nil, err
	}
	return &WhoAmI{User: out.User, IsAdmin: out.IsAdmin}, nil
}

func (c *HTTPClient) ListFiles(ctx context.Context, token string) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files", token, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Files []string `json:"files"`
	}
	if err := c.decode(resp, &out, true); err != nil {
		return nil, err
	}
	if out.Files == nil {
		return []string{}, nil
	}
	return out.Files, nil
}

func (c *HTTPClient) Upload(ctx context.Context, token, name string, payload []byte) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/upload", token, mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Status     string `json:"status"`
		File       string `json:"file"`
		AIAnalysis *struct {
			RiskScore *float64 `json:"risk_score"`
		} `json:"ai_analysis"`
	}
	if err := c.decode(resp, &out, true); err != nil {
		return nil, err
	}

	res := &UploadResult{Status: out.Status, FileName: out.File}
	if out.AIAnalysis != nil {
		res.RiskScore = out.AIAnalysis.RiskScore
	}
	return res, nil
}

func (c *HTTPClient) Download(ctx context.Context, token, name string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/download/"+url.PathEscape(name), token, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			// Connection dropped mid-transfer: a transport failure, not an
			// application-level rejection.
			return nil, fmt.Errorf("%w: downloading %s: %v", ErrUnavailable, name, err)
		}
		return data, nil
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}

	data, _ := io.ReadAll(resp.Body)
	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	return nil, &ServerError{StatusCode: resp.StatusCode, Message: eb.Error}
}

func (c *HTTPClient) Logout(ctx context.Context, token string) error {
	resp, err := c.do(ctx, http.MethodPost, "/logout", token, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.decode(resp, nil, true)
}
