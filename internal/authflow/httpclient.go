package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"taoo-rewards/internal/models"
)

// HTTPClient is the AuthClient backed by the rewards API. Once signed in it
// also carries the rewards calls made with the session token.
type HTTPClient struct {
	rc *resty.Client

	mu      sync.Mutex
	tickets map[string]string
	token   string
}

// NewHTTPClient talks to baseURL; a nil httpClient gets a 10s timeout.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	var rc *resty.Client
	if httpClient == nil {
		rc = resty.New().SetTimeout(10 * time.Second)
	} else {
		rc = resty.NewWithClient(httpClient)
	}
	rc.SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	return &HTTPClient{
		rc:      rc,
		tickets: map[string]string{},
	}
}

// Token returns the bearer token from the last successful verify or
// register call.
func (c *HTTPClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type sessionResponse struct {
	Token        string       `json:"token"`
	User         *models.User `json:"user"`
	Ticket       string       `json:"ticket"`
	NeedsProfile bool         `json:"needsProfile"`
}

func (c *HTTPClient) SendCode(ctx context.Context, phone string) (SendResult, error) {
	var out SendResult
	err := c.post(ctx, "/api/otp/send", map[string]string{"phone": phone}, &out)
	if statusOf(err) == http.StatusTooManyRequests {
		return SendResult{}, ErrCooldown
	}
	return out, err
}

func (c *HTTPClient) VerifyCode(ctx context.Context, phone, code string) (VerifyResult, error) {
	var out sessionResponse
	err := c.post(ctx, "/api/otp/verify", map[string]string{"phone": phone, "code": code}, &out)
	if statusOf(err) == http.StatusUnauthorized {
		return VerifyResult{}, ErrInvalidCode
	}
	if err != nil {
		return VerifyResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if out.User == nil {
		c.tickets[phone] = out.Ticket
		return VerifyResult{NeedsProfile: true}, nil
	}
	c.token = out.Token
	return VerifyResult{User: out.User}, nil
}

func (c *HTTPClient) Register(ctx context.Context, phone, firstName, lastName string) (*models.User, error) {
	c.mu.Lock()
	ticket := c.tickets[phone]
	c.mu.Unlock()
	if ticket == "" {
		return nil, ErrWrongStep
	}
	var out sessionResponse
	err := c.post(ctx, "/api/register", map[string]string{
		"ticket":    ticket,
		"firstName": firstName,
		"lastName":  lastName,
	}, &out)
	if statusOf(err) == http.StatusBadRequest {
		return nil, ErrNameRequired
	}
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	delete(c.tickets, phone)
	c.token = out.Token
	c.mu.Unlock()
	return out.User, nil
}

// DeleteAccount removes the signed-in account and forgets the token.
func (c *HTTPClient) DeleteAccount(ctx context.Context) error {
	if c.Token() == "" {
		return ErrWrongStep
	}
	if err := c.do(ctx, http.MethodDelete, "/api/me", nil, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	req := c.request(ctx)
	if body != nil {
		req.SetBody(body)
	}
	return c.exec(req, method, path, out)
}

func (c *HTTPClient) request(ctx context.Context) *resty.Request {
	req := c.rc.R().SetContext(ctx)
	if token := c.Token(); token != "" {
		req.SetAuthToken(token)
	}
	return req
}

func (c *HTTPClient) exec(req *resty.Request, method, path string, out any) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(resp.Body(), &e)
		return &APIError{Status: resp.StatusCode(), Message: e.Error}
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Body(), out)
}
