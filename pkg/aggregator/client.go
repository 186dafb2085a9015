// Package aggregator is an HTTP client for the state visit-verification
// aggregator.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

var (
	ErrTimeout     = errors.New("aggregator request timed out")
	ErrCircuitOpen = errors.New("aggregator circuit breaker open")
	ErrNoReceipt   = errors.New("aggregator response has no transaction id")
)

type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	MaxFailures       uint32
	BreakerTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Point is one end of a visit as the aggregator sees it.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Lat       *float64  `json:"lat"`
	Lng       *float64  `json:"lng"`
}

type VisitPayload struct {
	VisitID     string `json:"visitId"`
	StaffID     string `json:"staffId"`
	PatientID   string `json:"patientId"`
	ServiceType string `json:"serviceType,omitempty"`
	VisitStart  Point  `json:"visitStart"`
	VisitEnd    Point  `json:"visitEnd"`
	Units       int    `json:"units"`
}

type Receipt struct {
	TransactionID string `json:"transactionId"`
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("aggregator returned status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	cfg      Config
	endpoint string
	http     *fasthttp.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	maxFailures := cfg.MaxFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "aggregator",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// a 4xx is our payload's fault, not an outage
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			return err == nil
		},
	})

	return &Client{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/visits",
		http: &fasthttp.Client{
			Name:                "evv-api",
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
		breaker: breaker,
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

// SubmitVisit posts one verified visit. The call never outlives the
// configured timeout or ctx, whichever ends first.
func (c *Client) SubmitVisit(ctx context.Context, p VisitPayload) (*Receipt, error) {
	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	if err := c.limiter.Wait(waitCtx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrTimeout, err)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal visit payload: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(body, deadline)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*Receipt), nil
}

// State exposes the breaker state for health reporting.
func (c *Client) State() string {
	return c.breaker.State().String()
}

func (c *Client) post(body []byte, deadline time.Time) (*Receipt, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.SetBody(body)

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("aggregator request failed: %w", err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		msg := string(resp.Body())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &StatusError{StatusCode: status, Body: msg}
	}

	var receipt Receipt
	if err := json.Unmarshal(resp.Body(), &receipt); err != nil {
		return nil, fmt.Errorf("failed to decode aggregator response: %w", err)
	}
	if receipt.TransactionID == "" {
		return nil, ErrNoReceipt
	}
	return &receipt, nil
}
