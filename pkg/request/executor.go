// Package request issues individual HTTP calls against the Alma API.
//
// Every call passes through the quota governor gate before dispatch, and
// every response feeds the remote-reported remaining call count back into
// the governor, regardless of the outcome of the business call. Transient
// transport failures and 5xx responses are retried within fixed bounds;
// 4xx rejections are surfaced untouched.
package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/quota"
)

// HeaderRemaining is the Alma response header carrying the remaining
// permitted call count for the API key.
const HeaderRemaining = "X-Exl-Api-Remaining"

// Format is the wire format of a request/response body.
type Format string

const (
	// FormatXML is used by bibliographic and inventory resources.
	FormatXML Format = "xml"

	// FormatJSON is used by users, sets and job instances.
	FormatJSON Format = "json"
)

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	return fmt.Sprintf("application/%s", f)
}

// Metrics receives executor events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RequestObserved(method string, status int, duration time.Duration)
	RetryAttempted(method, kind string)
}

// Config configures an Executor.
type Config struct {
	// MaxNetworkTries bounds attempts on HTTP-layer failures
	// (default: 3).
	MaxNetworkTries int

	// NetworkRetryDelay is the fixed delay between network retries
	// (default: 1s).
	NetworkRetryDelay time.Duration

	// ServerRetryDelay is the delay before the single 5xx retry
	// (default: 1s).
	ServerRetryDelay time.Duration

	// Timeout applies to each underlying HTTP attempt (default: 30s).
	// A timed-out mutating call is indeterminate: the remote state must
	// be re-fetched before retrying.
	Timeout time.Duration

	// HTTPClient overrides the default client (optional).
	HTTPClient *http.Client

	// Logger (optional).
	Logger hclog.Logger

	// Metrics (optional).
	Metrics Metrics
}

// Request is one call against the Alma API.
type Request struct {
	Method     string
	URL        string
	Params     url.Values
	Credential apikeys.Credential
	Body       []byte
	Format     Format
}

// Response is the outcome of a successful call.
type Response struct {
	Status    int
	Body      []byte
	Remaining int // remote-reported remaining calls, -1 if absent
}

// Executor issues requests through the quota governor and applies the
// retry policy. Safe for concurrent use; share one instance per process
// together with its governor.
type Executor struct {
	cfg     Config
	client  *http.Client
	gov     *quota.Governor
	logger  hclog.Logger
	metrics Metrics
}

// New creates an Executor gated by the given governor.
func New(gov *quota.Governor, cfg Config) *Executor {
	if cfg.MaxNetworkTries <= 0 {
		cfg.MaxNetworkTries = 3
	}
	if cfg.NetworkRetryDelay <= 0 {
		cfg.NetworkRetryDelay = time.Second
	}
	if cfg.ServerRetryDelay <= 0 {
		cfg.ServerRetryDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Executor{
		cfg:     cfg,
		client:  client,
		gov:     gov,
		logger:  cfg.Logger.Named("request"),
		metrics: cfg.Metrics,
	}
}

// Do executes one request. The governor gate is passed before every
// dispatch, including retries; a 429 forces a governor suspension before
// re-dispatching, up to MaxNetworkTries consecutive rejections. Returns
// *quota.HaltError, *NetworkError, *ServerError or *RejectedError on
// failure.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	requestID := uuid.NewString()
	start := time.Now()

	retriedServer := false
	rateLimited := 0
	for {
		if err := e.gov.Acquire(ctx); err != nil {
			return nil, err
		}

		resp, err := e.send(ctx, req, requestID)
		if err != nil {
			return nil, err
		}

		if e.metrics != nil {
			e.metrics.RequestObserved(req.Method, resp.Status, time.Since(start))
		}

		switch {
		case resp.Status == http.StatusTooManyRequests:
			// Per-second threshold exceeded remotely. The local window
			// may disagree (the institutional limit is shared), so the
			// governor suspension is forced before re-dispatching.
			rateLimited++
			if rateLimited >= e.cfg.MaxNetworkTries {
				return nil, &RejectedError{
					Status:  resp.Status,
					Body:    resp.Body,
					Message: errorMessage(resp.Body),
				}
			}
			e.logger.Warn("rate limited by remote service, suspending",
				"request_id", requestID, "method", req.Method, "url", req.URL)
			if e.metrics != nil {
				e.metrics.RetryAttempted(req.Method, "rate_limit")
			}
			if err := e.gov.Suspend(ctx); err != nil {
				return nil, err
			}
			continue

		case resp.Status >= 500:
			if !retriedServer {
				retriedServer = true
				e.logger.Warn("server error, retrying once",
					"request_id", requestID, "status", resp.Status)
				if e.metrics != nil {
					e.metrics.RetryAttempted(req.Method, "server")
				}
				if err := sleepContext(ctx, e.cfg.ServerRetryDelay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, &ServerError{
				Status:  resp.Status,
				Body:    resp.Body,
				Message: errorMessage(resp.Body),
			}

		case resp.Status >= 400:
			return nil, &RejectedError{
				Status:  resp.Status,
				Body:    resp.Body,
				Message: errorMessage(resp.Body),
			}
		}

		return resp, nil
	}
}

// send performs the HTTP attempt with bounded constant-backoff retries on
// transport failures. Every received response, regardless of status, feeds
// the quota header back into the governor.
func (e *Executor) send(ctx context.Context, req Request, requestID string) (*Response, error) {
	endpoint := req.URL
	if len(req.Params) > 0 {
		endpoint = fmt.Sprintf("%s?%s", req.URL, req.Params.Encode())
	}

	attempts := 0
	var resp *Response

	schedule := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(e.cfg.NetworkRetryDelay),
			uint64(e.cfg.MaxNetworkTries-1),
		),
		ctx,
	)

	operation := func() error {
		attempts++
		if attempts > 1 {
			e.logger.Warn("retrying after network failure",
				"request_id", requestID, "attempt", attempts, "url", endpoint)
			if e.metrics != nil {
				e.metrics.RetryAttempted(req.Method, "network")
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, bytes.NewReader(req.Body))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Authorization", "apikey "+req.Credential.Key)
		httpReq.Header.Set("Accept", req.Format.ContentType())
		if len(req.Body) > 0 {
			httpReq.Header.Set("Content-Type", req.Format.ContentType())
		}

		httpResp, err := e.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}

		remaining := remainingQuota(httpResp.Header)
		if remaining >= 0 {
			e.gov.Observe(remaining)
		}

		e.logger.Debug("response received",
			"request_id", requestID,
			"method", req.Method,
			"url", endpoint,
			"status", httpResp.StatusCode,
			"quota_remaining", remaining,
		)

		resp = &Response{Status: httpResp.StatusCode, Body: body, Remaining: remaining}
		return nil
	}

	if err := backoff.Retry(operation, schedule); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Attempts: attempts, Err: err}
	}
	return resp, nil
}

// remainingQuota parses the quota header, returning -1 when absent or
// unparseable.
func remainingQuota(h http.Header) int {
	v := h.Get(HeaderRemaining)
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
