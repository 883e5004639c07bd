package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type Status string

const (
	StatusAccepted     Status = "ACCEPTED"
	StatusWrongAnswer  Status = "WRONG_ANSWER"
	StatusRuntimeError Status = "RUNTIME_ERROR"
	StatusCompileError Status = "COMPILE_ERROR"
	StatusTimeLimit    Status = "TIME_LIMIT_EXCEEDED"
	StatusError        Status = "ERROR"
)

type Submission struct {
	ProblemSlug string `json:"problem"`
	Code        string `json:"code"`
	Language    string `json:"language"`
}

type Result struct {
	Status      Status `json:"status"`
	TestsPassed int    `json:"tests_passed"`
	TestsTotal  int    `json:"tests_total"`
	RuntimeMS   int64  `json:"runtime_ms"`
	Message     string `json:"message,omitempty"`
}

// Client runs a submission against the external judge. Implementations must
// respect ctx; callers treat any error as a judge outage, never as a loss.
type Client interface {
	Execute(ctx context.Context, sub Submission) (Result, error)
}

// ErrorResult is the verdict synthesized when the judge is unreachable. It
// is relayed to both participants and leaves the battle running.
func ErrorResult(msg string) Result {
	return Result{Status: StatusError, Message: msg}
}

type HTTPClient struct {
	url     string
	timeout time.Duration
	retries uint64
	http    *http.Client
	log     *zap.Logger
}

func NewHTTPClient(url string, timeout time.Duration, log *zap.Logger) *HTTPClient {
	return &HTTPClient{
		url:     url,
		timeout: timeout,
		retries: 2,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (c *HTTPClient) Execute(ctx context.Context, sub Submission) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(sub)
	if err != nil {
		return Result{}, fmt.Errorf("encode submission: %w", err)
	}

	var res Result
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/execute", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("judge returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("judge returned %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return backoff.Permanent(fmt.Errorf("decode verdict: %w", err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		c.log.Warn("judge call failed", zap.String("problem", sub.ProblemSlug), zap.Error(err))
		return Result{}, err
	}
	return res, nil
}
