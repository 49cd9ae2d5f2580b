package client

import (
	"fmt"
	"net/http"
	"time"

	httpclient "github.com/appleboy/go-httpclient"
	retry "github.com/appleboy/go-httpretry"
)

// NewHTTPClient creates the plain HTTP client used for calls to the upstream
// identity provider.
func NewHTTPClient(timeout time.Duration, insecureSkipVerify bool) (*http.Client, error) {
	c, err := httpclient.NewAuthClient(
		httpclient.AuthModeNone,
		"",
		httpclient.WithTimeout(timeout),
		httpclient.WithInsecureSkipVerify(insecureSkipVerify),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}
	return c, nil
}

// CreateRetryClient creates an HTTP client with retry support. It is used to
// deliver back-channel logout notifications to relying parties.
func CreateRetryClient(
	timeout time.Duration,
	insecureSkipVerify bool,
	maxRetries int,
	retryDelay, maxRetryDelay time.Duration,
) (*retry.Client, error) {
	c, err := NewHTTPClient(timeout, insecureSkipVerify)
	if err != nil {
		return nil, err
	}

	retryClient, err := retry.NewRealtimeClient(
		retry.WithHTTPClient(c),
		retry.WithMaxRetries(maxRetries),
		retry.WithInitialRetryDelay(retryDelay),
		retry.WithMaxRetryDelay(maxRetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}

	return retryClient, nil
}
