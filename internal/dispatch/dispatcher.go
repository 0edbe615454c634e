// Copyright 2025 Microsoft Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// Result links one submitted image to the execution the job service created for it.
type Result struct {
	Image       string `json:"image"`
	Destination string `json:"destination"`
	ExecutionID string `json:"executionId"`
}

// Fields returns the result as "image destination executionId" columns.
func (r Result) Fields() []string {
	return []string{r.Image, r.Destination, r.ExecutionID}
}

// DispatchFailedError is returned for the first submission that did not succeed.
// Nothing after Index was submitted.
type DispatchFailedError struct {
	Image      string
	Index      int
	StatusCode int
	Err        error
}

func (e *DispatchFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to submit image %s (index %d, status %d): %v", e.Image, e.Index, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("failed to submit image %s (index %d): job service returned status %d", e.Image, e.Index, e.StatusCode)
}

func (e *DispatchFailedError) Unwrap() error {
	return e.Err
}

// AuthedTransport is a http.RoundTripper that adds an Authorization header
type AuthedTransport struct {
	Key     string
	Wrapped http.RoundTripper
}

// RoundTrip implements http.RoundTripper and sets Authorization header
func (t *AuthedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", t.Key)
	return t.Wrapped.RoundTrip(req)
}

// Dispatcher submits rebuild requests to an actors API.
type Dispatcher struct {
	httpClient *http.Client
	endpoint   string
	host       string
	namespace  string
}

// NewDispatcher creates a Dispatcher posting to endpoint with the given bearer token. Images are
// submitted as fully qualified locators below host/namespace.
func NewDispatcher(endpoint, bearerToken, host, namespace string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &AuthedTransport{
				Key:     "Bearer " + bearerToken,
				Wrapped: http.DefaultTransport,
			},
		},
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		host:      host,
		namespace: namespace,
	}
}

type messageResponse struct {
	Result struct {
		ExecutionID string `json:"executionId"`
	} `json:"result"`
}

// Submit sends one rebuild request per image, in order, to the destination actor. It stops at
// the first failure and then returns no results; images before the failing one have been
// submitted regardless, since submissions cannot be taken back.
func (d *Dispatcher) Submit(ctx context.Context, images []string, destination string) ([]Result, error) {
	logger, err := logr.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("logger not found in context: %w", err)
	}
	if destination == "" {
		return nil, errors.New("destination must not be empty")
	}

	path := fmt.Sprintf("%s/actors/v2/%s/messages", d.endpoint, url.PathEscape(destination))
	results := make([]Result, 0, len(images))
	for i, img := range images {
		executionID, statusCode, err := d.submitOne(ctx, path, img)
		if err != nil {
			return nil, &DispatchFailedError{Image: img, Index: i, StatusCode: statusCode, Err: err}
		}
		if statusCode < 200 || statusCode > 299 {
			return nil, &DispatchFailedError{Image: img, Index: i, StatusCode: statusCode}
		}

		logger.Info("submitted rebuild request", "image", img, "destination", destination, "executionId", executionID)
		results = append(results, Result{
			Image:       img,
			Destination: destination,
			ExecutionID: executionID,
		})
	}

	return results, nil
}

// submitOne posts a single message. A non-2xx status is reported through statusCode with a nil error.
func (d *Dispatcher) submitOne(ctx context.Context, path, img string) (string, int, error) {
	form := url.Values{}
	// the rebuild actor expects the locator single quoted
	form.Set("message", fmt.Sprintf("'%s/%s/%s'", d.host, d.namespace, img))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", resp.StatusCode, nil
	}

	var msgResp messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	if msgResp.Result.ExecutionID == "" {
		return "", resp.StatusCode, errors.New("response carries no execution id")
	}
	return msgResp.Result.ExecutionID, resp.StatusCode, nil
}
