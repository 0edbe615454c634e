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

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
)

const (
	// DefaultBaseURL is the Quay.io API root
	DefaultBaseURL = "https://quay.io/api/v1"

	// maxRepositoryPages bounds the next_page walk of ListRepositories
	maxRepositoryPages = 1000
)

// Tag is a repository tag with the registry reported modification time.
type Tag struct {
	Name         string
	LastModified time.Time
}

// QuayClient reads repository and tag metadata of one Quay namespace.
type QuayClient struct {
	httpClient  *http.Client
	baseURL     string
	namespace   string
	retryConfig retryConfig
}

type retryConfig struct {
	maxRetries          uint64
	initialInterval     time.Duration
	maxInterval         time.Duration
	multiplier          float64
	randomizationFactor float64
}

// NewQuayClient creates a client for the given namespace. A retries value of zero means
// every request is attempted exactly once.
func NewQuayClient(baseURL, namespace string, timeout time.Duration, retries uint64) *QuayClient {
	return &QuayClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   baseURL,
		namespace: namespace,
		retryConfig: retryConfig{
			maxRetries:          retries,
			initialInterval:     1 * time.Second,
			maxInterval:         30 * time.Second,
			multiplier:          2.0,
			randomizationFactor: 0.5,
		},
	}
}

type quayRepository struct {
	Name string `json:"name"`
}

type quayRepositoryListResponse struct {
	Repositories []quayRepository `json:"repositories"`
	NextPage     string           `json:"next_page,omitempty"`
}

type quayTagInfo struct {
	LastModified string `json:"last_modified"`
}

type quayRepositoryResponse struct {
	Tags map[string]quayTagInfo `json:"tags"`
}

// ListRepositories returns the names of all public repositories in the namespace, in the
// order the registry lists them.
func (c *QuayClient) ListRepositories(ctx context.Context) ([]string, error) {
	logger, err := logr.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("logger not found in context: %w", err)
	}

	var names []string
	nextPage := ""
	for page := 1; page <= maxRepositoryPages; page++ {
		query := url.Values{}
		query.Set("public", "true")
		query.Set("namespace", c.namespace)
		if nextPage != "" {
			query.Set("next_page", nextPage)
		}
		path := fmt.Sprintf("%s/repository?%s", c.baseURL, query.Encode())

		var listResp quayRepositoryListResponse
		if err := c.getJSON(ctx, path, &listResp); err != nil {
			return nil, fmt.Errorf("failed to list repositories of namespace %s: %w", c.namespace, err)
		}
		for _, repo := range listResp.Repositories {
			names = append(names, repo.Name)
		}
		logger.V(1).Info("fetched repository page", "namespace", c.namespace, "page", page, "repositories", len(listResp.Repositories))

		if listResp.NextPage == "" {
			return names, nil
		}
		nextPage = listResp.NextPage
	}

	return nil, fmt.Errorf("repository listing of namespace %s did not finish after %d pages", c.namespace, maxRepositoryPages)
}

// MostRecentTag returns the tag of repository with the latest last_modified timestamp.
// A repository without tags yields ErrNoTags.
func (c *QuayClient) MostRecentTag(ctx context.Context, repository string) (Tag, error) {
	if repository == "" {
		return Tag{}, errors.New("repository name must not be empty")
	}

	path := fmt.Sprintf("%s/repository/%s/%s", c.baseURL, c.namespace, url.PathEscape(repository))
	var repoResp quayRepositoryResponse
	if err := c.getJSON(ctx, path, &repoResp); err != nil {
		return Tag{}, err
	}
	if len(repoResp.Tags) == 0 {
		return Tag{}, fmt.Errorf("repository %s: %w", repository, ErrNoTags)
	}

	tags := make([]Tag, 0, len(repoResp.Tags))
	for name, info := range repoResp.Tags {
		timestamp, err := ParseTimestamp(info.LastModified)
		if err != nil {
			return Tag{}, &MalformedTimestampError{
				Repository: repository,
				Tag:        name,
				Value:      info.LastModified,
				Err:        err,
			}
		}
		tags = append(tags, Tag{Name: name, LastModified: timestamp})
	}

	SortByLastModified(tags)
	return tags[0], nil
}

// getJSON issues a GET and decodes a successful response into out. Transport errors, 5xx and
// 429 responses are retried while the retry budget lasts; any other non-2xx status is final.
func (c *QuayClient) getJSON(ctx context.Context, path string, out any) error {
	logger, err := logr.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("logger not found in context: %w", err)
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if c.retryConfig.maxRetries > 0 {
		expBackoff := backoff.NewExponentialBackOff()
		expBackoff.InitialInterval = c.retryConfig.initialInterval
		expBackoff.MaxInterval = c.retryConfig.maxInterval
		expBackoff.Multiplier = c.retryConfig.multiplier
		expBackoff.RandomizationFactor = c.retryConfig.randomizationFactor
		policy = backoff.WithMaxRetries(expBackoff, c.retryConfig.maxRetries)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		logger.V(2).Info("sending request", "url", path)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &RegistryUnavailableError{URL: path, Err: err}
		}
		defer resp.Body.Close()
		logger.V(2).Info("got response", "url", path, "statusCode", resp.StatusCode)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			unavailable := &RegistryUnavailableError{URL: path, StatusCode: resp.StatusCode}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return unavailable
			}
			return backoff.Permanent(unavailable)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response from %s: %w", path, err))
		}
		return nil
	}

	notify := func(err error, duration time.Duration) {
		logger.Info("retrying registry request after backoff", "url", path, "error", err.Error(), "backoff", duration.String())
	}

	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
}

// ParseTimestamp parses a Quay last_modified value, e.g. "Fri, 14 Jun 2019 12:03:41 -0000".
func ParseTimestamp(timestampStr string) (time.Time, error) {
	if t, err := time.Parse(time.RFC1123Z, timestampStr); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC1123, timestampStr); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", timestampStr)
}

// SortByLastModified orders tags newest first. Equal timestamps fall back to the tag name,
// descending, so the result does not depend on map iteration order.
func SortByLastModified(tags []Tag) {
	sort.Slice(tags, func(i, j int) bool {
		if !tags[i].LastModified.Equal(tags[j].LastModified) {
			return tags[i].LastModified.After(tags[j].LastModified)
		}
		return tags[i].Name > tags[j].Name
	})
}
