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

package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/image"
	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/registry"
)

// TagResolver finds the most recently modified tag of a repository.
type TagResolver interface {
	MostRecentTag(ctx context.Context, repository string) (registry.Tag, error)
}

// FailurePolicy decides what happens when a repository's tag cannot be resolved for a
// reason other than the repository having no tags.
type FailurePolicy string

const (
	// FailFast aborts the whole computation on the first resolution error.
	FailFast FailurePolicy = "fail-fast"
	// SkipAndContinue logs the failing repository and evaluates the rest.
	SkipAndContinue FailurePolicy = "skip"
)

// ParseFailurePolicy accepts the names used on the command line.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case FailFast, SkipAndContinue:
		return FailurePolicy(s), nil
	default:
		return "", fmt.Errorf("invalid failure policy %q: must be one of %s, %s", s, FailFast, SkipAndContinue)
	}
}

// Differ computes which remote images are missing locally.
type Differ struct {
	resolver TagResolver
	policy   FailurePolicy
}

func NewDiffer(resolver TagResolver, policy FailurePolicy) *Differ {
	return &Differ{
		resolver: resolver,
		policy:   policy,
	}
}

// ComputeResyncSet returns, in the order of remoteRepositories, the newest tag of every
// repository whose exact repository and tag combination is absent from local. Repositories
// without tags contribute nothing.
func (d *Differ) ComputeResyncSet(ctx context.Context, remoteRepositories []string, local *Inventory) ([]image.Ref, error) {
	logger, err := logr.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("logger not found in context: %w", err)
	}

	resync := []image.Ref{}
	skipped := 0
	for _, repository := range remoteRepositories {
		tag, err := d.resolver.MostRecentTag(ctx, repository)
		switch {
		case errors.Is(err, registry.ErrNoTags):
			logger.V(1).Info("repository has no tags, nothing to resync", "repository", repository)
			continue
		case err != nil && d.policy == SkipAndContinue:
			skipped++
			logger.Error(err, "failed to resolve most recent tag, skipping repository", "repository", repository)
			continue
		case err != nil:
			return nil, fmt.Errorf("failed to resolve most recent tag of %s: %w", repository, err)
		}

		candidate := image.Ref{Repository: repository, Tag: tag.Name}
		if local.Contains(candidate) {
			logger.V(2).Info("image is up to date", "image", candidate.String())
			continue
		}
		logger.V(1).Info("image needs resync", "image", candidate.String(), "lastModified", tag.LastModified)
		resync = append(resync, candidate)
	}

	logger.Info("computed resync set", "repositories", len(remoteRepositories), "localEntries", local.Len(), "resync", len(resync), "skipped", skipped)
	return resync, nil
}
