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

package resync

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/dispatch"
	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/image"
	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/inventory"
)

// Catalogue lists the repositories of the remote namespace and resolves their newest tags.
type Catalogue interface {
	inventory.TagResolver
	ListRepositories(ctx context.Context) ([]string, error)
}

// Submitter hands images to the job service.
type Submitter interface {
	Submit(ctx context.Context, images []string, destination string) ([]dispatch.Result, error)
}

// Outcome is what one invocation produced. RebuildSet is set in list-only mode, Results in
// both dispatch modes.
type Outcome struct {
	Mode       Mode
	RebuildSet []image.Ref
	Results    []dispatch.Result
}

// Orchestrator runs a decoded Command against its collaborators.
type Orchestrator struct {
	catalogue Catalogue
	source    inventory.Source
	submitter Submitter
	policy    inventory.FailurePolicy
}

func NewOrchestrator(catalogue Catalogue, source inventory.Source, submitter Submitter, policy inventory.FailurePolicy) *Orchestrator {
	return &Orchestrator{
		catalogue: catalogue,
		source:    source,
		submitter: submitter,
		policy:    policy,
	}
}

// Run executes cmd. Any error aborts the invocation; no partial outcome is returned.
func (o *Orchestrator) Run(ctx context.Context, cmd Command) (*Outcome, error) {
	logger, err := logr.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("logger not found in context: %w", err)
	}
	logger.Info("starting resync", "mode", cmd.Mode())

	switch c := cmd.(type) {
	case ListCommand:
		refs, err := o.rebuildSet(ctx)
		if err != nil {
			return nil, err
		}
		return &Outcome{Mode: ModeList, RebuildSet: refs}, nil

	case DispatchCommand:
		results, err := o.submitter.Submit(ctx, c.Images, c.Destination)
		if err != nil {
			return nil, fmt.Errorf("failed to dispatch requested images: %w", err)
		}
		return &Outcome{Mode: ModeDispatch, Results: results}, nil

	case ReconcileCommand:
		refs, err := o.rebuildSet(ctx)
		if err != nil {
			return nil, err
		}
		images := make([]string, 0, len(refs))
		for _, ref := range refs {
			images = append(images, ref.String())
		}
		if len(images) == 0 {
			logger.Info("everything is up to date, nothing to dispatch")
		}
		results, err := o.submitter.Submit(ctx, images, c.Destination)
		if err != nil {
			return nil, fmt.Errorf("failed to dispatch resync set: %w", err)
		}
		return &Outcome{Mode: ModeReconcile, Results: results}, nil

	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
}

func (o *Orchestrator) rebuildSet(ctx context.Context) ([]image.Ref, error) {
	repositories, err := o.catalogue.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote repositories: %w", err)
	}

	local, err := inventory.Load(ctx, o.source)
	if err != nil {
		return nil, err
	}

	refs, err := inventory.NewDiffer(o.catalogue, o.policy).ComputeResyncSet(ctx, repositories, local)
	if err != nil {
		return nil, fmt.Errorf("failed to compute resync set: %w", err)
	}
	return refs, nil
}
