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
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/containers/azcontainerregistry"
	"github.com/go-logr/logr"
)

type listRepositories func(ctx context.Context) ([]string, error)
type listTags func(ctx context.Context, repository string) ([]string, error)

// ACRSource treats the repositories and tags of a mirror registry as the local inventory.
// Repositories are expected under prefix, e.g. "biocontainers/samtools" with tag "1.9".
type ACRSource struct {
	acrName string
	prefix  string

	listRepositoriesImpl listRepositories
	listTagsImpl         listTags
}

// NewACRSource creates a Source for the given registry, e.g. "arohcpdev.azurecr.io". A
// managed identity is used when managedIdentityClientID is set, the default credential chain otherwise.
func NewACRSource(acrName, prefix, managedIdentityClientID string) (*ACRSource, error) {
	var cred azcore.TokenCredential
	var err error
	if managedIdentityClientID != "" {
		cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(managedIdentityClientID),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to obtain credentials for managed identity %s: %w", managedIdentityClientID, err)
		}
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain default credentials: %w", err)
		}
	}

	client, err := azcontainerregistry.NewClient(fmt.Sprintf("https://%s", acrName), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry client for %s: %w", acrName, err)
	}

	return &ACRSource{
		acrName: acrName,
		prefix:  strings.Trim(prefix, "/"),

		listRepositoriesImpl: func(ctx context.Context) ([]string, error) {
			var names []string
			pager := client.NewListRepositoriesPager(nil)
			for pager.More() {
				page, err := pager.NextPage(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to advance page: %w", err)
				}
				for _, v := range page.Names {
					names = append(names, *v)
				}
			}
			return names, nil
		},

		listTagsImpl: func(ctx context.Context, repository string) ([]string, error) {
			var tags []string
			pager := client.NewListTagsPager(repository, nil)
			for pager.More() {
				page, err := pager.NextPage(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to advance page: %w", err)
				}
				for _, v := range page.Tags {
					tags = append(tags, *v.Name)
				}
			}
			return tags, nil
		},
	}, nil
}

// Entries returns one entry per tag of every repository under the prefix.
func (a *ACRSource) Entries(ctx context.Context) ([]Entry, error) {
	logger, err := logr.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("logger not found in context: %w", err)
	}

	repositories, err := a.listRepositoriesImpl(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories of %s: %w", a.acrName, err)
	}

	var entries []Entry
	for _, fullName := range repositories {
		repository := fullName
		if a.prefix != "" {
			var found bool
			repository, found = strings.CutPrefix(fullName, a.prefix+"/")
			if !found {
				continue
			}
		}

		tags, err := a.listTagsImpl(ctx, fullName)
		if err != nil {
			return nil, fmt.Errorf("failed to list tags of %s/%s: %w", a.acrName, fullName, err)
		}
		for _, tag := range tags {
			entries = append(entries, Entry{
				Stem:       repository + "_" + tag,
				Repository: repository,
				Tag:        tag,
			})
		}
	}

	logger.V(1).Info("read mirror inventory", "registry", a.acrName, "prefix", a.prefix, "entries", len(entries))
	return entries, nil
}
