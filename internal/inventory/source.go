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
	"io/fs"
	"os"

	"github.com/go-logr/logr"
)

// Source enumerates the locally present images.
type Source interface {
	Entries(ctx context.Context) ([]Entry, error)
}

// Load reads all entries of source into an Inventory.
func Load(ctx context.Context, source Source) (*Inventory, error) {
	entries, err := source.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list local inventory: %w", err)
	}
	return New(entries), nil
}

// DirSource reads image files from a flat storage directory.
type DirSource struct {
	fsys fs.FS
	root string
}

// NewDirSource creates a Source backed by the directory at path.
func NewDirSource(path string) *DirSource {
	return &DirSource{
		fsys: os.DirFS(path),
		root: path,
	}
}

// NewFSSource creates a Source backed by the top level of fsys.
func NewFSSource(fsys fs.FS) *DirSource {
	return &DirSource{
		fsys: fsys,
		root: ".",
	}
}

// Entries returns one entry per recognized file. Unrecognized names are logged and skipped.
func (d *DirSource) Entries(ctx context.Context) ([]Entry, error) {
	logger, err := logr.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("logger not found in context: %w", err)
	}

	dirEntries, err := fs.ReadDir(d.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory %s: %w", d.root, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	skipped := 0
	for _, dirEntry := range dirEntries {
		entry, err := ParseEntry(dirEntry.Name())
		if err != nil {
			skipped++
			logger.V(1).Info("skipping unrecognized storage entry", "name", dirEntry.Name(), "reason", err.Error())
			continue
		}
		entries = append(entries, entry)
	}

	logger.V(1).Info("read local inventory", "directory", d.root, "entries", len(entries), "skipped", skipped)
	return entries, nil
}
