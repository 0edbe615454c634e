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
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/image"
)

// recognizedSuffixes are checked in order, longest first, so "x.img.bz2" is not read as "x.img" + ".bz2".
var recognizedSuffixes = []string{".img.bz2", ".img"}

// Entry is one locally present image. Tag is empty for names that carry no "_" separator.
type Entry struct {
	Stem       string
	Repository string
	Tag        string
}

// ParseEntry recovers the entry from a storage file name such as "samtools_1.9--h91753b0_8.img.bz2".
// Names without a recognized suffix are rejected.
func ParseEntry(fileName string) (Entry, error) {
	for _, suffix := range recognizedSuffixes {
		stem, found := strings.CutSuffix(fileName, suffix)
		if !found {
			continue
		}
		if stem == "" {
			return Entry{}, fmt.Errorf("file name %q has an empty stem", fileName)
		}
		return EntryFromStem(stem), nil
	}
	return Entry{}, fmt.Errorf("file name %q has no recognized suffix (%s)", fileName, strings.Join(recognizedSuffixes, ", "))
}

// EntryFromStem splits a "repo_tag" stem on its first separator.
func EntryFromStem(stem string) Entry {
	repository, tag, _ := strings.Cut(stem, "_")
	return Entry{
		Stem:       stem,
		Repository: repository,
		Tag:        tag,
	}
}

// EntryFromRef builds the entry a stored copy of ref would have.
func EntryFromRef(ref image.Ref) Entry {
	return Entry{
		Stem:       ref.Stem(),
		Repository: ref.Repository,
		Tag:        ref.Tag,
	}
}

// Inventory is the set of images present locally.
type Inventory struct {
	entries []Entry
	stems   sets.Set[string]
}

// New indexes entries for lookup.
func New(entries []Entry) *Inventory {
	stems := sets.New[string]()
	for _, entry := range entries {
		stems.Insert(entry.Stem)
	}
	return &Inventory{
		entries: entries,
		stems:   stems,
	}
}

// Contains reports whether exactly this repository and tag combination is stored locally.
// Matching is done on the "repo_tag" stem, the only form the storage records.
func (i *Inventory) Contains(ref image.Ref) bool {
	return i.stems.Has(ref.Stem())
}

func (i *Inventory) Entries() []Entry {
	return i.entries
}

func (i *Inventory) Len() int {
	return i.stems.Len()
}
