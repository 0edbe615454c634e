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

package image

import (
	"fmt"
	"strings"
)

// Ref identifies one tag of one repository, rendered as "name:tag".
type Ref struct {
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
}

func (r Ref) String() string {
	return r.Repository + ":" + r.Tag
}

// Stem is the local storage name of the image without any file suffix, e.g. "samtools_1.9--h91753b0_8".
func (r Ref) Stem() string {
	return r.Repository + "_" + r.Tag
}

// ParseRef parses a "name:tag" string. The first colon separates repository and tag.
func ParseRef(s string) (Ref, error) {
	repository, tag, found := strings.Cut(s, ":")
	if !found {
		return Ref{}, fmt.Errorf("image reference %q has no tag", s)
	}
	if repository == "" {
		return Ref{}, fmt.Errorf("image reference %q has an empty repository", s)
	}
	if tag == "" {
		return Ref{}, fmt.Errorf("image reference %q has an empty tag", s)
	}
	return Ref{Repository: repository, Tag: tag}, nil
}
