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
	"errors"
	"fmt"
)

// ErrNoTags is returned when a repository exists but has no tags. Callers treat it as
// "nothing to resync" rather than as a failure.
var ErrNoTags = errors.New("repository has no tags")

// RegistryUnavailableError is returned when the registry could not be reached or answered
// with a non-success status.
type RegistryUnavailableError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *RegistryUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry request to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("registry request to %s returned status %d", e.URL, e.StatusCode)
}

func (e *RegistryUnavailableError) Unwrap() error {
	return e.Err
}

// MalformedTimestampError is returned when a tag's last_modified value is not in the registry's format.
type MalformedTimestampError struct {
	Repository string
	Tag        string
	Value      string
	Err        error
}

func (e *MalformedTimestampError) Error() string {
	return fmt.Sprintf("tag %s:%s has malformed last_modified %q: %v", e.Repository, e.Tag, e.Value, e.Err)
}

func (e *MalformedTimestampError) Unwrap() error {
	return e.Err
}
