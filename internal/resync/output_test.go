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
	"bytes"
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/dispatch"
	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/image"
)

func TestWriteOutcome(t *testing.T) {
	listOutcome := &Outcome{
		Mode:       ModeList,
		RebuildSet: []image.Ref{{Repository: "A", Tag: "v2"}, {Repository: "samtools", Tag: "1.9"}},
	}
	dispatchOutcome := &Outcome{
		Mode: ModeReconcile,
		Results: []dispatch.Result{
			{Image: "A:v2", Destination: "Mb0L6kVeR60pQ", ExecutionID: "exec-1"},
			{Image: "samtools:1.9", Destination: "Mb0L6kVeR60pQ", ExecutionID: "exec-2"},
		},
	}

	testCases := []struct {
		name         string
		outcome      *Outcome
		format       Format
		expected     string
		wantContains []string
	}{
		{
			name:     "text list",
			outcome:  listOutcome,
			format:   FormatText,
			expected: "A:v2\nsamtools:1.9\n",
		},
		{
			name:     "text results",
			outcome:  dispatchOutcome,
			format:   FormatText,
			expected: "A:v2 Mb0L6kVeR60pQ exec-1\nsamtools:1.9 Mb0L6kVeR60pQ exec-2\n",
		},
		{
			name:     "text empty list",
			outcome:  &Outcome{Mode: ModeList},
			format:   FormatText,
			expected: "",
		},
		{
			name:         "table list",
			outcome:      listOutcome,
			format:       FormatTable,
			wantContains: []string{"IMAGE", "A:v2", "samtools:1.9", "2 TO RESYNC"},
		},
		{
			name:         "table results",
			outcome:      dispatchOutcome,
			format:       FormatTable,
			wantContains: []string{"EXECUTION ID", "exec-1", "exec-2", "2 SUBMITTED"},
		},
		{
			name:    "json list",
			outcome: listOutcome,
			format:  FormatJSON,
			expected: `{
  "mode": "list-only",
  "images": [
    "A:v2",
    "samtools:1.9"
  ]
}
`,
		},
		{
			name:    "yaml results",
			outcome: dispatchOutcome,
			format:  FormatYAML,
			expected: `mode: full-reconcile
results:
- destination: Mb0L6kVeR60pQ
  executionId: exec-1
  image: A:v2
- destination: Mb0L6kVeR60pQ
  executionId: exec-2
  image: samtools:1.9
`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.NilError(t, WriteOutcome(&out, tc.outcome, tc.format))
			if tc.wantContains == nil {
				assert.Equal(t, tc.expected, out.String())
				return
			}
			for _, want := range tc.wantContains {
				if !strings.Contains(out.String(), want) {
					t.Errorf("WriteOutcome() output missing %q\nGot:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"text", "table", "json", "yaml"} {
		format, err := ParseFormat(name)
		assert.NilError(t, err)
		assert.Equal(t, name, string(format))
	}

	_, err := ParseFormat("markdown")
	assert.Error(t, err, "invalid output format 'markdown': must be one of: text, table, json, yaml")
}
