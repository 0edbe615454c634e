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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"sigs.k8s.io/yaml"

	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/dispatch"
)

// Format selects how an Outcome is written.
type Format string

const (
	// FormatText writes one line per image, or one "image destination executionId" line per result
	FormatText  Format = "text"
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

var Formats = []Format{FormatText, FormatTable, FormatJSON, FormatYAML}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	names := make([]string, 0, len(Formats))
	for _, f := range Formats {
		names = append(names, string(f))
	}
	return "", fmt.Errorf("invalid output format '%s': must be one of: %s", s, strings.Join(names, ", "))
}

type outcomeDocument struct {
	Mode    Mode              `json:"mode"`
	Images  []string          `json:"images,omitempty"`
	Results []dispatch.Result `json:"results,omitempty"`
}

// WriteOutcome renders outcome to w in the given format.
func WriteOutcome(w io.Writer, outcome *Outcome, format Format) error {
	images := make([]string, 0, len(outcome.RebuildSet))
	for _, ref := range outcome.RebuildSet {
		images = append(images, ref.String())
	}

	switch format {
	case FormatText:
		var lines []string
		if outcome.Mode == ModeList {
			lines = images
		} else {
			for _, result := range outcome.Results {
				lines = append(lines, strings.Join(result.Fields(), " "))
			}
		}
		for _, line := range lines {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil

	case FormatTable:
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		if outcome.Mode == ModeList {
			t.AppendHeader(table.Row{"Image"})
			for _, img := range images {
				t.AppendRow(table.Row{img})
			}
			t.AppendFooter(table.Row{fmt.Sprintf("%d to resync", len(images))})
		} else {
			t.AppendHeader(table.Row{"Image", "Destination", "Execution ID"})
			for _, result := range outcome.Results {
				t.AppendRow(table.Row{result.Image, result.Destination, result.ExecutionID})
			}
			t.AppendFooter(table.Row{fmt.Sprintf("%d submitted", len(outcome.Results)), "", ""})
		}
		t.Render()
		return nil

	case FormatJSON, FormatYAML:
		doc := outcomeDocument{
			Mode:    outcome.Mode,
			Images:  images,
			Results: outcome.Results,
		}
		var out []byte
		var err error
		if format == FormatJSON {
			out, err = json.MarshalIndent(doc, "", "  ")
		} else {
			out, err = yaml.Marshal(doc)
		}
		if err != nil {
			return fmt.Errorf("failed to marshal outcome: %w", err)
		}
		if format == FormatJSON {
			out = append(out, '\n')
		}
		_, err = w.Write(out)
		return err

	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
