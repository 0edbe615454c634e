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

package run

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"gotest.tools/v3/assert"
)

func testContext(t *testing.T) context.Context {
	return logr.NewContext(context.Background(), testr.New(t))
}

// clearEnvironment keeps variables of the surrounding environment out of the tests.
func clearEnvironment(t *testing.T) {
	for _, env := range envVars {
		t.Setenv(env, "")
	}
}

func newRegistryServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/repository", func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte(`{"repositories": [{"name": "A"}, {"name": "B"}]}`))
		assert.NilError(t, err)
	})
	mux.HandleFunc("/repository/biocontainers/A", func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte(`{"tags": {
			"v1": {"last_modified": "Fri, 14 Jun 2019 12:03:41 -0000"},
			"v2": {"last_modified": "Tue, 18 Jun 2019 08:00:00 -0000"}
		}}`))
		assert.NilError(t, err)
	})
	mux.HandleFunc("/repository/biocontainers/B", func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte(`{"tags": {"1.0": {"last_modified": "Mon, 01 Jul 2019 00:00:00 -0000"}}}`))
		assert.NilError(t, err)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newActorServer(t *testing.T) (*httptest.Server, *[]string) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		paths = append(paths, r.URL.Path)
		_, err := fmt.Fprintf(w, `{"result": {"executionId": "exec-%d"}}`, len(paths))
		assert.NilError(t, err)
	}))
	t.Cleanup(server.Close)
	return server, &paths
}

func newStorageDir(t *testing.T, files ...string) string {
	dir := t.TempDir()
	for _, f := range files {
		assert.NilError(t, os.WriteFile(filepath.Join(dir, f), nil, 0o644))
	}
	return dir
}

func runCommand(t *testing.T, args ...string) (string, error) {
	cmd, err := NewCommand()
	assert.NilError(t, err)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(testContext(t))
	return out.String(), err
}

func TestRun(t *testing.T) {
	registryServer := newRegistryServer(t)

	for _, tc := range []struct {
		name        string
		env         map[string]string
		args        []string
		expected    string
		submissions []string
	}{
		{
			name:     "list only from the message",
			env:      map[string]string{"MSG": `{"get_containers": true}`},
			expected: "A:v2\n",
		},
		{
			name:     "list only from a flag",
			args:     []string{"--get-containers"},
			expected: "A:v2\n",
		},
		{
			name:        "full reconcile",
			expected:    "A:v2 Mb0L6kVeR60pQ exec-1\n",
			submissions: []string{"/actors/v2/Mb0L6kVeR60pQ/messages"},
		},
		{
			name:        "plain string message runs the full reconcile",
			env:         map[string]string{"MSG": "hello"},
			expected:    "A:v2 Mb0L6kVeR60pQ exec-1\n",
			submissions: []string{"/actors/v2/Mb0L6kVeR60pQ/messages"},
		},
		{
			name:        "explicit dispatch to another actor",
			args:        []string{"--payload", `{"make_containers": ["C:v5"], "d2s_actor": "other"}`},
			expected:    "C:v5 other exec-1\n",
			submissions: []string{"/actors/v2/other/messages"},
		},
		{
			name:        "explicit dispatch from flags",
			args:        []string{"--make-containers", "C:v5,D:1.0"},
			expected:    "C:v5 Mb0L6kVeR60pQ exec-1\nD:1.0 Mb0L6kVeR60pQ exec-2\n",
			submissions: []string{"/actors/v2/Mb0L6kVeR60pQ/messages", "/actors/v2/Mb0L6kVeR60pQ/messages"},
		},
		{
			name:        "default destination from the environment",
			env:         map[string]string{"D2S_ACTOR_ID": "fromenv"},
			expected:    "A:v2 fromenv exec-1\n",
			submissions: []string{"/actors/v2/fromenv/messages"},
		},
		{
			name:     "json output",
			args:     []string{"--get-containers", "-o", "json"},
			expected: "{\n  \"mode\": \"list-only\",\n  \"images\": [\n    \"A:v2\"\n  ]\n}\n",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearEnvironment(t)
			actor, submissions := newActorServer(t)
			storage := newStorageDir(t, "A_v1.img.bz2", "B_1.0.img", "notes.txt")

			t.Setenv("REGISTRY_URL", registryServer.URL)
			t.Setenv("STORAGE_DIR", storage)
			t.Setenv("_abaco_api_server", actor.URL)
			t.Setenv("_abaco_access_token", "secret")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			out, err := runCommand(t, tc.args...)
			assert.NilError(t, err)
			assert.Equal(t, tc.expected, out)
			assert.DeepEqual(t, tc.submissions, *submissions)
		})
	}
}

func TestRunWithConfigFile(t *testing.T) {
	clearEnvironment(t)
	registryServer := newRegistryServer(t)
	storage := newStorageDir(t, "B_1.0.img")

	config := filepath.Join(t.TempDir(), "config.yaml")
	assert.NilError(t, os.WriteFile(config, []byte(fmt.Sprintf(`registryURL: %s
storageDir: %s
outputFormat: yaml
`, registryServer.URL, storage)), 0o644))

	out, err := runCommand(t, "--config", config, "--get-containers")
	assert.NilError(t, err)
	assert.Equal(t, "images:\n- A:v2\nmode: list-only\n", out)
}

func TestRunWithPayloadFile(t *testing.T) {
	clearEnvironment(t)
	actor, submissions := newActorServer(t)

	payload := filepath.Join(t.TempDir(), "payload.json")
	assert.NilError(t, os.WriteFile(payload, []byte(`{"make_containers": []}`), 0o644))

	out, err := runCommand(t,
		"--payload-file", payload,
		"--api-server", actor.URL,
		"--access-token", "secret",
		"--registry-url", "http://127.0.0.1:1",
	)
	assert.NilError(t, err)
	assert.Equal(t, "", out)
	assert.Equal(t, 0, len(*submissions))
}

func TestValidateErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		env      map[string]string
		args     []string
		expected string
	}{
		{
			name:     "missing access token",
			expected: "an access token is required to dispatch rebuilds (--access-token or $_abaco_access_token)",
		},
		{
			name:     "invalid output format",
			args:     []string{"--get-containers", "-o", "xml"},
			expected: "invalid output format 'xml': must be one of: text, table, json, yaml",
		},
		{
			name:     "invalid failure policy",
			env:      map[string]string{"FAILURE_POLICY": "retry"},
			args:     []string{"--get-containers"},
			expected: `invalid failure policy "retry": must be one of fail-fast, skip`,
		},
		{
			name:     "acr inventory without a registry",
			args:     []string{"--get-containers", "--inventory-source", "acr"},
			expected: "invalid configuration: acrRegistry is required for the acr inventory source",
		},
		{
			name:     "unknown inventory source",
			args:     []string{"--get-containers", "--inventory-source", "s3"},
			expected: `invalid configuration: invalid inventory source "s3": must be one of dir, acr`,
		},
		{
			name:     "non-positive timeout",
			args:     []string{"--get-containers", "--request-timeout", "0"},
			expected: "invalid configuration: requestTimeout must be positive, got 0",
		},
		{
			name:     "negative retries",
			args:     []string{"--get-containers", "--registry-retries", "-1"},
			expected: "invalid configuration: registryRetries must not be negative, got -1",
		},
		{
			name:     "registry url without scheme",
			args:     []string{"--get-containers", "--registry-url", "quay.io/api/v1"},
			expected: `invalid configuration: invalid registryURL "quay.io/api/v1": scheme must be http or https`,
		},
		{
			name:     "malformed message",
			env:      map[string]string{"MSG": `{"get_containers": `},
			expected: "invalid invocation message: failed to decode payload: unexpected end of JSON input",
		},
		{
			name:     "message of the wrong type",
			env:      map[string]string{"MSG": `{"make_containers": "A:v1"}`},
			expected: "invalid invocation message: make_containers must be a list of strings: json: cannot unmarshal string into Go value of type []string",
		},
		{
			name:     "image without a tag",
			args:     []string{"--access-token", "secret", "--make-containers", "A"},
			expected: `invalid invocation message: make_containers[0]: image reference "A" has no tag`,
		},
		{
			name:     "mode flags combined with a message",
			env:      map[string]string{"MSG": `{"get_containers": true}`},
			args:     []string{"--get-containers"},
			expected: "--get-containers, --make-containers and --d2s-actor cannot be combined with an invocation message",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearEnvironment(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := runCommand(t, tc.args...)
			assert.Error(t, err, tc.expected)
		})
	}
}
