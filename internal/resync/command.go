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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/image"
)

// Mode names the three kinds of work one invocation can do.
type Mode string

const (
	ModeList      Mode = "list-only"
	ModeDispatch  Mode = "explicit-dispatch"
	ModeReconcile Mode = "full-reconcile"
)

// Command is one of ListCommand, DispatchCommand or ReconcileCommand.
type Command interface {
	Mode() Mode
}

// ListCommand computes the resync set and submits nothing.
type ListCommand struct{}

// DispatchCommand submits exactly Images, without looking at the registry or local storage.
type DispatchCommand struct {
	Images      []string
	Destination string
}

// ReconcileCommand computes the resync set and submits it.
type ReconcileCommand struct {
	Destination string
}

func (ListCommand) Mode() Mode      { return ModeList }
func (DispatchCommand) Mode() Mode  { return ModeDispatch }
func (ReconcileCommand) Mode() Mode { return ModeReconcile }

// Payload holds the recognized options of an invocation message.
type Payload struct {
	GetContainers bool
	// MakeContainers is nil when the option is absent; an empty, non-nil list still selects
	// explicit dispatch and submits nothing.
	MakeContainers []string
	// D2SActor overrides the default destination when set.
	D2SActor string
}

// DecodePayload reads an invocation message. An empty message, or one that is not a JSON
// object (e.g. a plain string), carries no options. A JSON object that cannot be parsed, or
// a recognized option of the wrong type, is an error.
func DecodePayload(raw []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Payload{}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Payload{}, fmt.Errorf("failed to decode payload: %w", err)
	}

	var payload Payload
	if value, ok := fields["get_containers"]; ok && !isNull(value) {
		if err := json.Unmarshal(value, &payload.GetContainers); err != nil {
			return Payload{}, fmt.Errorf("get_containers must be a boolean: %w", err)
		}
	}
	if value, ok := fields["make_containers"]; ok && !isNull(value) {
		var images []string
		if err := json.Unmarshal(value, &images); err != nil {
			return Payload{}, fmt.Errorf("make_containers must be a list of strings: %w", err)
		}
		if images == nil {
			images = []string{}
		}
		payload.MakeContainers = images
	}
	if value, ok := fields["d2s_actor"]; ok && !isNull(value) {
		if err := json.Unmarshal(value, &payload.D2SActor); err != nil {
			return Payload{}, fmt.Errorf("d2s_actor must be a string: %w", err)
		}
		if payload.D2SActor == "" {
			return Payload{}, errors.New("d2s_actor must not be empty")
		}
	}

	return payload, nil
}

func isNull(value json.RawMessage) bool {
	return string(bytes.TrimSpace(value)) == "null"
}

// Command selects the mode. get_containers wins over make_containers; with neither the full
// reconcile runs.
func (p Payload) Command(defaultDestination string) (Command, error) {
	destination := defaultDestination
	if p.D2SActor != "" {
		destination = p.D2SActor
	}

	switch {
	case p.GetContainers:
		return ListCommand{}, nil
	case p.MakeContainers != nil:
		for i, img := range p.MakeContainers {
			if _, err := image.ParseRef(img); err != nil {
				return nil, fmt.Errorf("make_containers[%d]: %w", i, err)
			}
		}
		return DispatchCommand{Images: p.MakeContainers, Destination: destination}, nil
	default:
		return ReconcileCommand{Destination: destination}, nil
	}
}

// DecodeCommand is DecodePayload followed by Payload.Command.
func DecodeCommand(raw []byte, defaultDestination string) (Command, error) {
	payload, err := DecodePayload(raw)
	if err != nil {
		return nil, err
	}
	return payload.Command(defaultDestination)
}
