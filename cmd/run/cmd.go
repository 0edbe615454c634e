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
	"github.com/spf13/cobra"
)

func NewCommand() (*cobra.Command, error) {
	opts := DefaultOptions()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile local images against the registry and dispatch rebuilds",
		Long: `run compares the newest tag of every repository in the registry namespace with the
images present in local storage and submits one rebuild request per missing image.

The invocation message (--payload, --payload-file or the MSG environment variable) selects the mode:
  {"get_containers": true}           only print the images that need a rebuild
  {"make_containers": ["name:tag"]}  submit exactly these images
  {"d2s_actor": "<actor id>"}        submit to another destination
Without a message the full reconcile runs and submits to the default destination.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	if err := BindOptions(opts, cmd); err != nil {
		return nil, err
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts.Out = cmd.OutOrStdout()
		validated, err := opts.Validate(cmd.Context())
		if err != nil {
			return err
		}
		completed, err := validated.Complete(cmd.Context())
		if err != nil {
			return err
		}

		return completed.Run(cmd.Context())
	}

	return cmd, nil
}
