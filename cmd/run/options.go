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
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/dispatch"
	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/inventory"
	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/registry"
	"github.com/Azure/ARO-HCP/tooling/image-resync/internal/resync"
)

const (
	DefaultNamespace          = "biocontainers"
	DefaultRegistryHost       = "quay.io"
	DefaultStorageDir         = "/work/projects/singularity/TACC/biocontainers/"
	DefaultDestination        = "Mb0L6kVeR60pQ"
	DefaultAPIServer          = "https://api.sd2e.org"
	DefaultRequestTimeout     = 30
	InventorySourceDirectory  = "dir"
	InventorySourceACR        = "acr"
	DefaultInventorySource    = InventorySourceDirectory
	DefaultFailurePolicy      = string(inventory.FailFast)
	DefaultOutputFormat       = string(resync.FormatText)
	defaultRegistryRetryCount = 0
)

// Config holds the settings read from flags, environment and the optional config file.
type Config struct {
	Namespace               string
	RegistryURL             string
	RegistryHost            string
	StorageDir              string
	InventorySource         string
	ACRRegistry             string
	ACRRepositoryPrefix     string
	ManagedIdentityClientID string
	DefaultDestination      string
	APIServer               string
	AccessToken             string
	RequestTimeout          int
	RegistryRetries         int
	FailurePolicy           string
	OutputFormat            string
	Payload                 string
}

// envVars maps config keys to environment variables. The actor runtime supplies the message,
// token and API server as MSG, _abaco_access_token and _abaco_api_server.
var envVars = map[string]string{
	"namespace":               "REGISTRY_NAMESPACE",
	"registryURL":             "REGISTRY_URL",
	"registryHost":            "REGISTRY_HOST",
	"storageDir":              "STORAGE_DIR",
	"inventorySource":         "INVENTORY_SOURCE",
	"acrRegistry":             "ACR_REGISTRY",
	"acrRepositoryPrefix":     "ACR_REPOSITORY_PREFIX",
	"managedIdentityClientID": "MANAGED_IDENTITY_CLIENT_ID",
	"defaultDestination":      "D2S_ACTOR_ID",
	"apiServer":               "_abaco_api_server",
	"accessToken":             "_abaco_access_token",
	"requestTimeout":          "REQUEST_TIMEOUT",
	"registryRetries":         "REGISTRY_RETRIES",
	"failurePolicy":           "FAILURE_POLICY",
	"outputFormat":            "OUTPUT_FORMAT",
	"payload":                 "MSG",
}

// flagKeys maps flags to the config keys they override.
var flagKeys = map[string]string{
	"namespace":             "namespace",
	"registry-url":          "registryURL",
	"registry-host":         "registryHost",
	"storage-dir":           "storageDir",
	"inventory-source":      "inventorySource",
	"acr-registry":          "acrRegistry",
	"acr-repository-prefix": "acrRepositoryPrefix",
	"default-destination":   "defaultDestination",
	"api-server":            "apiServer",
	"access-token":          "accessToken",
	"request-timeout":       "requestTimeout",
	"registry-retries":      "registryRetries",
	"failure-policy":        "failurePolicy",
	"output":                "outputFormat",
	"payload":               "payload",
}

// RawOptions contains the raw command-line input
type RawOptions struct {
	ConfigFile     string
	PayloadFile    string
	GetContainers  bool
	MakeContainers []string
	D2SActor       string
	Out            io.Writer

	viper *viper.Viper
	flags *pflag.FlagSet
}

type validatedOptions struct {
	*RawOptions
	Config  *Config
	Command resync.Command
	Format  resync.Format
	Policy  inventory.FailurePolicy
}

// ValidatedOptions contains validated configuration and inputs
type ValidatedOptions struct {
	*validatedOptions
}

// Options is ready to run.
type Options struct {
	Orchestrator *resync.Orchestrator
	Command      resync.Command
	Format       resync.Format
	Out          io.Writer
}

// DefaultOptions returns a new RawOptions with defaults
func DefaultOptions() *RawOptions {
	v := viper.New()
	v.SetDefault("namespace", DefaultNamespace)
	v.SetDefault("registryURL", registry.DefaultBaseURL)
	v.SetDefault("registryHost", DefaultRegistryHost)
	v.SetDefault("storageDir", DefaultStorageDir)
	v.SetDefault("inventorySource", DefaultInventorySource)
	v.SetDefault("defaultDestination", DefaultDestination)
	v.SetDefault("apiServer", DefaultAPIServer)
	v.SetDefault("requestTimeout", DefaultRequestTimeout)
	v.SetDefault("registryRetries", defaultRegistryRetryCount)
	v.SetDefault("failurePolicy", DefaultFailurePolicy)
	v.SetDefault("outputFormat", DefaultOutputFormat)

	return &RawOptions{
		Out:   os.Stdout,
		viper: v,
	}
}

// BindOptions binds command-line flags to the raw options
func BindOptions(opts *RawOptions, cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.StringVarP(&opts.ConfigFile, "config", "c", "", "Path to a YAML configuration file")
	flags.StringVar(&opts.PayloadFile, "payload-file", "", "Read the invocation message from this file instead of --payload/MSG")
	flags.BoolVar(&opts.GetContainers, "get-containers", false, "Only list the images that need a rebuild (same as {\"get_containers\": true})")
	flags.StringSliceVar(&opts.MakeContainers, "make-containers", nil, "Submit exactly these name:tag images (same as {\"make_containers\": [...]})")
	flags.StringVar(&opts.D2SActor, "d2s-actor", "", "Destination actor for this run (same as {\"d2s_actor\": \"...\"})")

	flags.String("namespace", DefaultNamespace, "Registry namespace holding the repositories")
	flags.String("registry-url", registry.DefaultBaseURL, "Base URL of the registry API")
	flags.String("registry-host", DefaultRegistryHost, "Registry host used in the image locators sent to the rebuild actor")
	flags.String("storage-dir", DefaultStorageDir, "Directory holding the local .img and .img.bz2 files")
	flags.String("inventory-source", DefaultInventorySource, "Where the local inventory comes from: dir or acr")
	flags.String("acr-registry", "", "Azure Container Registry holding the mirrored images, e.g. example.azurecr.io (inventory-source=acr)")
	flags.String("acr-repository-prefix", "", "Repository prefix of the mirrored images in the Azure Container Registry")
	flags.String("default-destination", DefaultDestination, "Actor receiving rebuild requests unless the message names another")
	flags.String("api-server", DefaultAPIServer, "Base URL of the actors API")
	flags.String("access-token", "", "Bearer token for the actors API (defaults to $_abaco_access_token)")
	flags.Int("request-timeout", DefaultRequestTimeout, "Timeout in seconds of every HTTP request")
	flags.Int("registry-retries", defaultRegistryRetryCount, "Retries of failed registry reads (5xx, 429, transport errors); 0 disables retrying")
	flags.String("failure-policy", DefaultFailurePolicy, "What to do when a repository's tags cannot be read: fail-fast or skip")
	flags.StringP("output", "o", DefaultOutputFormat, "Output format: text, table, json or yaml")
	flags.String("payload", "", "Invocation message as JSON (defaults to $MSG)")

	for flag, key := range flagKeys {
		if err := opts.viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	opts.flags = flags
	return nil
}

// Validate loads the configuration and decodes the invocation message
func (o *RawOptions) Validate(ctx context.Context) (*ValidatedOptions, error) {
	logger, err := logr.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("logger not found in context: %w", err)
	}

	if o.ConfigFile != "" {
		o.viper.SetConfigFile(o.ConfigFile)
		if err := o.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", o.ConfigFile, err)
		}
	}
	for key, env := range envVars {
		if err := o.viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable %s: %w", env, err)
		}
	}

	var cfg Config
	if err := o.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	format, err := resync.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	policy, err := inventory.ParseFailurePolicy(cfg.FailurePolicy)
	if err != nil {
		return nil, err
	}

	payload, err := o.payload(&cfg)
	if err != nil {
		return nil, err
	}
	command, err := payload.Command(cfg.DefaultDestination)
	if err != nil {
		return nil, fmt.Errorf("invalid invocation message: %w", err)
	}

	if command.Mode() != resync.ModeList && cfg.AccessToken == "" {
		return nil, fmt.Errorf("an access token is required to dispatch rebuilds (--access-token or $%s)", envVars["accessToken"])
	}

	logger.V(1).Info("using configuration",
		"namespace", cfg.Namespace,
		"registryURL", cfg.RegistryURL,
		"inventorySource", cfg.InventorySource,
		"apiServer", cfg.APIServer,
		"mode", command.Mode(),
		"failurePolicy", policy)

	return &ValidatedOptions{
		validatedOptions: &validatedOptions{
			RawOptions: o,
			Config:     &cfg,
			Command:    command,
			Format:     format,
			Policy:     policy,
		},
	}, nil
}

// payload returns the invocation message from the mode flags, the payload file, or the
// payload setting, in that order. Mode flags cannot be combined with a message.
func (o *RawOptions) payload(cfg *Config) (resync.Payload, error) {
	modeFlagsSet := false
	if o.flags != nil {
		for _, flag := range []string{"get-containers", "make-containers", "d2s-actor"} {
			modeFlagsSet = modeFlagsSet || o.flags.Changed(flag)
		}
	}

	raw := []byte(cfg.Payload)
	if o.PayloadFile != "" {
		content, err := os.ReadFile(o.PayloadFile)
		if err != nil {
			return resync.Payload{}, fmt.Errorf("failed to read payload file: %w", err)
		}
		raw = content
	}

	if modeFlagsSet {
		if len(strings.TrimSpace(string(raw))) != 0 {
			return resync.Payload{}, errors.New("--get-containers, --make-containers and --d2s-actor cannot be combined with an invocation message")
		}
		payload := resync.Payload{
			GetContainers: o.GetContainers,
			D2SActor:      o.D2SActor,
		}
		if o.flags.Changed("make-containers") {
			payload.MakeContainers = append([]string{}, o.MakeContainers...)
		}
		return payload, nil
	}

	payload, err := resync.DecodePayload(raw)
	if err != nil {
		return resync.Payload{}, fmt.Errorf("invalid invocation message: %w", err)
	}
	return payload, nil
}

// validateConfig ensures the configuration is complete and valid
func validateConfig(cfg *Config) error {
	if cfg.Namespace == "" {
		return errors.New("namespace is required")
	}
	if _, err := name.NewRegistry(cfg.RegistryHost, name.StrictValidation); err != nil {
		return fmt.Errorf("invalid registry host %q: %w", cfg.RegistryHost, err)
	}
	if _, err := name.NewRepository(cfg.RegistryHost+"/"+cfg.Namespace, name.StrictValidation); err != nil {
		return fmt.Errorf("invalid namespace %q: %w", cfg.Namespace, err)
	}
	for setting, value := range map[string]string{"registryURL": cfg.RegistryURL, "apiServer": cfg.APIServer} {
		u, err := url.Parse(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", setting, value, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid %s %q: scheme must be http or https", setting, value)
		}
	}

	switch cfg.InventorySource {
	case InventorySourceDirectory:
		if cfg.StorageDir == "" {
			return errors.New("storageDir is required for the dir inventory source")
		}
	case InventorySourceACR:
		if cfg.ACRRegistry == "" {
			return errors.New("acrRegistry is required for the acr inventory source")
		}
	default:
		return fmt.Errorf("invalid inventory source %q: must be one of %s, %s", cfg.InventorySource, InventorySourceDirectory, InventorySourceACR)
	}

	if cfg.DefaultDestination == "" {
		return errors.New("defaultDestination is required")
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("requestTimeout must be positive, got %d", cfg.RequestTimeout)
	}
	if cfg.RegistryRetries < 0 {
		return fmt.Errorf("registryRetries must not be negative, got %d", cfg.RegistryRetries)
	}
	return nil
}

// Complete creates the registry, inventory and dispatch clients
func (v *ValidatedOptions) Complete(ctx context.Context) (*Options, error) {
	timeout := time.Duration(v.Config.RequestTimeout) * time.Second

	catalogue := registry.NewQuayClient(strings.TrimSuffix(v.Config.RegistryURL, "/"), v.Config.Namespace, timeout, uint64(v.Config.RegistryRetries))

	var source inventory.Source
	switch v.Config.InventorySource {
	case InventorySourceACR:
		acrSource, err := inventory.NewACRSource(v.Config.ACRRegistry, v.Config.ACRRepositoryPrefix, v.Config.ManagedIdentityClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to create inventory source: %w", err)
		}
		source = acrSource
	default:
		source = inventory.NewDirSource(v.Config.StorageDir)
	}

	dispatcher := dispatch.NewDispatcher(v.Config.APIServer, v.Config.AccessToken, v.Config.RegistryHost, v.Config.Namespace, timeout)

	return &Options{
		Orchestrator: resync.NewOrchestrator(catalogue, source, dispatcher, v.Policy),
		Command:      v.Command,
		Format:       v.Format,
		Out:          v.Out,
	}, nil
}

// Run executes the command and writes the outcome
func (o *Options) Run(ctx context.Context) error {
	outcome, err := o.Orchestrator.Run(ctx, o.Command)
	if err != nil {
		return err
	}
	if err := resync.WriteOutcome(o.Out, outcome, o.Format); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
