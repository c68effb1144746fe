package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/eval-hub/model-arena/internal/constants"
	"github.com/eval-hub/model-arena/pkg/api"
	"github.com/spf13/viper"
)

type EnvMap struct {
	EnvMappings map[string]string `mapstructure:"env_mappings,omitempty"`
}

type SecretMap struct {
	Dir      string            `mapstructure:"dir,omitempty"`
	Mappings map[string]string `mapstructure:"mappings,omitempty"`
}

// readConfig locates and reads a configuration file using Viper. It searches for
// a file named "{name}.{ext}" in each of the given directories in order; the first
// found file is read. The returned Viper instance contains the parsed config and
// can be used for further unmarshaling or env binding.
//
// Parameters:
//   - logger: Logger for config load messages (success and failure).
//   - name: Config file base name without extension (e.g., "config").
//   - ext: Config file extension/type (e.g., "yaml"); used by Viper as config type.
//   - dirs: One or more directories to search for the file; first match wins.
//
// Returns:
//   - *viper.Viper: Viper instance with the config loaded, or a new Viper if no file was read.
//   - error: Non-nil if no config file was found in any dir or if reading failed.
func readConfig(logger *slog.Logger, name string, ext string, dirs ...string) (*viper.Viper, error) {
	logger.Info("Reading the configuration file", "file", fmt.Sprintf("%s.%s", name, ext), "dirs", fmt.Sprintf("%v", dirs))

	configValues := viper.New()

	configValues.SetConfigName(name) // name of config file (without extension)
	configValues.SetConfigType(ext)  // REQUIRED if the config file does not have the extension in the name
	for _, dir := range dirs {
		configValues.AddConfigPath(dir)
	}
	err := configValues.ReadInConfig() // Find and read the config file

	if err != nil {
		logger.Error("Failed to read the configuration file", "file", fmt.Sprintf("%s.%s", name, ext), "dirs", fmt.Sprintf("%v", dirs), "error", err.Error())
	} else {
		logger.Info("Read the configuration file", "file", configValues.ConfigFileUsed())
	}

	return configValues, err
}

var (
	participantDirs = []string{"config/participants", "./config/participants", "../../config/participants"}

	palette = []string{
		"#10b981", "#f97316", "#3b82f6", "#a855f7", "#ef4444",
		"#14b8a6", "#f59e0b", "#6366f1", "#ec4899", "#22d3ee",
	}

	localMode = flag.Bool("local", false, "Server operates in local mode or not.")
)

func loadParticipant(logger *slog.Logger, file string, dirs ...string) (api.ParticipantResource, error) {
	participantConfig := api.ParticipantResource{}
	configValues, err := readConfig(logger, file, "yaml", dirs...)
	if err != nil {
		return participantConfig, err
	}

	if err := configValues.Unmarshal(&participantConfig); err != nil {
		return participantConfig, err
	}
	return participantConfig, nil
}

func scanFolders(logger *slog.Logger, dirs ...string) (string, []os.DirEntry) {
	for _, dir := range dirs {
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		return dir, files
	}
	logger.Warn("No participants found", "directories", dirs)
	return "", []os.DirEntry{}
}

// LoadParticipantConfigs reads one participant per yaml file from the first participants
// directory found. The display name, provider and color are derived from the model id
// when the file does not set them.
func LoadParticipantConfigs(logger *slog.Logger, dirs ...string) ([]api.ParticipantResource, error) {
	if len(dirs) == 0 {
		dirs = participantDirs
	}
	participants := []api.ParticipantResource{}
	seen := map[string]bool{}
	dir, files := scanFolders(logger, dirs...)
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(file.Name(), ".yaml")
		participant, err := loadParticipant(logger, name, dir)
		if err != nil {
			return nil, err
		}

		if participant.ID == "" {
			participant.ID = participant.Model
		}
		if participant.ID == "" {
			logger.Warn("Participant config missing id and model, skipping", "file", file.Name())
			continue
		}
		if seen[participant.ID] {
			return nil, fmt.Errorf("duplicate participant id %s in %s", participant.ID, file.Name())
		}
		seen[participant.ID] = true
		if participant.Model == "" {
			participant.Model = participant.ID
		}
		if participant.Kind == "" {
			participant.Kind = api.ParticipantKindOpenRouter
		}
		if participant.Name == "" {
			participant.Name = DeriveName(participant.Model)
		}
		if participant.Provider == "" {
			participant.Provider = DeriveProvider(participant.Model)
		}
		if participant.Color == "" {
			participant.Color = palette[len(participants)%len(palette)]
		}

		participants = append(participants, participant)
		logger.Info("Participant loaded", "participant_id", participant.ID, "kind", participant.Kind)
	}

	return participants, nil
}

// DeriveName turns a model id into a display name, "openai/gpt-4o-mini" becomes "Gpt-4o-Mini".
func DeriveName(modelID string) string {
	slug := modelID
	if _, after, found := strings.Cut(modelID, "/"); found {
		slug = after
	}
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, "-")
}

// DeriveProvider turns the prefix of a model id into a provider name, "openai/gpt-4o" becomes "OpenAI".
func DeriveProvider(modelID string) string {
	prefix, _, _ := strings.Cut(modelID, "/")
	switch prefix {
	case "meta-llama":
		return "Meta"
	case "":
		return ""
	}
	if strings.HasSuffix(prefix, "ai") && len(prefix) > 2 {
		return strings.ToUpper(prefix[:1]) + prefix[1:len(prefix)-2] + "AI"
	}
	return strings.ToUpper(prefix[:1]) + prefix[1:]
}

// LoadConfig loads configuration using a two-tier system with Viper. This implements
// a loading strategy that supports cascading configuration values and multiple sources.
//
// Configuration loading order (later sources override earlier ones):
//  1. config.yaml (config/config.yaml) - Configuration loaded first
//  2. The operator config file named by CONFIG_PATH, merged over the base config.
//     Its secrets section replaces the bundled one instead of being merged.
//  3. Environment variables - Mapped via env_mappings configuration
//  4. Secrets from files - Mapped via secrets.mappings with secrets.dir
//
// Configuration supports:
//   - Environment variable mapping: Define in env_mappings (e.g., PORT → service.port)
//   - Secrets from files: Define in secrets.mappings with secrets.dir (e.g., /tmp/openrouter_api_key → openrouter.api_key)
//   - Optional secrets: Append :optional to the secret file name to mark it as optional.
//     If an optional secret file doesn't exist, no error is logged and the configuration
//     continues loading without that secret value.
//
// Example configuration structure:
//
//	env_mappings:
//	  port: service.port
//	secrets:
//	  dir: /var/run/secrets/arena
//	  mappings:
//	    openrouter_api_key:optional: openrouter.api_key
//
// Parameters:
//   - logger: The logger for configuration loading messages
//   - dirs: Optional directories searched for config.yaml instead of the default ones
//
// Returns:
//   - *Config: The loaded configuration with all sources applied
//   - error: An error if configuration cannot be loaded or is invalid
func LoadConfig(logger *slog.Logger, version string, build string, buildDate string, dirs ...string) (*Config, error) {
	if len(dirs) == 0 {
		dirs = []string{"config", "./config", "../../config"}
	}
	configValues, err := readConfig(logger, "config", "yaml", dirs...)
	if err != nil {
		return nil, err
	}

	if operatorConfig := os.Getenv(constants.EnvVarConfigPath); operatorConfig != "" {
		configValues, err = mergeOperatorConfig(logger, configValues, operatorConfig)
		if err != nil {
			return nil, err
		}
	}

	// set up the secrets from the secrets directory
	secrets := struct {
		Secrets SecretMap `mapstructure:"secrets"`
	}{}
	if err := configValues.Unmarshal(&secrets); err != nil {
		return nil, err
	}
	if secrets.Secrets.Dir != "" {
		// check that the secrets directory exists
		if _, err := os.Stat(secrets.Secrets.Dir); !os.IsNotExist(err) {
			for fileName, fieldName := range secrets.Secrets.Mappings {
				// the secret file name can be optional by appending :optional to the file name
				optional := strings.HasSuffix(fileName, ":optional")
				if optional {
					fileName = strings.TrimSuffix(fileName, ":optional")
				}
				secret, err := getSecret(secrets.Secrets.Dir, fileName, optional)
				if err != nil {
					// log the error and fail the startup (by returning the error)
					logger.Error("Failed to read secret file", "file", fmt.Sprintf("%s/%s", secrets.Secrets.Dir, fileName), "error", err.Error())
					return nil, err
				}
				if secret != "" {
					configValues.Set(fieldName, strings.TrimSpace(secret))
				}
			}
		}
	}
	// set up the environment variable mappings
	envMappings := EnvMap{}
	if err := configValues.Unmarshal(&envMappings); err != nil {
		return nil, err
	}
	for envName, field := range envMappings.EnvMappings {
		if err := configValues.BindEnv(field, strings.ToUpper(envName)); err != nil {
			return nil, err
		}
		logger.Info("Mapped environment variable", "field_name", field, "env_name", envName)
	}

	if !flag.Parsed() {
		flag.Parse()
	}

	conf := Config{}
	if err := configValues.Unmarshal(&conf); err != nil {
		return nil, err
	}
	conf.applyDefaults()

	// set the version, build, and build date
	conf.Service.Version = version
	conf.Service.Build = build
	conf.Service.BuildDate = buildDate
	conf.Service.LocalMode = conf.Service.LocalMode || *localMode
	return &conf, nil
}

// mergeOperatorConfig merges the config file mounted by an operator over the bundled
// configuration and returns the merged values in a new viper instance. The secrets
// section is taken as a whole from the operator file so that bundled secret mappings
// that do not exist in the deployment are not read.
func mergeOperatorConfig(logger *slog.Logger, configValues *viper.Viper, path string) (*viper.Viper, error) {
	operatorValues := viper.New()
	operatorValues.SetConfigFile(path)
	if err := operatorValues.ReadInConfig(); err != nil {
		logger.Error("Failed to read the operator configuration file", "file", path, "error", err.Error())
		return nil, err
	}
	settings := configValues.AllSettings()
	if operatorValues.IsSet("secrets") {
		delete(settings, "secrets")
	}
	merged := viper.New()
	if err := merged.MergeConfigMap(settings); err != nil {
		return nil, err
	}
	if err := merged.MergeConfigMap(operatorValues.AllSettings()); err != nil {
		return nil, err
	}
	logger.Info("Merged the operator configuration file", "file", path)
	return merged, nil
}

// getSecret reads a secret from a file and returns the value as a string.
// If the file does not exist and optional is false, it logs an error and returns an empty string.
// If the file does not exist and optional is true, it silently returns an empty string.
// If the file cannot be read (permissions, etc.), it always logs an error and returns an empty string.
//
// Parameters:
//   - logger: The logger for logging messages
//   - secretsDir: The directory containing the secret files
//   - secretName: The name of the secret file
//   - optional: If true, missing files won't generate error logs
//
// Returns:
//   - string: The value of the secret as a string, or empty string if file doesn't exist or cannot be read
func getSecret(secretsDir string, secretName string, optional bool) (string, error) {
	// this is the full name of the secrets file to read
	secret, err := os.ReadFile(fmt.Sprintf("%s/%s", secretsDir, secretName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && optional {
			return "", nil
		}
		return "", err
	}
	return string(secret), nil
}
