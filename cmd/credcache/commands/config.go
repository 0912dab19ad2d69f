package commands

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/credcache/internal/app"
)

// envPrefix is stripped from environment variables during config loading (e.g., CREDCACHE_CACHE__DIR → cache.dir)
const envPrefix = "CREDCACHE_"

// loadConfig loads application configuration from various sources with precedence:
// config file → env file → environment variables → CLI flags → defaults
func loadConfig(configPath, envFile string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	// 1. Load from config file if provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// 2. Variables from the env file, overridden by the real environment
	environFunc, err := resolveEnviron(envFile, environFunc)
	if err != nil {
		return nil, err
	}

	// 3. Load from environment variables
	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			stripped := strings.TrimPrefix(key, envPrefix)
			nested := strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
			return nested, value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	// 4. Load from CLI flags if provided
	if cmd != nil {
		flagValues := extractAndTransformFlags(cmd)
		if err := k.Load(confmap.Provider(flagValues, "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// resolveEnviron layers the env file, if any, under environFunc. The result is what
// both the configuration and the env token backend read.
func resolveEnviron(envFile string, environFunc func() []string) (func() []string, error) {
	if envFile == "" {
		return environFunc, nil
	}
	fileEnv, err := godotenv.Read(envFile)
	if err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	return withEnvFile(environFunc, fileEnv), nil
}

// withEnvFile returns an environ function listing the env file entries before the
// process environment, so real variables win when both define a key.
func withEnvFile(environFunc func() []string, fileEnv map[string]string) func() []string {
	return func() []string {
		environ := make([]string, 0, len(fileEnv))
		for key, value := range fileEnv {
			environ = append(environ, key+"="+value)
		}
		return append(environ, environFunc()...)
	}
}

// configFlags lists the flags that map onto the configuration. Flag names follow the
// config structure: --cache--dir → cache.dir, --log-level → log_level
var configFlags = map[string]bool{
	"log-level":                true,
	"log-format":               true,
	"telemetry--exporter":      true,
	"cache--dir":               true,
	"storage--backend":         true,
	"storage--keyring-service": true,
	"storage--env-prefix":      true,
}

// extractAndTransformFlags transforms CLI flag names to match config structure.
// Includes parent flags. Examples: --cache--dir → cache.dir, --log-level → log_level
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	// FlagNames() includes flags from parent commands (via lineage)
	for _, name := range cmd.FlagNames() {
		// Command-specific flags such as --client-id are not configuration
		if !configFlags[name] {
			continue
		}
		// Skip unset flags to preserve precedence from earlier config sources
		if !cmd.IsSet(name) {
			continue
		}

		if value := cmd.Value(name); value != nil {
			key := strings.ReplaceAll(name, "--", ".")
			key = strings.ReplaceAll(key, "-", "_")
			values[key] = value
		}
	}

	return values
}
