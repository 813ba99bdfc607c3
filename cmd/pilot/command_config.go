package main

import (
	"encoding/json"
	"errors"
	"flag"
	"io"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"autopilot/internal/config"
	"autopilot/internal/fullauto"
)

type ConfigCommand struct {
	stdout io.Writer
	stderr io.Writer
}

const (
	configFormatJSON = "json"
	configFormatTOML = "toml"
)

type configOutput struct {
	ConfigPath string                 `json:"config_path" toml:"config_path"`
	Daemon     effectiveDaemonConfig  `json:"daemon" toml:"daemon"`
	Logging    effectiveLoggingConfig `json:"logging" toml:"logging"`
	Store      effectiveStoreConfig   `json:"store" toml:"store"`
	Loop       fullauto.LoopConfig    `json:"loop" toml:"loop"`
	Model      effectiveCommandConfig `json:"model" toml:"model"`
	Agent      effectiveCommandConfig `json:"agent" toml:"agent"`
}

type effectiveDaemonConfig struct {
	Address string `json:"address" toml:"address"`
	BaseURL string `json:"base_url" toml:"base_url"`
}

type effectiveLoggingConfig struct {
	Level string `json:"level" toml:"level"`
}

type effectiveStoreConfig struct {
	Backend string `json:"backend" toml:"backend"`
}

type effectiveCommandConfig struct {
	Command string   `json:"command,omitempty" toml:"command,omitempty"`
	Args    []string `json:"args,omitempty" toml:"args,omitempty"`
}

func NewConfigCommand(stdout, stderr io.Writer) *ConfigCommand {
	return &ConfigCommand{
		stdout: stdout,
		stderr: stderr,
	}
}

func (c *ConfigCommand) Run(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	defaults := fs.Bool("default", false, "print default config values")
	format := fs.String("format", configFormatJSON, "output format: json|toml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resolvedFormat, err := resolveConfigFormat(*format)
	if err != nil {
		return err
	}
	payload, err := buildConfigOutput(*defaults)
	if err != nil {
		return err
	}
	return writeConfigOutput(c.stdout, resolvedFormat, payload)
}

func buildConfigOutput(defaults bool) (configOutput, error) {
	configPath, err := config.ConfigPath()
	if err != nil {
		return configOutput{}, err
	}
	var cfg config.CoreConfig
	if defaults {
		cfg = config.DefaultCoreConfig()
	} else {
		cfg, err = config.LoadCoreConfig()
		if err != nil {
			return configOutput{}, err
		}
	}
	modelCommand, modelArgs := cfg.ModelCommand()
	agentCommand, agentArgs := cfg.AgentCommand()
	return configOutput{
		ConfigPath: configPath,
		Daemon: effectiveDaemonConfig{
			Address: cfg.DaemonAddress(),
			BaseURL: cfg.DaemonBaseURL(),
		},
		Logging: effectiveLoggingConfig{
			Level: cfg.LogLevel(),
		},
		Store: effectiveStoreConfig{
			Backend: cfg.StoreBackend(),
		},
		Loop: cfg.LoopConfig(),
		Model: effectiveCommandConfig{
			Command: modelCommand,
			Args:    modelArgs,
		},
		Agent: effectiveCommandConfig{
			Command: agentCommand,
			Args:    agentArgs,
		},
	}, nil
}

func writeConfigOutput(out io.Writer, format string, payload any) error {
	switch format {
	case configFormatJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(payload)
	case configFormatTOML:
		data, err := toml.Marshal(payload)
		if err != nil {
			return err
		}
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		_, err = out.Write(data)
		return err
	default:
		return errors.New("unsupported format")
	}
}

func resolveConfigFormat(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", configFormatJSON:
		return configFormatJSON, nil
	case configFormatTOML:
		return configFormatTOML, nil
	default:
		return "", errors.New("invalid format: must be json or toml")
	}
}
