package config

import (
	"errors"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"autopilot/internal/fullauto"
	"autopilot/internal/store"
)

const defaultDaemonAddress = "127.0.0.1:7171"

type CoreConfig struct {
	Daemon  CoreDaemonConfig    `toml:"daemon"`
	Logging CoreLoggingConfig   `toml:"logging"`
	Store   CoreStoreConfig     `toml:"store"`
	Loop    fullauto.LoopConfig `toml:"loop"`
	Model   CoreCommandConfig   `toml:"model"`
	Agent   CoreCommandConfig   `toml:"agent"`
}

type CoreDaemonConfig struct {
	Address string `toml:"address"`
}

type CoreLoggingConfig struct {
	Level string `toml:"level"`
}

type CoreStoreConfig struct {
	Backend string `toml:"backend"`
}

// CoreCommandConfig names an external executable plus its fixed
// arguments. The model and agent collaborators are both driven this way.
type CoreCommandConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Daemon: CoreDaemonConfig{
			Address: defaultDaemonAddress,
		},
		Logging: CoreLoggingConfig{
			Level: "info",
		},
		Store: CoreStoreConfig{
			Backend: store.RepositoryBackendBbolt,
		},
		Loop: fullauto.DefaultLoopConfig(),
	}
}

func LoadCoreConfig() (CoreConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		return CoreConfig{}, err
	}
	return loadCoreConfigFromPath(path)
}

func (c CoreConfig) DaemonAddress() string {
	addr := strings.TrimSpace(c.Daemon.Address)
	if addr == "" {
		return defaultDaemonAddress
	}
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return defaultDaemonAddress
	}
	return addr
}

func (c CoreConfig) DaemonBaseURL() string {
	return "http://" + c.DaemonAddress()
}

func (c CoreConfig) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func (c CoreConfig) StoreBackend() string {
	backend := strings.TrimSpace(c.Store.Backend)
	if backend == "" {
		return store.RepositoryBackendBbolt
	}
	return backend
}

func (c CoreConfig) LoopConfig() fullauto.LoopConfig {
	return fullauto.NormalizeLoopConfig(c.Loop)
}

func (c CoreConfig) ModelCommand() (string, []string) {
	return strings.TrimSpace(c.Model.Command), append([]string(nil), c.Model.Args...)
}

func (c CoreConfig) AgentCommand() (string, []string) {
	return strings.TrimSpace(c.Agent.Command), append([]string(nil), c.Agent.Args...)
}

func loadCoreConfigFromPath(path string) (CoreConfig, error) {
	cfg := DefaultCoreConfig()
	if err := readTOML(path, &cfg); err != nil {
		return CoreConfig{}, err
	}
	return cfg, nil
}

// readTOML tolerates a missing or empty file: defaults apply until the
// user writes a config.
func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}
