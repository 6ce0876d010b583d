// Package config holds the agent's two configuration sources: Local, a
// YAML file on disk holding operational bootstrap settings the agent
// needs before it can talk to anything, and Remote, the ingest policy
// fetched from the host and refreshed periodically.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Local is the on-disk config the agent reads at startup, before it has
// ever talked to the host. Everything the host can dictate instead
// lives in Remote.
type Local struct {
	// HostURL is the catalog server this agent reports to. Normally
	// supplied on the command line and only persisted here so a restart
	// without arguments can recall it.
	HostURL string `yaml:"host_url"`

	// StateDir holds agent_cache.db and agent.log (default ~/.medialib).
	StateDir string `yaml:"state_dir"`

	// LogLevel controls the runtime-mutable slog level: debug, info,
	// warn, error.
	LogLevel string `yaml:"log_level"`

	// ControlPort is the bind port for the agent-facing HTTP surface.
	ControlPort int `yaml:"control_port"`

	// FFprobePath is the path to the ffprobe binary.
	FFprobePath string `yaml:"ffprobe_path"`

	// MinWorkers/MaxWorkers bound the adaptive permit pool; Remote's
	// agent_max_workers is clamped into this range rather than
	// overriding it outright, so a misbehaving host config can't exceed
	// operator-set limits on this machine.
	MinWorkers int `yaml:"min_workers"`
	MaxWorkers int `yaml:"max_workers"`
}

// DefaultLocal returns a Local config with sensible defaults.
func DefaultLocal() *Local {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Local{
		StateDir:    filepath.Join(home, ".medialib"),
		LogLevel:    "info",
		ControlPort: 8877,
		FFprobePath: "ffprobe",
		MinWorkers:  1,
		MaxWorkers:  8,
	}
}

// LoadLocal reads the Local config from path, applying defaults for
// missing values. If path does not exist, a default config is written
// there and returned.
func LoadLocal(path string) (*Local, error) {
	cfg := DefaultLocal()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if saveErr := cfg.Save(path); saveErr != nil {
				fmt.Printf("Warning: could not create config file: %v\n", saveErr)
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyLocalDefaults(cfg)
	return cfg, nil
}

func applyLocalDefaults(cfg *Local) {
	d := DefaultLocal()
	if cfg.StateDir == "" {
		cfg.StateDir = d.StateDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
	if cfg.ControlPort == 0 {
		cfg.ControlPort = d.ControlPort
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = d.FFprobePath
	}
	if cfg.MinWorkers < 1 {
		cfg.MinWorkers = d.MinWorkers
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = d.MaxWorkers
		if cfg.MaxWorkers < cfg.MinWorkers {
			cfg.MaxWorkers = cfg.MinWorkers
		}
	}
}

// Save writes cfg to path as YAML, atomically: a pending file is
// written and fsynced, then renamed into place, so a crash mid-write
// never leaves a truncated config behind.
func (c *Local) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return err
	}
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}
