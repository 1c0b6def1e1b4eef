package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const EnvRuntimeDir = "HUSK_RUNTIME_DIR"

// Socket names published under SocketDir. The guest sees them bind-mounted
// at fixed /dev paths, so the names are part of the host<->guest contract.
const (
	BridgeSocketName = "husk_bridge"
	PipeSocketName   = "husk_pipe"
	AudioSocketName  = "husk_audio"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// System holds the resolved host paths and tunables for one husk instance.
type System struct {
	RuntimeDir string
	DataDir    string

	// RequiredDevices must exist on the host before any socket is
	// published or the container is touched.
	RequiredDevices []string
	// PassthroughDevices are bind-mounted into the guest unchanged.
	PassthroughDevices []string

	Workers       int
	ShutdownGrace time.Duration

	// DebugListenAddr enables the /healthz and /metrics endpoint when set.
	DebugListenAddr string

	ContainerDialAttempts int
	ContainerDialBackoff  time.Duration
}

func Default() System {
	return System{
		RuntimeDir:            defaultRuntimeDir(),
		DataDir:               defaultDataDir(),
		RequiredDevices:       []string{"/dev/binder", "/dev/ashmem"},
		PassthroughDevices:    []string{"/dev/binder", "/dev/ashmem", "/dev/fuse"},
		Workers:               32,
		ShutdownGrace:         5 * time.Second,
		ContainerDialAttempts: 5,
		ContainerDialBackoff:  250 * time.Millisecond,
	}
}

func defaultRuntimeDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvRuntimeDir)); dir != "" {
		return dir
	}
	if dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); dir != "" {
		return filepath.Join(dir, "husk")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("husk-%d", os.Getuid()))
}

func defaultDataDir() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); dir != "" {
		return filepath.Join(dir, "husk")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(defaultRuntimeDir(), "data")
	}
	return filepath.Join(home, ".local", "share", "husk")
}

func (s System) SocketDir() string {
	return filepath.Join(s.RuntimeDir, "sockets")
}

func (s System) InputDeviceDir() string {
	return filepath.Join(s.RuntimeDir, "input")
}

func (s System) ContainerSocketPath() string {
	return filepath.Join(s.RuntimeDir, "container.socket")
}

func (s System) BridgeSocketPath() string {
	return filepath.Join(s.SocketDir(), BridgeSocketName)
}

func (s System) PipeSocketPath() string {
	return filepath.Join(s.SocketDir(), PipeSocketName)
}

func (s System) AudioSocketPath() string {
	return filepath.Join(s.SocketDir(), AudioSocketName)
}

func (s System) Validate() error {
	if strings.TrimSpace(s.RuntimeDir) == "" {
		return fmt.Errorf("%w: empty runtime dir", ErrInvalidConfig)
	}
	if s.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if s.ShutdownGrace < 0 {
		return fmt.Errorf("%w: negative shutdown grace", ErrInvalidConfig)
	}
	if s.ContainerDialAttempts < 1 {
		return fmt.Errorf("%w: container dial attempts must be at least 1", ErrInvalidConfig)
	}
	if s.ContainerDialBackoff < 0 {
		return fmt.Errorf("%w: negative container dial backoff", ErrInvalidConfig)
	}
	return nil
}

// EnsureDirs creates the runtime directories the session needs. Socket and
// input dirs stay private to the owning user.
func (s System) EnsureDirs() error {
	for _, dir := range []string{s.RuntimeDir, s.SocketDir(), s.InputDeviceDir(), s.DataDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("config: ensure dir %s: %w", dir, err)
		}
	}
	return nil
}

type fileConfig struct {
	RuntimeDir            string   `toml:"runtime_dir"`
	DataDir               string   `toml:"data_dir"`
	RequiredDevices       []string `toml:"required_devices"`
	PassthroughDevices    []string `toml:"passthrough_devices"`
	Workers               int      `toml:"workers"`
	ShutdownGrace         string   `toml:"shutdown_grace"`
	DebugListenAddr       string   `toml:"debug_listen_addr"`
	ContainerDialAttempts int      `toml:"container_dial_attempts"`
	ContainerDialBackoff  string   `toml:"container_dial_backoff"`
}

// Load overlays a TOML file onto the defaults. Only keys present in the
// file override; everything else keeps its default.
func Load(path string) (System, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return System{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	if meta.IsDefined("runtime_dir") {
		if dir := strings.TrimSpace(raw.RuntimeDir); dir != "" {
			cfg.RuntimeDir = dir
		}
	}
	if meta.IsDefined("data_dir") {
		if dir := strings.TrimSpace(raw.DataDir); dir != "" {
			cfg.DataDir = dir
		}
	}
	if meta.IsDefined("required_devices") {
		cfg.RequiredDevices = normalizePaths(raw.RequiredDevices)
	}
	if meta.IsDefined("passthrough_devices") {
		cfg.PassthroughDevices = normalizePaths(raw.PassthroughDevices)
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("shutdown_grace") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownGrace))
		if err != nil {
			return System{}, fmt.Errorf("config: parse shutdown_grace: %w", err)
		}
		cfg.ShutdownGrace = d
	}
	if meta.IsDefined("debug_listen_addr") {
		cfg.DebugListenAddr = strings.TrimSpace(raw.DebugListenAddr)
	}
	if meta.IsDefined("container_dial_attempts") {
		cfg.ContainerDialAttempts = raw.ContainerDialAttempts
	}
	if meta.IsDefined("container_dial_backoff") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ContainerDialBackoff))
		if err != nil {
			return System{}, fmt.Errorf("config: parse container_dial_backoff: %w", err)
		}
		cfg.ContainerDialBackoff = d
	}

	if err := cfg.Validate(); err != nil {
		return System{}, err
	}
	return cfg, nil
}

func normalizePaths(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
