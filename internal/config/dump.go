package config

import (
	"fmt"
	"os"

	gotoml "github.com/pelletier/go-toml/v2"
)

// Dump renders a System as TOML, suitable as a starting config file.
func Dump(cfg System) ([]byte, error) {
	raw := fileConfig{
		RuntimeDir:            cfg.RuntimeDir,
		DataDir:               cfg.DataDir,
		RequiredDevices:       cfg.RequiredDevices,
		PassthroughDevices:    cfg.PassthroughDevices,
		Workers:               cfg.Workers,
		ShutdownGrace:         cfg.ShutdownGrace.String(),
		DebugListenAddr:       cfg.DebugListenAddr,
		ContainerDialAttempts: cfg.ContainerDialAttempts,
		ContainerDialBackoff:  cfg.ContainerDialBackoff.String(),
	}
	out, err := gotoml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: dump: %w", err)
	}
	return out, nil
}

// WriteTemplate writes the default configuration to path. Refuses to
// clobber an existing file unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: already exists: %s", path)
		}
	}
	out, err := Dump(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
