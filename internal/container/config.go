package container

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// Method numbers on the manager socket.
const (
	MethodStartContainer uint32 = iota + 1
	MethodStopContainer
)

var (
	ErrInvalidConfiguration = errors.New("container: invalid configuration")
	ErrAlreadyRunning       = errors.New("container: already running")
	ErrNotRunning           = errors.New("container: not running")
)

// BindMount maps one host path into the guest filesystem.
type BindMount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// Configuration is everything the manager needs to assemble the guest:
// the published sockets, the input device directory, and the passthrough
// devices, each as a bind mount. Immutable once submitted.
type Configuration struct {
	SessionID  string      `json:"session_id"`
	BindMounts []BindMount `json:"bind_mounts"`
}

func NewSessionID() string {
	return uuid.NewString()
}

func (c Configuration) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidConfiguration)
	}
	seen := make(map[string]struct{}, len(c.BindMounts))
	for _, m := range c.BindMounts {
		if m.Source == "" {
			return fmt.Errorf("%w: bind mount with empty source", ErrInvalidConfiguration)
		}
		if !filepath.IsAbs(m.Target) {
			return fmt.Errorf("%w: bind mount target %q is not absolute", ErrInvalidConfiguration, m.Target)
		}
		if _, dup := seen[m.Target]; dup {
			return fmt.Errorf("%w: duplicate bind mount target %q", ErrInvalidConfiguration, m.Target)
		}
		seen[m.Target] = struct{}{}
	}
	return nil
}

// Encode renders the configuration as the start_container payload.
func (c Configuration) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("container: encode configuration: %w", err)
	}
	return out, nil
}

func DecodeConfiguration(data []byte) (Configuration, error) {
	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("container: decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}
