package graphics

import (
	"os"

	"github.com/rs/zerolog/log"
)

// Driver names the GL driver strategy for the session.
type Driver string

const (
	// DriverHost uses the host EGL stack directly. Forced on hosts with
	// the proprietary nvidia driver, which the translation layer cannot
	// drive.
	DriverHost Driver = "host"
	// DriverTranslator routes guest GL through the translation layer.
	DriverTranslator Driver = "translator"
)

const nvidiaControlDevice = "/dev/nvidiactl"

// ProbeDriver picks the driver strategy from the host's device tree.
func ProbeDriver() Driver {
	return ProbeDriverAt(nvidiaControlDevice)
}

// ProbeDriverAt is ProbeDriver with the probe path injectable.
func ProbeDriverAt(path string) Driver {
	driver := DriverTranslator
	if _, err := os.Stat(path); err == nil {
		log.Info().Msg("graphics.probe proprietary nvidia driver detected, forcing host EGL")
		driver = DriverHost
	}
	log.Info().Str("driver", string(driver)).Msg("graphics.probe selected driver")
	return driver
}
