package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/husk/internal/logging"
)

// InitLogger configures process-wide logging and brands the global logger
// with the binary name. Safe to call once per process, before any component
// starts emitting.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
