package observability

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/probectl/internal/logging"
)

// InitLogger installs the service-style console logger used by long-running
// probectl modes. Short-lived CLI invocations configure the logging package
// profiles instead.
func InitLogger(component string) zerolog.Logger {
	nocolor, _ := strconv.ParseBool(os.Getenv(logging.EnvLogNoColor))
	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    nocolor,
	}
	logger := zerolog.New(writer).With().Timestamp().Str("component", component).Logger()
	log.Logger = logger
	return logger
}
