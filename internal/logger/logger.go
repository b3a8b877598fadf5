package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger shared by the api and worker binaries.
var Logger = logrus.New()

// Init configures Logger. format is "json" or "text"; unknown levels fall
// back to info.
func Init(level, format string) *logrus.Logger {
	Logger = logrus.New()
	Logger.SetOutput(os.Stdout)
	if format == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		Logger.WithField("level", level).Warn("invalid log level, using info")
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)
	return Logger
}
