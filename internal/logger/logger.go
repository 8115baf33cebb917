package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide structured logger. It is usable before Init with
// logrus defaults.
var Log = logrus.New()

// Init configures level and output format ("json" or "text").
func Init(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	if strings.EqualFold(format, "text") {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	Log.SetFormatter(&logrus.JSONFormatter{})
}
