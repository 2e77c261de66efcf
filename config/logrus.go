package config

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// InitLogger builds the process-wide structured logger. LOG_LEVEL and
// LOG_FORMAT (json|text) come from the environment.
func InitLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(strings.ToLower(getEnv("LOG_LEVEL", "info")))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.ToLower(getEnv("LOG_FORMAT", "text")) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
