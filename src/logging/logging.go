// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string `envconfig:"LOG_LEVEL" default:"debug"`
	Format     string `envconfig:"LOG_FORMAT" default:"text"` // text | json
	File       string `envconfig:"LOG_FILE" default:""`
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"10"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"30"`
	Compress   bool   `envconfig:"LOG_COMPRESS" default:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Setup applies cfg to the standard logrus logger. When a log file is
// configured, output goes to stdout and to the rotating file; the returned
// closer releases the file and is a no-op otherwise.
func Setup(cfg Config) io.Closer {
	level, err := logger.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logger.DebugLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(formatter(cfg.Format))

	if cfg.File == "" {
		logger.SetOutput(os.Stdout)
		return nopCloser{}
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, rotating))
	return rotating
}

func formatter(format string) logger.Formatter {
	if strings.EqualFold(format, "json") {
		return &logger.JSONFormatter{}
	}
	return &logger.TextFormatter{FullTimestamp: true}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
