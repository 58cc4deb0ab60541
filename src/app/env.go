package app

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	logger "github.com/sirupsen/logrus"
)

// LoadEnv reads DOTENV_PATH (default .env) into the process environment.
// Variables already set win, and a missing file is not an error.
func LoadEnv() error {
	path := os.Getenv("DOTENV_PATH")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	logger.WithField("path", path).Debug("loaded environment file")
	return nil
}
