package main

import (
	"io"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Settings are the process settings, read from the environment after an
// optional dotenv file.
type Settings struct {
	// Database is the source database, used when the control file names none.
	Database string `env:"DOCFERRY_DATABASE"`

	// TargetDatabase receives imports. Defaults to the source database.
	TargetDatabase string `env:"DOCFERRY_TARGET_DATABASE"`

	// Staging is a directory or blob URL holding the staging files.
	Staging string `env:"DOCFERRY_STAGING" envDefault:"output"`

	Endpoint string `env:"DOCFERRY_DYNAMODB_ENDPOINT"`
	Region   string `env:"DOCFERRY_AWS_REGION"`
	Profile  string `env:"DOCFERRY_AWS_PROFILE"`

	BatchSize       int    `env:"DOCFERRY_BATCH_SIZE" envDefault:"100"`
	MaxRounds       int    `env:"DOCFERRY_MAX_ROUNDS" envDefault:"0"`
	MaxIdleRounds   int    `env:"DOCFERRY_MAX_IDLE_ROUNDS" envDefault:"3"`
	BulkConcurrency int    `env:"DOCFERRY_BULK_CONCURRENCY" envDefault:"4"`
	ProcedureTable  string `env:"DOCFERRY_PROCEDURE_TABLE" envDefault:"docferry_procedures"`

	LogLevel  string `env:"DOCFERRY_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"DOCFERRY_LOG_FORMAT" envDefault:"text"`
}

// loadSettings loads dotenv, when it exists, then parses the environment.
// Variables already set in the environment win over the file.
func loadSettings(dotenv string) (*Settings, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "load %s", dotenv)
		}
	}
	s := &Settings{}
	if err := env.Parse(s); err != nil {
		return nil, errors.Wrap(err, "parse settings")
	}
	return s, nil
}

func newLogger(s *Settings, w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(level)
	switch strings.ToLower(s.LogFormat) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, errors.Errorf("unknown log format %q", s.LogFormat)
	}
	return logger, nil
}
