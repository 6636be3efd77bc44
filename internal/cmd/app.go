package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/daverage/tinymem/internal/config"
	"github.com/daverage/tinymem/internal/logging"
	"github.com/daverage/tinymem/internal/server"
)

// loadConfig resolves the project root and loads its configuration.
func loadConfig(opts *options) (*config.Config, error) {
	root, err := config.FindProjectRoot(opts.project)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, nil
}

// openApp loads the configuration, starts logging and wires the project
// components. The returned close function releases everything.
func openApp(opts *options) (*server.App, func(), error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}

	logPath := cfg.Logging.File
	if logPath == "" {
		logPath = logging.DefaultPath(cfg.DataDir)
	}
	log, closeLog, err := logging.New(cfg.Logging.Level, logPath)
	if err != nil {
		return nil, nil, err
	}

	app, closeApp, err := server.New(cfg, log)
	if err != nil {
		closeLog()
		return nil, nil, fmt.Errorf("initializing tinyMem: %w", err)
	}
	log.Debug("project opened",
		zap.String("root", cfg.ProjectRoot),
		zap.String("data_dir", cfg.DataDir))

	return app, func() {
		closeApp()
		closeLog()
	}, nil
}
