package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cratemirror/internal/config"
	"cratemirror/internal/logger"
	"cratemirror/internal/remote/tidal"
	"cratemirror/internal/store"
)

type commandContext struct {
	configFlag  *string
	verboseFlag *bool

	configOnce sync.Once
	config     config.Config
	configErr  error

	logOnce sync.Once
	log     *logger.Logger
}

func newCommandContext(configFlag *string, verboseFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		verboseFlag: verboseFlag,
	}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadConfigFile(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.verboseFlag != nil && *c.verboseFlag {
			cfg.Verbose = true
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *logger.Logger {
	c.logOnce.Do(func() {
		verbose := c.verboseFlag != nil && *c.verboseFlag
		if cfg, err := c.ensureConfig(); err == nil {
			verbose = verbose || cfg.Verbose
		}
		c.log = logger.New(verbose)
	})
	return c.log
}

// enableFileLog mirrors run output into a timestamped log file. Failures
// only cost the file, never the run.
func (c *commandContext) enableFileLog() {
	log := c.logger()
	logDir := config.GetDefaultLogPath()
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Warn("could not create log directory: %v", err)
		return
	}
	logFile := filepath.Join(logDir, fmt.Sprintf("cratemirror_%s.log", time.Now().Format("2006-01-02_15-04-05")))
	if err := log.SetFileLog(logFile); err != nil {
		log.Warn("could not open log file: %v", err)
		return
	}
	log.Debug("logging to %s", logFile)
}

func (c *commandContext) openStore() (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.DatabasePath)
}

func (c *commandContext) tidalClient(ctx context.Context) (*tidal.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return tidal.New(ctx, cfg.TidalClientID, c.logger())
}
