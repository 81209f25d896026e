// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log exposes a single package-level structured logger backed by
// zap, so every other package can log without taking a direct zap
// dependency or threading a logger through every constructor.
package log

import (
	"sync"

	"go.uber.org/zap"
)

// Config controls the global logger installed by ConfigureLogger.
type Config struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func (c Config) applyDefaults() Config {
	if c.Level == "" {
		c.Level = "info"
	}
	return c
}

var (
	mu      sync.RWMutex
	sugared = zap.NewNop().Sugar()
)

// ConfigureLogger builds a zap logger from cfg and installs it as the
// global logger. Call once during process startup.
func ConfigureLogger(cfg Config) error {
	cfg = cfg.applyDefaults()

	var level zap.AtomicLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = level

	logger, err := zapCfg.Build()
	if err != nil {
		return err
	}

	SetGlobalLogger(logger.Sugar())
	return nil
}

// SetGlobalLogger installs l as the package-level logger. Tests use this
// to redirect logging into an observable sink.
func SetGlobalLogger(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	sugared = l
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

// With returns a logger with the given structured key/value pairs attached.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return current().With(keysAndValues...)
}

func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { current().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { current().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { current().Fatalf(format, args...) }

func Debug(args ...interface{}) { current().Debug(args...) }
func Info(args ...interface{})  { current().Info(args...) }
func Warn(args ...interface{})  { current().Warn(args...) }
func Error(args ...interface{}) { current().Error(args...) }
