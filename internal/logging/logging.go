/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging holds the logger setup shared by the daemon and its tests.
package logging

import (
	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Verbosity levels used with logger.V(...).
const (
	// DEBUG is for per-pass detail that operators only want while investigating.
	DEBUG = 1
	// TRACE is for per-core detail inside a pass.
	TRACE = 2
)

// Options configures NewLogger.
type Options struct {
	// Development enables the console encoder and stack traces on warnings.
	Development bool
	// Verbosity is the highest V-level that is emitted.
	Verbosity int
}

// NewLogger builds the process logger and installs it as the controller-runtime root logger.
func NewLogger(opts Options) logr.Logger {
	logger := zap.New(
		zap.UseDevMode(opts.Development),
		func(o *zap.Options) {
			o.TimeEncoder = zapcore.ISO8601TimeEncoder
			o.Level = zapcore.Level(-opts.Verbosity)
		},
	)
	ctrl.SetLogger(logger)
	return logger
}

// NewTestLogger installs a development logger for test suites.
func NewTestLogger() logr.Logger {
	return NewLogger(Options{Development: true, Verbosity: TRACE})
}
