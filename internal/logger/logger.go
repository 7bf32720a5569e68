// Copyright 2025 WondFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the structured logging surface used throughout
// WondFS. Every component logs through the package-level functions here
// rather than the stdlib "log" package, backed by logrus.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}

// SetLevel adjusts the minimum level that will be emitted.
func SetLevel(level logrus.Level) {
	std.SetLevel(level)
}

func Debugf(format string, args ...interface{}) { std.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { std.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { std.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { std.Errorf(format, args...) }

func Debug(args ...interface{}) { std.Debug(args...) }
func Info(args ...interface{})  { std.Info(args...) }
func Warn(args ...interface{})  { std.Warn(args...) }
func Error(args ...interface{}) { std.Error(args...) }

// WithField returns an entry pre-populated with a single structured field,
// for call sites that want to attach e.g. a block number or ino to every
// subsequent log line.
func WithField(key string, value interface{}) *logrus.Entry {
	return std.WithField(key, value)
}
