/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package socket

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	levelTrace = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelNoPrint
)

// Log levels accepted by SetLogLevel.
const (
	LogTrace = levelTrace
	LogDebug = levelDebug
	LogInfo  = levelInfo
	LogWarn  = levelWarn
	LogError = levelError
	LogNone  = levelNoPrint
)

var (
	level atomic.Int32
	sink  atomic.Pointer[zap.Logger]

	internalLogger = newLogger("socket", nil)

	levelNames = map[string]int{
		"trace": levelTrace,
		"debug": levelDebug,
		"info":  levelInfo,
		"warn":  levelWarn,
		"error": levelError,
		"none":  levelNoPrint,
	}
)

func init() {
	level.Store(levelWarn)
	if v := os.Getenv("SOCKET_LOG_LEVEL"); v != "" {
		if n, ok := parseLevel(v); ok {
			level.Store(int32(n))
		}
	}
	sink.Store(defaultSink())
}

func parseLevel(v string) (int, bool) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, n >= levelTrace && n <= levelNoPrint
	}
	n, ok := levelNames[strings.ToLower(v)]
	return n, ok
}

func defaultSink() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop()
	}
	return z
}

// SetLogLevel changes the package log level. The default is warn; the
// SOCKET_LOG_LEVEL environment variable (trace, debug, info, warn, error, none
// or 0-5) sets it at start-up.
func SetLogLevel(l int) {
	if l >= levelTrace && l <= levelNoPrint {
		level.Store(int32(l))
	}
}

// SetLogger replaces the process-wide log sink. A nil logger silences output.
func SetLogger(z *zap.Logger) {
	if z == nil {
		z = zap.NewNop()
	}
	sink.Store(z.WithOptions(zap.AddCallerSkip(1)))
}

// SetLogLevelName is SetLogLevel taking a level name or number.
func SetLogLevelName(name string) bool {
	n, ok := parseLevel(name)
	if ok {
		level.Store(int32(n))
	}
	return ok
}

// Logger returns the process-wide log sink.
func Logger() *zap.Logger { return sink.Load() }

type logger struct {
	name string
	z    *zap.Logger
}

// newLogger returns a named logger. A nil z follows the process-wide sink.
func newLogger(name string, z *zap.Logger) *logger {
	if z != nil {
		z = z.WithOptions(zap.AddCallerSkip(1))
	}
	return &logger{name: name, z: z}
}

func (l *logger) with(name string) *logger {
	return &logger{name: l.name + "." + name, z: l.z}
}

func (l *logger) sugar() *zap.SugaredLogger {
	z := l.z
	if z == nil {
		z = sink.Load()
	}
	return z.Named(l.name).Sugar()
}

func enabled(lv int) bool { return int(level.Load()) <= lv }

func (l *logger) errorf(format string, a ...interface{}) {
	if enabled(levelError) {
		l.sugar().Errorf(format, a...)
	}
}

func (l *logger) warnf(format string, a ...interface{}) {
	if enabled(levelWarn) {
		l.sugar().Warnf(format, a...)
	}
}

func (l *logger) infof(format string, a ...interface{}) {
	if enabled(levelInfo) {
		l.sugar().Infof(format, a...)
	}
}

func (l *logger) debugf(format string, a ...interface{}) {
	if enabled(levelDebug) {
		l.sugar().Debugf(format, a...)
	}
}

func (l *logger) tracef(format string, a ...interface{}) {
	if enabled(levelTrace) {
		l.sugar().Debugf("trace: "+format, a...)
	}
}

// Log is a named leveled logger for packages built on this one. It honors
// SetLogLevel and, when created with a nil zap logger, SetLogger.
type Log struct {
	l *logger
}

// NewLog returns a Log named name writing to z, or to the process-wide sink when z is nil.
func NewLog(name string, z *zap.Logger) *Log {
	return &Log{l: newLogger(name, z)}
}

func (g *Log) Errorf(format string, a ...interface{}) { g.l.errorf(format, a...) }
func (g *Log) Warnf(format string, a ...interface{})  { g.l.warnf(format, a...) }
func (g *Log) Infof(format string, a ...interface{})  { g.l.infof(format, a...) }
func (g *Log) Debugf(format string, a ...interface{}) { g.l.debugf(format, a...) }
