// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"io"
	"log"
	"os"
)

// LogLevel is the verbosity of a log group
type LogLevel int

const (
	// ErrLevel=1 - only errors are printed
	ErrLevel LogLevel = iota + 1

	// WarnLevel=2 - warnings, such as a realloc of an unknown pointer
	WarnLevel

	// InfoLevel=3 - phases of a run and their statistics
	InfoLevel

	// DebugLevel=4 - every classification decision of the analyses
	DebugLevel

	// TraceLevel=5 - every rewritten instruction and every runtime tagging event. Not meant for large modules.
	TraceLevel
)

var levelNames = [...]string{
	ErrLevel:   "ERROR",
	WarnLevel:  "WARN",
	InfoLevel:  "INFO",
	DebugLevel: "DEBUG",
	TraceLevel: "TRACE",
}

func (l LogLevel) String() string {
	if l < ErrLevel || l > TraceLevel {
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
	return levelNames[l]
}

// A LogGroup holds one logger per level. Messages above the level of the group are dropped.
type LogGroup struct {
	level   LogLevel
	loggers [TraceLevel + 1]*log.Logger
}

// NewLogGroup returns a log group that is configured to the logging settings stored inside the config
func NewLogGroup(config *Config) *LogGroup {
	return NewLogGroupWriter(LogLevel(config.LogLevel), os.Stderr)
}

// NewLogGroupWriter returns a log group with level lvl where all loggers write to w
func NewLogGroupWriter(lvl LogLevel, w io.Writer) *LogGroup {
	g := &LogGroup{level: lvl}
	for l := ErrLevel; l <= TraceLevel; l++ {
		g.loggers[l] = log.New(w, "["+levelNames[l]+"] ", log.LstdFlags)
	}
	return g
}

// Discard returns a log group that drops every message
func Discard() *LogGroup {
	return NewLogGroupWriter(ErrLevel, io.Discard)
}

// Level returns the level of the log group
func (l *LogGroup) Level() LogLevel {
	return l.level
}

// LogsTrace returns true when trace messages are printed. Callers use it to avoid building expensive messages.
func (l *LogGroup) LogsTrace() bool {
	return l.level >= TraceLevel
}

// SetAllOutput sets all the output writers to the writer provided
func (l *LogGroup) SetAllOutput(w io.Writer) {
	for _, logger := range l.loggers[ErrLevel:] {
		logger.SetOutput(w)
	}
}

func (l *LogGroup) logf(lvl LogLevel, format string, v []any) {
	if l.level >= lvl {
		l.loggers[lvl].Printf(format, v...)
	}
}

// Tracef prints to the trace logger. Arguments are handled in the manner of Printf
func (l *LogGroup) Tracef(format string, v ...any) { l.logf(TraceLevel, format, v) }

// Debugf prints to the debug logger. Arguments are handled in the manner of Printf
func (l *LogGroup) Debugf(format string, v ...any) { l.logf(DebugLevel, format, v) }

// Infof prints to the info logger. Arguments are handled in the manner of Printf
func (l *LogGroup) Infof(format string, v ...any) { l.logf(InfoLevel, format, v) }

// Warnf prints to the warning logger. Arguments are handled in the manner of Printf
func (l *LogGroup) Warnf(format string, v ...any) { l.logf(WarnLevel, format, v) }

// Errorf prints to the error logger. Arguments are handled in the manner of Printf
func (l *LogGroup) Errorf(format string, v ...any) { l.logf(ErrLevel, format, v) }
