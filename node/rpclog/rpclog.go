// Package rpclog bridges the btclog interface used internally by the
// rpcclient library onto zerolog, so library log lines land in the same
// stream as our own.
package rpclog

import (
	"fmt"

	"github.com/btcsuite/btclog"
	"github.com/rs/zerolog"
)

type Logger struct{ *zerolog.Logger }

var _ btclog.Logger = new(Logger)

// One frame up, so the lines appear as the rpcclient call sites.
const skipFrames = 1

func (l *Logger) logf(lvl zerolog.Level, format string, params ...interface{}) {
	l.WithLevel(lvl).CallerSkipFrame(skipFrames).Msgf(format, params...)
}

func (l *Logger) log(lvl zerolog.Level, v ...interface{}) {
	l.WithLevel(lvl).CallerSkipFrame(skipFrames).Msg(fmt.Sprint(v...))
}

func (l *Logger) Tracef(format string, params ...interface{}) { l.logf(zerolog.TraceLevel, format, params...) }
func (l *Logger) Debugf(format string, params ...interface{}) { l.logf(zerolog.DebugLevel, format, params...) }
func (l *Logger) Infof(format string, params ...interface{})  { l.logf(zerolog.InfoLevel, format, params...) }
func (l *Logger) Warnf(format string, params ...interface{})  { l.logf(zerolog.WarnLevel, format, params...) }
func (l *Logger) Errorf(format string, params ...interface{}) { l.logf(zerolog.ErrorLevel, format, params...) }

// btclog has a critical level, zerolog does not. Error is the closest fit.
func (l *Logger) Criticalf(format string, params ...interface{}) {
	l.logf(zerolog.ErrorLevel, format, params...)
}

func (l *Logger) Trace(v ...interface{})    { l.log(zerolog.TraceLevel, v...) }
func (l *Logger) Debug(v ...interface{})    { l.log(zerolog.DebugLevel, v...) }
func (l *Logger) Info(v ...interface{})     { l.log(zerolog.InfoLevel, v...) }
func (l *Logger) Warn(v ...interface{})     { l.log(zerolog.WarnLevel, v...) }
func (l *Logger) Error(v ...interface{})    { l.log(zerolog.ErrorLevel, v...) }
func (l *Logger) Critical(v ...interface{}) { l.log(zerolog.ErrorLevel, v...) }

func (l *Logger) Level() btclog.Level {
	switch l.GetLevel() {
	case zerolog.TraceLevel:
		return btclog.LevelTrace
	case zerolog.DebugLevel:
		return btclog.LevelDebug
	case zerolog.InfoLevel:
		return btclog.LevelInfo
	case zerolog.WarnLevel:
		return btclog.LevelWarn
	case zerolog.ErrorLevel:
		return btclog.LevelError
	case zerolog.Disabled:
		return btclog.LevelOff
	default:
		return btclog.LevelInfo
	}
}

func (l *Logger) SetLevel(level btclog.Level) {
	var lvl zerolog.Level
	switch level {
	case btclog.LevelTrace:
		lvl = zerolog.TraceLevel
	case btclog.LevelDebug:
		lvl = zerolog.DebugLevel
	case btclog.LevelInfo:
		lvl = zerolog.InfoLevel
	case btclog.LevelWarn:
		lvl = zerolog.WarnLevel
	case btclog.LevelError, btclog.LevelCritical:
		lvl = zerolog.ErrorLevel
	case btclog.LevelOff:
		lvl = zerolog.Disabled
	}

	leveled := l.Logger.Level(lvl)
	l.Logger = &leveled
}
