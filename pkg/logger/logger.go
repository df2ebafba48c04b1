package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var (
	mu      sync.RWMutex
	base    kitlog.Logger
	logFile *os.File
)

// Level names accepted by Init and InitLogger.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// InitLogger writes logs to stdout and, when filename is set, to that file too.
func InitLogger(filename string, lvl string) error {
	var w io.Writer = os.Stdout
	if filename != "" {
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		mu.Lock()
		logFile = f
		mu.Unlock()
		w = io.MultiWriter(os.Stdout, f)
	}
	Init(w, lvl)
	return nil
}

// Init installs a logfmt logger on w filtered at lvl.
func Init(w io.Writer, lvl string) {
	l := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	l = kitlog.With(l, "ts", kitlog.DefaultTimestampUTC)
	l = level.NewFilter(l, allow(lvl))

	mu.Lock()
	base = l
	mu.Unlock()
}

func allow(lvl string) level.Option {
	switch strings.ToLower(lvl) {
	case LevelDebug:
		return level.AllowDebug()
	case LevelWarn, "warning":
		return level.AllowWarn()
	case LevelError:
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func get() kitlog.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(os.Stderr, LevelInfo)
	return get()
}

// With returns a go-kit logger carrying keyvals, for components that log
// structured fields. The caller is the site that calls Log on it, with or
// without a level.X wrapper.
func With(keyvals ...interface{}) kitlog.Logger {
	return kitlog.With(get(), append([]interface{}{"caller", kitlog.DefaultCaller}, keyvals...)...)
}

func Debugf(format string, v ...interface{}) { logf(level.Debug, format, v...) }

func Infof(format string, v ...interface{}) { logf(level.Info, format, v...) }

func Warnf(format string, v ...interface{}) { logf(level.Warn, format, v...) }

func Errorf(format string, v ...interface{}) { logf(level.Error, format, v...) }

func logf(lvl func(kitlog.Logger) kitlog.Logger, format string, v ...interface{}) {
	_ = lvl(get()).Log("caller", callerOf(), "msg", fmt.Sprintf(format, v...))
}

// callerOf reports the caller of the exported Xf wrapper in the same
// file:line form as kitlog.Caller.
func callerOf() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "???"
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
