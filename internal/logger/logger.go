// Package logger configures zerolog for the pipes and their commands.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options is the go-flags option group shared by every command.
type Options struct {
	Level  string `long:"log-level"  env:"LOG_LEVEL"  description:"Console log level" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
	Format string `long:"log-format" env:"LOG_FORMAT" description:"Console log format" choice:"console" choice:"json" default:"console"`
	Dir    string `long:"log-dir"    env:"LOG_DIR"    description:"Directory of the debug log file, none if empty"`
	Name   string `long:"log-name"   env:"LOG_NAME"   description:"Log file name without extension" default:"eovpipes"`
}

// Setup installs the global logger. Errors opening the log file fall back to
// console-only logging.
func (o Options) Setup() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = o.New()
}

// New returns a logger writing to the console at the configured level, plus
// <dir>/<name>.log at debug and above when a log dir is set. Loggers of one
// process share the file. Pipes tag it with their name through pipe.NewBase.
func (o Options) New() zerolog.Logger {
	w, err := o.writer()
	l := zerolog.New(w).With().Timestamp().Logger()
	if err != nil {
		l.Warn().Err(err).Msg("File logging disabled")
	}
	return l
}

// ForPipe is New with pipe=<name> on every line, for code outside a pipe.
func (o Options) ForPipe(name string) zerolog.Logger {
	return o.New().With().Str("pipe", name).Logger()
}

func (o Options) writer() (zerolog.LevelWriter, error) {
	lvl, err := zerolog.ParseLevel(o.Level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	console := levelFilter{w: consoleWriter(o.Format, os.Stderr), min: lvl}
	if o.Dir == "" {
		return zerolog.MultiLevelWriter(console), nil
	}

	name := o.Name
	if name == "" {
		name = "eovpipes"
	}
	f, err := openShared(filepath.Join(o.Dir, name+".log"))
	if err != nil {
		return zerolog.MultiLevelWriter(console), err
	}
	return zerolog.MultiLevelWriter(console, levelFilter{w: f, min: zerolog.DebugLevel}), nil
}

func consoleWriter(format string, out io.Writer) io.Writer {
	if strings.EqualFold(format, "json") {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000"}
}

var (
	filesMu sync.Mutex
	files   = map[string]*os.File{}
)

func openShared(path string) (*os.File, error) {
	filesMu.Lock()
	defer filesMu.Unlock()

	if f, ok := files[path]; ok {
		return f, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	files[path] = f
	return f, nil
}

// levelFilter drops events below min before they reach w.
type levelFilter struct {
	w   io.Writer
	min zerolog.Level
}

func (l levelFilter) Write(p []byte) (int, error) {
	return l.w.Write(p)
}

func (l levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < l.min {
		return len(p), nil
	}
	return l.w.Write(p)
}
