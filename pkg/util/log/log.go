package log

import (
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// Logger is a shared go-kit logger.
var Logger = log.NewNopLogger()

// InitLogger initialises the global logger and returns it. format is either
// "logfmt" or "json"; levelName is one of debug, info, warn, error.
func InitLogger(levelName, format string, w io.Writer) (log.Logger, error) {
	l, err := NewLogger(levelName, format, w)
	if err != nil {
		return nil, err
	}
	Logger = l
	return l, nil
}

// NewLogger builds a leveled logger writing to w, or to stderr when w is nil.
func NewLogger(levelName, format string, w io.Writer) (log.Logger, error) {
	var lvl dslog.Level
	if err := lvl.Set(levelName); err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}

	var logger log.Logger
	if format == "json" {
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	}
	logger = level.NewFilter(logger, lvl.Option)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller), nil
}
