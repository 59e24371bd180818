package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const permission = 0664

// ZeroLogBuild configures a zerolog-backed Logger writing to a buffer or a
// file. Useful when log output must outlive the process's stdout, e.g. on
// mobile embeddings.
type ZeroLogBuild struct {
	writer io.Writer
	path   string
}

func NewZeroLog() *ZeroLogBuild {
	return &ZeroLogBuild{}
}

func (build *ZeroLogBuild) FromPath(path string) *ZeroLogBuild {
	build.path = path
	return build
}

func (build *ZeroLogBuild) FromBuffer(w io.Writer) *ZeroLogBuild {
	build.writer = w
	return build
}

// Make finalizes the build. If a path was given it wins over the buffer.
func (build *ZeroLogBuild) Make() (*ZeroLogHandler, error) {
	writer := build.writer
	if writer == nil {
		writer = os.Stdout
	}
	var logFile *os.File
	if build.path != "" {
		var err error
		logFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		writer = zerolog.SyncWriter(logFile)
	}
	return &ZeroLogHandler{
		logger:  zerolog.New(writer).With().Timestamp().Logger(),
		logFile: logFile,
	}, nil
}

type ZeroLogHandler struct {
	logger  zerolog.Logger
	logFile *os.File
}

func (h *ZeroLogHandler) log(ev *zerolog.Event, msg string, args ...any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

func (h *ZeroLogHandler) Error(msg string, args ...any) { h.log(h.logger.Error(), msg, args...) }
func (h *ZeroLogHandler) Warn(msg string, args ...any)  { h.log(h.logger.Warn(), msg, args...) }
func (h *ZeroLogHandler) Info(msg string, args ...any)  { h.log(h.logger.Info(), msg, args...) }
func (h *ZeroLogHandler) Debug(msg string, args ...any) { h.log(h.logger.Debug(), msg, args...) }

// Close releases the log file if one was opened.
func (h *ZeroLogHandler) Close() error {
	if h.logFile != nil {
		return h.logFile.Close()
	}
	return nil
}
