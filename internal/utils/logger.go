package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// InitLogger points the global logger at stderr and, when logFile is not nil,
// also at logFile with every level down to debug.
func InitLogger(debug bool, logFile io.Writer) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	consoleLevel := zerolog.InfoLevel
	if debug {
		consoleLevel = zerolog.DebugLevel
	}
	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	}
	writers := []io.Writer{&levelWriter{w: console, min: consoleLevel}}
	if logFile != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        logFile,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}

type levelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (l *levelWriter) Write(p []byte) (int, error) {
	return l.w.Write(p)
}

func (l *levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < l.min {
		return len(p), nil
	}
	return l.w.Write(p)
}
