package utils

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger writes to stdout and, when file is set, to a rotated log file.
func NewLogger(prefix, file string, maxSizeMB int) *log.Logger {
	var out io.Writer = os.Stdout
	if file != "" {
		if maxSizeMB <= 0 {
			maxSizeMB = 10
		}
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSizeMB,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}
	return log.New(out, prefix, log.LstdFlags|log.Lshortfile)
}
