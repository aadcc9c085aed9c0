// Package scheduler contains the background loops of the settlement engine:
// the deposit monitor, the funds sweeper and the expiry reaper.
package scheduler

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewSchedulerLogger builds a logger that writes to stdout and a rotated
// per-scheduler log file under dir.
func NewSchedulerLogger(name, dir string) *log.Logger {
	var out io.Writer = os.Stdout

	if dir != "" {
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(dir, name+".log"),
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}

	return log.New(out, "["+name+"] ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}
