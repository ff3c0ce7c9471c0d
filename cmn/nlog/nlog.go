// Package nlog is the daemon-wide logger: leveled, timestamped, and
// file-rotating, with an in-memory buffer so a busy merge/RDM loop does
// not pay a syscall per log line.
/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package nlog

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/olalite/olad/cmn/mono"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
	sevFatal
)

const sevChar = "IWEF"

// MaxSize triggers a rotation once the current log file has grown past it.
var MaxSize int64 = 4 * 1024 * 1024

var (
	toStderr     bool
	alsoToStderr bool
	logDir       string
	title        string

	mu   sync.Mutex
	buf  bytes.Buffer
	file *os.File
	size int64
)

// InitFlags wires the two flags the original daemon exposes for logging;
// command-line parsing itself is out of scope beyond this.
func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

// SetLogDir points file-backed logging at dir; Flush(true) rotates into it.
func SetLogDir(dir string) { logDir = dir }
func SetTitle(s string)    { title = s }

func Infof(format string, args ...any)    { logf(sevInfo, format, args...) }
func Infoln(args ...any)                  { logln(sevInfo, args...) }
func Warningf(format string, args ...any) { logf(sevWarn, format, args...) }
func Warningln(args ...any)               { logln(sevWarn, args...) }
func Errorf(format string, args ...any)   { logf(sevErr, format, args...) }
func Errorln(args ...any)                 { logln(sevErr, args...) }

// Fatalf logs at FATAL severity per §7's "programming-invariant violation"
// policy: logged, never a process abort. Callers decide recovery.
func Fatalf(format string, args ...any) { logf(sevFatal, format, args...) }

func logf(sev severity, format string, args ...any) {
	write(sev, fmt.Sprintf(format, args...))
}

func logln(sev severity, args ...any) {
	write(sev, fmt.Sprintln(args...))
}

func write(sev severity, msg string) {
	line := header(sev) + strings.TrimRight(msg, "\n") + "\n"

	if toStderr || alsoToStderr || sev >= sevWarn {
		os.Stderr.WriteString(line)
		if toStderr {
			return
		}
	}

	mu.Lock()
	defer mu.Unlock()
	buf.WriteString(line)
	lastWrite = mono.NanoTime()
	if buf.Len() >= 32*1024 || sev >= sevErr {
		flushLocked(false)
	}
}

func header(sev severity) string {
	now := time.Now()
	_, fn, ln, ok := runtime.Caller(3)
	if ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
	} else {
		fn, ln = "???", 0
	}
	return fmt.Sprintf("%c %s %s:%d ", sevChar[sev], now.Format("15:04:05.000000"), fn, ln)
}

// Flush writes buffered lines to disk (or stderr, when no log directory is
// configured) and, when exit is true, syncs and closes the file the way
// the daemon does on shutdown.
func Flush(exit ...bool) {
	mu.Lock()
	defer mu.Unlock()
	flushLocked(len(exit) > 0 && exit[0])
}

func flushLocked(exit bool) {
	if buf.Len() == 0 {
		if exit && file != nil {
			file.Sync()
			file.Close()
			file = nil
		}
		return
	}
	if logDir == "" {
		os.Stderr.Write(buf.Bytes())
		buf.Reset()
		return
	}
	if file == nil {
		if err := rotate(); err != nil {
			os.Stderr.Write(buf.Bytes())
			buf.Reset()
			return
		}
	}
	n, _ := file.Write(buf.Bytes())
	size += int64(n)
	buf.Reset()
	if size >= MaxSize {
		file.Close()
		file = nil
		size = 0
	}
	if exit && file != nil {
		file.Sync()
		file.Close()
		file = nil
	}
}

func rotate() error {
	name := fmt.Sprintf("olad.%s.log", time.Now().Format("20060102-150405"))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	file = f
	if title != "" {
		file.WriteString(title + "\n")
	}
	return nil
}

// Since reports time elapsed since the last write, e.g. to decide
// whether an idle-buffer flush pass is due.
var lastWrite = mono.NanoTime()

func Since() time.Duration { return mono.Since(lastWrite) }
