// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package internal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Singleton log writer. Writes to stdout, and optionally to a file.
// Does not add prefixes, or force newlines. Safe for concurrent use by operators

type logWriter struct {
	mutex     sync.Mutex
	stdout    io.Writer
	logFile   *bufio.Writer // the optional additional file to log into
	logFileOS *os.File
}

var log = &logWriter{stdout: os.Stdout}

// The process-wide log as io.Writer, for operator contexts
func Log() io.Writer { return log }

func (l *logWriter) Write(p []byte) (n int, err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	n, err = l.stdout.Write(p)
	if err != nil || l.logFile == nil {
		return n, err
	}
	return l.logFile.Write(p)
}

func (l *logWriter) closeFile() error {
	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Flush()
	if cerr := l.logFileOS.Close(); err == nil {
		err = cerr
	}
	l.logFile, l.logFileOS = nil, nil
	return err
}

// Enables logging to file, closing any previous log file
func LogAlsoToFile(fileName string) (err error) {
	log.mutex.Lock()
	defer log.mutex.Unlock()
	if err = log.closeFile(); err != nil {
		return err
	}
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	log.logFileOS, log.logFile = f, bufio.NewWriter(f)
	return nil
}

// Derives the log file name for the %auto setting from an output file pattern:
// the pattern up to its first placeholder or suffix, plus .log
func AutoLogFileName(outPattern string) string {
	base := outPattern
	if i := strings.Index(base, "%"); i >= 0 {
		base = base[:i]
	}
	if i := strings.LastIndex(base, "."); i > strings.LastIndexAny(base, `/\`) {
		base = base[:i]
	}
	base = strings.TrimRight(base, "_-.")
	if base == "" {
		base = "nadirlight"
	}
	return base + ".log"
}

func LogPrintln(args ...interface{}) (n int, err error) {
	return fmt.Fprintln(log, args...)
}

func LogPrintf(format string, args ...interface{}) (n int, err error) {
	return fmt.Fprintf(log, format, args...)
}

func LogFatalf(format string, args ...interface{}) {
	fmt.Fprintf(log, format, args...)
	LogClose()
	os.Exit(1)
}

// Flushes the log file, if any
func LogSync() error {
	log.mutex.Lock()
	defer log.mutex.Unlock()
	if log.logFile == nil {
		return nil
	}
	if err := log.logFile.Flush(); err != nil {
		return err
	}
	return log.logFileOS.Sync()
}

// Flushes and closes the log file, if any
func LogClose() error {
	log.mutex.Lock()
	defer log.mutex.Unlock()
	return log.closeFile()
}
