package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	infoTag    = color.New(color.FgCyan).SprintFunc()
	warnTag    = color.New(color.FgYellow).SprintFunc()
	errorTag   = color.New(color.FgRed, color.Bold).SprintFunc()
	successTag = color.New(color.FgGreen).SprintFunc()
	failureTag = color.New(color.FgRed).SprintFunc()
)

// Logger writes human-readable status messages to stdout/stderr. Prefixes are
// colored when the output is a terminal.
type Logger struct{}

// Info prints an informational message.
func (Logger) Info(msg string) {
	writeLog(os.Stdout, infoTag("[INFO]"), msg)
}

// Warn prints a warning message.
func (Logger) Warn(msg string) {
	writeLog(os.Stdout, warnTag("[WARN]"), msg)
}

// Error prints an error message.
func (Logger) Error(msg string) {
	writeLog(os.Stderr, errorTag("[ERROR]"), msg)
}

// Success prints a success message.
func (Logger) Success(msg string) {
	writeLog(os.Stdout, successTag("[OK]"), msg)
}

// Failure prints a failed-operation message.
func (Logger) Failure(msg string) {
	writeLog(os.Stdout, failureTag("[FAIL]"), msg)
}

func writeLog(stream *os.File, level, msg string) {
	outputMu.Lock()
	defer outputMu.Unlock()
	defaultProgressManager.clearLineLocked(stream)
	fmt.Fprintln(stream, level, msg)
}
