// Package logging provides the minimal printf style logging used by all
// vitals tools. Info goes to stdout, warnings and errors to stderr.
package logging

import (
	"fmt"
	"os"
)

// Verbose enables Debug output when set by the program.
var Verbose bool

func Debug(format string, args ...interface{}) {
	if !Verbose {
		return
	}
	_format := "[D] " + format + "\n"
	fmt.Printf(_format, args...)
}

func Info(format string, args ...interface{}) {
	_format := "[I] " + format + "\n"
	fmt.Printf(_format, args...)
}

func Warn(format string, args ...interface{}) {
	_format := "[W] " + format + "\n"
	fmt.Fprintf(os.Stderr, _format, args...)
}

func Error(format string, args ...interface{}) {
	_format := "[E] " + format + "\n"
	fmt.Fprintf(os.Stderr, _format, args...)
}

func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	panic(msg)
}
