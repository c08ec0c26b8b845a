// Package logs reads the daemon log file for the CLI.
//
// Last returns the final lines with bounded memory, Since reads whatever was
// appended after an offset, and Follow polls until its context ends. A log
// that shrank is treated as rotated and read again from the start.
package logs
