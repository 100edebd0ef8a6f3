// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the ragex CLI's terminal output helpers: colored
// status lines, headers, and number formatting, built on fatih/color with
// a TTY check via go-isatty so piped/redirected output stays plain.
package ui

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Color handles used directly by callers that want fine-grained control
// (e.g. ui.Green.Println(...)).
var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Cyan   = color.New(color.FgCyan)
	Dim    = color.New(color.Faint)
	Bold   = color.New(color.Bold)
)

// InitColors decides whether color output is enabled. It disables color
// when --no-color was passed or stdout is not a terminal.
func InitColors(noColor bool) {
	if noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Header prints a bold section header.
func Header(title string) {
	_, _ = Bold.Printf("\n=== %s ===\n", title)
}

// SubHeader prints a smaller, dim section header.
func SubHeader(title string) {
	_, _ = Dim.Printf("\n%s\n", title)
}

// Label returns a bold-formatted field label, e.g. ui.Label("Project ID:").
func Label(text string) string {
	return Bold.Sprint(text)
}

// DimText returns s rendered in a dim/faint color.
func DimText(s string) string {
	return Dim.Sprint(s)
}

// CountText formats an integer count with thousands separators, dimmed.
func CountText(n int) string {
	return Dim.Sprint(formatThousands(n))
}

func formatThousands(n int) string {
	s := strconv.Itoa(n)
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

// Info prints an informational line to stdout.
func Info(msg string) {
	fmt.Println(msg)
}

// Infof prints a formatted informational line to stdout.
func Infof(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// Success prints a green success line.
func Success(msg string) {
	_, _ = Green.Printf("✓ %s\n", msg)
}

// Successf prints a formatted green success line.
func Successf(format string, args ...any) {
	_, _ = Green.Printf("✓ "+format+"\n", args...)
}

// Warning prints a yellow warning line.
func Warning(msg string) {
	_, _ = Yellow.Printf("⚠ %s\n", msg)
}

// Warningf prints a formatted yellow warning line.
func Warningf(format string, args ...any) {
	_, _ = Yellow.Printf("⚠ "+format+"\n", args...)
}

// Error prints a red error line to stderr.
func Error(msg string) {
	_, _ = Red.Fprintf(os.Stderr, "✗ %s\n", msg)
}

// Errorf prints a formatted red error line to stderr.
func Errorf(format string, args ...any) {
	_, _ = Red.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}
