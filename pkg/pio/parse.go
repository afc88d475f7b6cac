package pio

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/3leaps/goflash/pkg/buildrun"
)

var (
	diagnosticRe = regexp.MustCompile(`^(.+?):(\d+):(?:(\d+):)?\s*(fatal error|error|warning|note):\s*(.*)$`)
	linkerRe     = regexp.MustCompile(`^(.+?):\(.*\): (undefined reference to .*)$`)
	programRe    = regexp.MustCompile(`(?m)^\s*(?:Program|Flash):.*?(\d+)\s+bytes`)
	dataRe       = regexp.MustCompile(`(?m)^\s*(?:Data|RAM):.*?(\d+)\s+bytes`)
)

// ParseDiagnostics extracts gcc-style compiler and linker messages.
func ParseDiagnostics(output string) []buildrun.Diagnostic {
	var diags []buildrun.Diagnostic
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := diagnosticRe.FindStringSubmatch(line); m != nil {
			d := buildrun.Diagnostic{
				File:     m[1],
				Severity: m[4],
				Message:  m[5],
			}
			d.Line, _ = strconv.Atoi(m[2])
			if m[3] != "" {
				d.Column, _ = strconv.Atoi(m[3])
			}
			if d.Severity == "fatal error" {
				d.Severity = "error"
			}
			diags = append(diags, d)
			continue
		}
		if m := linkerRe.FindStringSubmatch(line); m != nil {
			diags = append(diags, buildrun.Diagnostic{File: m[1], Severity: "error", Message: m[2]})
		}
	}
	return diags
}

// ParseSize reads the memory usage summary printed after a successful
// build. It returns nil when the output holds no program size line.
func ParseSize(output string) *buildrun.SizeReport {
	m := programRe.FindStringSubmatch(output)
	if m == nil {
		return nil
	}
	size := &buildrun.SizeReport{}
	size.Program, _ = strconv.Atoi(m[1])
	if d := dataRe.FindStringSubmatch(output); d != nil {
		size.Data, _ = strconv.Atoi(d[1])
	}
	return size
}
