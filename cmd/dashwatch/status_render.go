package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"dashwatch/internal/deps"
	"dashwatch/internal/dispatch"
	"dashwatch/internal/preflight"
)

type level int

const (
	levelInfo level = iota
	levelOK
	levelWarn
	levelError
)

type levelStyle struct {
	tag   string
	color string
}

const ansiReset = "\x1b[0m"

var levelStyles = map[level]levelStyle{
	levelInfo:  {tag: "INFO", color: "\x1b[34m"},
	levelOK:    {tag: "OK", color: "\x1b[32m"},
	levelWarn:  {tag: "WARN", color: "\x1b[33m"},
	levelError: {tag: "ERROR", color: "\x1b[31m"},
}

const labelColumn = 20

var titleCaser = cases.Title(language.English)

// statusReport accumulates the sections printed by the status command.
type statusReport struct {
	colorize bool
	lines    []string
}

func newStatusReport(out io.Writer) *statusReport {
	return &statusReport{colorize: isTerminal(out)}
}

func (r *statusReport) section(title string) {
	if len(r.lines) > 0 {
		r.lines = append(r.lines, "")
	}
	title = strings.TrimSpace(title)
	r.lines = append(r.lines, r.paint(levelInfo, title), r.paint(levelInfo, strings.Repeat("=", len(title))))
}

func (r *statusReport) add(label string, lvl level, message string) {
	r.lines = append(r.lines, r.paint(lvl, formatStatus(label, lvl, message)))
}

func (r *statusReport) dependency(dep deps.Status) {
	switch {
	case dep.Available:
		r.add(dep.Name, levelOK, dep.Command)
	case dep.Optional:
		r.add(dep.Name, levelWarn, dep.Detail)
	default:
		r.add(dep.Name, levelError, dep.Detail)
	}
}

func (r *statusReport) check(result preflight.Result) {
	lvl := levelOK
	if !result.Passed {
		lvl = levelError
	}
	r.add(result.Name, lvl, result.Detail)
}

func (r *statusReport) jobCount(state dispatch.State, count int) {
	r.add(stateLabel(state), stateLevel(state), fmt.Sprintf("%d", count))
}

func (r *statusReport) paint(lvl level, s string) string {
	if !r.colorize {
		return s
	}
	return levelStyles[lvl].color + s + ansiReset
}

func (r *statusReport) String() string {
	return strings.Join(r.lines, "\n")
}

// formatStatus renders "  Label:   [TAG] message" with labels padded to a
// shared column.
func formatStatus(label string, lvl level, message string) string {
	tag := "[" + levelStyles[lvl].tag + "]"
	if message != "" {
		tag += " " + message
	}
	return fmt.Sprintf("  %-*s %s", labelColumn, label+":", tag)
}

// stateLabel renders a job state for humans, e.g. "Succeeded".
func stateLabel(state dispatch.State) string {
	return titleCaser.String(string(state))
}

func stateLevel(state dispatch.State) level {
	switch state {
	case dispatch.StateSucceeded:
		return levelOK
	case dispatch.StateFailed:
		return levelError
	case dispatch.StateRunning:
		return levelWarn
	default:
		return levelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
