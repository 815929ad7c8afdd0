package cmd

import (
	"github.com/fatih/color"

	"github.com/xkilldash9x/studypilot/api/schemas"
)

// ui colours terminal output. fatih/color disables itself when stdout is not
// a terminal or NO_COLOR is set.
type ui struct {
	title func(a ...interface{}) string
	ok    func(a ...interface{}) string
	warn  func(a ...interface{}) string
	err   func(a ...interface{}) string
	dim   func(a ...interface{}) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func (u *ui) status(s schemas.FinalStatus) string {
	switch s {
	case schemas.StatusCompleted:
		return u.ok(string(s))
	case schemas.StatusSubmissionFailed:
		return u.warn(string(s))
	case schemas.StatusAborted:
		return u.err(string(s))
	default:
		return u.dim(string(s))
	}
}

func (u *ui) marked(m bool) string {
	if m {
		return u.ok("done")
	}
	return u.warn("pending")
}
