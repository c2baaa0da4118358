package main

import (
	"time"

	"github.com/briandowns/spinner"
)

const spinnerInterval = 100 * time.Millisecond

// activity shows a spinner on stderr while a request is in flight. It is a
// no-op in quiet mode or when stderr is not a terminal.
type activity struct {
	s *spinner.Spinner
}

func startActivity(cc *CLIContext, msg string) *activity {
	if cc.Flags.Quiet || !isTerminal(cc.Err) {
		return &activity{}
	}

	s := spinner.New(spinner.CharSets[14], spinnerInterval, spinner.WithWriter(cc.Err))
	s.Suffix = " " + msg
	s.Start()

	return &activity{s: s}
}

// Stop removes the spinner line. Safe to call more than once.
func (a *activity) Stop() {
	if a.s != nil {
		a.s.Stop()
		a.s = nil
	}
}
