// Package sweeplog renders instrument traffic and sweep progress with
// a little color, for the interactive example programs.
package sweeplog

import (
	"log"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/curvelab/ivsweep"
)

var (
	CmdStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	RespStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	StepStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

func isPrintable(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		return r < 32 && r != '\t' || r > 127
	})
}

// PrettyFuncs returns query and cmd wrappers over the meter link that
// log each exchange. Binary garbage in a response is hex-dumped rather
// than splatted on the terminal.
func PrettyFuncs(q ivsweep.Querier) (query func(string) string, cmd func(string)) {
	query = func(s string) string {
		a, err := q.Query(s)
		rs := CmdStyle.Render(s)
		if err != nil {
			log.Printf("query %s: error %s", rs, err)
			return a
		}
		switch {
		case len(a) == 0:
			log.Printf("%s: %s", rs, RespStyle.Render("<no response>"))
		case isPrintable(a):
			log.Printf("%s: %s", rs, RespStyle.Render(a))
		default:
			log.Printf("%s: [%d] % 2x", rs, len(a), []byte(a))
		}
		return a
	}
	cmd = func(s string) {
		if err := q.Command("%s", s); err != nil {
			log.Printf("cmd %s: error %s", CmdStyle.Render(s), err)
		} else {
			log.Printf("%s()", CmdStyle.Render(s))
		}
	}
	return query, cmd
}

// Step logs one sweep step as a styled progress line.
func Step(step, total int, desc string) {
	log.Printf("%s %s", StepStyle.Render(progress(step, total)), desc)
}

func progress(step, total int) string {
	var b strings.Builder
	b.WriteByte('[')
	width := 20
	fill := 0
	if total > 0 {
		fill = step * width / total
	}
	for i := 0; i < width; i++ {
		if i < fill {
			b.WriteByte('=')
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteByte(']')
	return b.String()
}
