// Package reports turns the upstream report pages into JSON-friendly values.
// Parsers extract what the page shows; the only derived values are the
// assessment totals and the combined attendance overview.
package reports

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/jmcleod/eduportal/internal/dom"
	"github.com/jmcleod/eduportal/internal/util"
)

// Upstream report paths, relative to the upstream base URL.
const (
	SchedulePath   = "/EducaMobile/Educacional/EduAluno/EduQuadroHorarioAluno?tp=A"
	AttendancePath = "/EducaMobile/Educacional/EduAluno/EduAvisos?tp=A"
	GradesPath     = "/EducaMobile/Educacional/EduAluno/EduNotasAvaliacao?tp=A"
	HistoryPath    = "/EducaMobile/Educacional/EduAluno/EduAnaliseCurricular?tp=A"
)

// ErrEmptyReport is returned by parsers of reports that are never empty for
// an enrolled student. The upstream serves an empty shell to stale sessions,
// so callers treat it as an expired session.
var ErrEmptyReport = errors.New("report has no entries")

var ddmmyyyy = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)

// isoDate converts DD/MM/YYYY to YYYY-MM-DD, or "" when s is not a date.
func isoDate(s string) string {
	m := ddmmyyyy.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ""
	}
	return m[3] + "-" + m[2] + "-" + m[1]
}

// parseDecimal reads a pt-BR number such as "12,5%" or "7,0".
func parseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// labelled collects "<tag>Label:</tag> value" pairs from n. Text between one
// label element and the next is the value of the first.
func labelled(n *html.Node, isLabel func(*html.Node) bool) map[string]string {
	out := make(map[string]string)
	var label string
	var value strings.Builder
	flush := func() {
		if label != "" {
			out[label] = util.Normalize(util.CollapseSpace(value.String()))
		}
		value.Reset()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.ElementNode && isLabel(c):
			flush()
			label = strings.TrimSpace(strings.TrimSuffix(dom.Text(c, " "), ":"))
		case c.Type == html.TextNode:
			value.WriteString(c.Data)
		case c.Type == html.ElementNode:
			value.WriteString(" " + dom.Text(c, " ") + " ")
		}
	}
	flush()
	return out
}
