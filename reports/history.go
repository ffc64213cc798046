package reports

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jmcleod/eduportal/internal/dom"
	"github.com/jmcleod/eduportal/internal/util"
)

// SubjectStatus is the completion state shown by the icon next to a subject.
type SubjectStatus string

const (
	SubjectCompleted  SubjectStatus = "completed"
	SubjectPending    SubjectStatus = "pending"
	SubjectFailed     SubjectStatus = "not-completed"
	SubjectEquivalent SubjectStatus = "equivalent"
)

// HistorySubject is one subject of the curriculum analysis.
type HistorySubject struct {
	Name              string        `json:"name"`
	Code              string        `json:"code"`
	Credits           string        `json:"credits"`
	Workload          string        `json:"workload"`
	CompletedWorkload string        `json:"completedWorkload"`
	Situation         string        `json:"situation"`
	Concept           string        `json:"concept,omitempty"`
	Grade             string        `json:"grade,omitempty"`
	Absences          string        `json:"absences,omitempty"`
	Term              string        `json:"term,omitempty"`
	Status            SubjectStatus `json:"status"`
}

// HistoryPeriod groups the subjects under one curriculum period divider.
type HistoryPeriod struct {
	Name          string           `json:"name"`
	TotalWorkload string           `json:"totalWorkload"`
	Subjects      []HistorySubject `json:"subjects"`
}

// History is the EduAnaliseCurricular page.
type History struct {
	Periods []HistoryPeriod `json:"periods"`
}

var termRe = regexp.MustCompile(`\(\s*(\d[^)]*?)\s*\)`)

// ParseHistory reads the first ul[data-divider-theme=b] list. Divider items
// open a period; the remaining items are subjects or the period's
// "Total CH integralizada" line.
func ParseHistory(body string) (*History, error) {
	doc, err := dom.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing history: %w", err)
	}
	ul := dom.First(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Ul && dom.Attr(n, "data-divider-theme") == "b"
	})
	if ul == nil {
		return nil, ErrEmptyReport
	}

	out := &History{}
	current := func() *HistoryPeriod {
		if len(out.Periods) == 0 {
			out.Periods = append(out.Periods, HistoryPeriod{Subjects: []HistorySubject{}})
		}
		return &out.Periods[len(out.Periods)-1]
	}
	for _, li := range dom.All(ul, dom.Is(atom.Li)) {
		switch {
		case dom.Attr(li, "data-role") == "list-divider":
			out.Periods = append(out.Periods, HistoryPeriod{Name: dom.Text(li, " "), Subjects: []HistorySubject{}})
		case dom.Attr(li, "data-icon") == "false":
			text := dom.Text(li, " ")
			if _, total, ok := strings.Cut(text, "Total CH integralizada:"); ok {
				current().TotalWorkload = strings.TrimSpace(total)
				continue
			}
			if s, ok := parseSubject(li); ok {
				p := current()
				p.Subjects = append(p.Subjects, s)
			}
		}
	}
	if len(out.Periods) == 0 {
		return nil, ErrEmptyReport
	}
	return out, nil
}

func parseSubject(li *html.Node) (HistorySubject, bool) {
	h2 := dom.First(li, dom.Is(atom.H2))
	p := dom.First(li, dom.Is(atom.P))
	if h2 == nil || p == nil {
		return HistorySubject{}, false
	}
	s := HistorySubject{Name: dom.Text(h2, " "), Status: SubjectPending}
	if img := dom.First(h2, dom.Is(atom.Img)); img != nil {
		src := dom.Attr(img, "src")
		switch {
		case strings.Contains(src, "img_concluida"):
			s.Status = SubjectCompleted
		case strings.Contains(src, "img_naoconcluida"):
			s.Status = SubjectFailed
		case strings.Contains(src, "equivalente"):
			s.Status = SubjectEquivalent
		}
	}

	fields := make(map[string]string)
	for k, v := range labelled(p, dom.Is(atom.B)) {
		fields[util.FoldAccents(k)] = v
	}
	s.Code = fields["Cod. disciplina"]
	s.Credits = fields["Creditos"]
	s.Workload = fields["C.H."]
	s.CompletedWorkload = fields["C.H. Integralizada"]
	s.Situation = stripTerm(fields["Situacao"])
	s.Concept = fields["Conceito"]
	s.Grade = fields["Nota"]
	s.Absences = fields["Faltas"]
	if m := termRe.FindStringSubmatch(dom.Text(p, " ")); m != nil {
		s.Term = m[1]
	}
	return s, true
}

func stripTerm(s string) string {
	return strings.TrimSpace(termRe.ReplaceAllString(s, ""))
}
