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

// AttendanceStatus is how close a subject is to the absence limit, as the
// upstream colours it.
type AttendanceStatus string

const (
	AttendanceBelow AttendanceStatus = "below"
	AttendanceNear  AttendanceStatus = "near"
	AttendanceAbove AttendanceStatus = "above"
)

// AttendanceItem is one subject of the attendance notice.
type AttendanceItem struct {
	Code            string           `json:"code"`
	Subject         string           `json:"subject"`
	Group           string           `json:"group"`
	Situation       string           `json:"situation"`
	AbsenceLimit    string           `json:"absenceLimit"`
	Percentage      string           `json:"percentage"`
	PercentageValue float64          `json:"percentageValue"`
	Status          AttendanceStatus `json:"status"`
}

// Attendance is the "Aviso de frequência" section of EduAvisos.
type Attendance struct {
	Items []AttendanceItem `json:"items"`
}

var (
	subjectCodeRe = regexp.MustCompile(`(\d+-\d+-\d+)\s*\|\s*(.+)`)
	colorRe       = regexp.MustCompile(`color:\s*([^;"]+)`)
)

// ParseAttendance reads the EduAvisos page. A page without the attendance
// section yields no items; students without absences get no notice.
func ParseAttendance(body string) (*Attendance, error) {
	doc, err := dom.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing attendance: %w", err)
	}
	out := &Attendance{Items: []AttendanceItem{}}

	h2 := dom.First(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.H2 && strings.HasPrefix(util.FoldAccents(dom.Text(n, " ")), "Aviso de frequencia")
	})
	if h2 == nil || h2.Parent == nil {
		return out, nil
	}
	ul := dom.First(h2.Parent, dom.Is(atom.Ul))
	if ul == nil {
		return out, nil
	}

	for _, li := range dom.All(ul, func(n *html.Node) bool {
		return n.DataAtom == atom.Li && dom.HasClass(n, "no-margin")
	}) {
		h3 := dom.First(li, dom.Is(atom.H3))
		if h3 == nil {
			continue
		}
		m := subjectCodeRe.FindStringSubmatch(dom.Text(h3, " "))
		if m == nil {
			continue
		}
		item := AttendanceItem{Code: m[1], Subject: strings.TrimSpace(m[2]), Status: AttendanceBelow}
		for _, p := range dom.All(li, dom.Is(atom.P)) {
			text := dom.Text(p, " ")
			folded := util.FoldAccents(text)
			switch {
			case strings.HasPrefix(folded, "Turma:"):
				item.Group = strings.TrimSpace(strings.TrimPrefix(text, "Turma:"))
			case strings.HasPrefix(folded, "Situacao:"):
				item.Situation = strings.TrimSpace(text[strings.Index(text, ":")+1:])
			case strings.HasPrefix(folded, "Limite de faltas:"):
				item.AbsenceLimit = strings.TrimSpace(strings.TrimPrefix(text, "Limite de faltas:"))
			}
		}
		if count := dom.First(li, func(n *html.Node) bool {
			return n.DataAtom == atom.Span && dom.HasClass(n, "ui-li-count")
		}); count != nil {
			item.Percentage = dom.Text(count, " ")
			item.PercentageValue, _ = parseDecimal(item.Percentage)
			item.Status = statusFromColor(dom.Attr(count, "style"))
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func statusFromColor(style string) AttendanceStatus {
	m := colorRe.FindStringSubmatch(style)
	if m == nil {
		return AttendanceBelow
	}
	switch strings.ToLower(strings.TrimSpace(m[1])) {
	case "#000000", "#000", "black":
		return AttendanceBelow
	case "#1e84bf":
		return AttendanceNear
	default:
		return AttendanceAbove
	}
}
