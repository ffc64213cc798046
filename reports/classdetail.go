package reports

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jmcleod/eduportal/internal/dom"
	"github.com/jmcleod/eduportal/internal/util"
)

// ClassDetailPath returns the upstream path of the detail page for a class
// of the schedule (Class.DetailID).
func ClassDetailPath(id string) string {
	return "/EducaMobile/Educacional/EduAluno/EduQuadroHorarioAlunoDetalhe/" + id
}

// ClassDetail is the detail page of one class slot.
type ClassDetail struct {
	Time        string   `json:"time,omitempty"`
	SubjectCode string   `json:"subjectCode,omitempty"`
	SubjectName string   `json:"subjectName,omitempty"`
	StartDate   string   `json:"startDate,omitempty"`
	EndDate     string   `json:"endDate,omitempty"`
	Group       string   `json:"group,omitempty"`
	Subgroup    string   `json:"subgroup,omitempty"`
	GroupType   string   `json:"groupType,omitempty"`
	Professors    []string `json:"professors"`
	Building    string   `json:"building,omitempty"`
	Block       string   `json:"block,omitempty"`
	Room        string   `json:"room,omitempty"`
}

// ParseClassDetail reads the display-label/display-field pairs of the page
// and the professor list of the "Professor(es)" fieldset. Location fields are
// only read when the page has a location fieldset.
func ParseClassDetail(body string) (*ClassDetail, error) {
	doc, err := dom.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing class detail: %w", err)
	}

	fields := make(map[string]string)
	for _, label := range dom.All(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Div && dom.HasClass(n, "display-label")
	}) {
		value := nextElement(label)
		if value == nil || value.DataAtom != atom.Div ||
			!(dom.HasClass(value, "display-field") || dom.HasClass(value, "display-label")) {
			continue
		}
		key := util.FoldAccents(strings.TrimSpace(strings.TrimSuffix(dom.Text(label, " "), ":")))
		if _, seen := fields[key]; !seen {
			fields[key] = dom.Text(value, " ")
		}
	}

	d := &ClassDetail{
		Time:        fields["Horario"],
		SubjectCode: fields["Cod. disciplina"],
		SubjectName: fields["Nome disciplina"],
		StartDate:   fields["Data inicial"],
		EndDate:     fields["Data final"],
		Group:       fields["Turma"],
		Subgroup:    fields["Subturma"],
		GroupType:   fields["Tipo turma"],
		Professors:    []string{},
	}
	if fs := fieldset(doc, "Professor"); fs != nil {
		for _, ul := range dom.All(fs, isListView) {
			for _, li := range dom.All(ul, dom.Is(atom.Li)) {
				if name := dom.Text(li, " "); name != "" {
					d.Professors = append(d.Professors, name)
				}
			}
		}
	}
	if fieldset(doc, "Localiza") != nil {
		d.Building = fields["Predio"]
		d.Block = fields["Bloco"]
		d.Room = fields["Sala"]
	}
	return d, nil
}

// fieldset returns the first fieldset whose legend contains legend.
func fieldset(doc *html.Node, legend string) *html.Node {
	l := dom.First(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Legend && n.Parent != nil && n.Parent.DataAtom == atom.Fieldset &&
			strings.Contains(dom.Text(n, " "), legend)
	})
	if l == nil {
		return nil
	}
	return l.Parent
}

func nextElement(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}
