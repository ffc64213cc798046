package reports

import (
	"fmt"
	"regexp"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jmcleod/eduportal/internal/dom"
)

// Discipline is a subject the student can look up assessments for.
type Discipline struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Grades lists the disciplines of the EduNotasAvaliacao page.
type Grades struct {
	Disciplines []Discipline `json:"disciplines"`
}

var disciplinePrefixRe = regexp.MustCompile(`^\d+-[\d-]+-`)

// ParseGrades reads the discipline picker (select#ddlTurmaDisc). The
// placeholder option has value -1 and the names carry a numeric class prefix
// that is stripped.
func ParseGrades(body string) (*Grades, error) {
	doc, err := dom.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing grades: %w", err)
	}
	sel := dom.First(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Select && dom.Attr(n, "id") == "ddlTurmaDisc"
	})
	if sel == nil {
		return nil, ErrEmptyReport
	}
	out := &Grades{}
	for _, opt := range dom.All(sel, dom.Is(atom.Option)) {
		code := dom.Attr(opt, "value")
		if code == "" || code == "-1" {
			continue
		}
		out.Disciplines = append(out.Disciplines, Discipline{
			Code: code,
			Name: disciplinePrefixRe.ReplaceAllString(dom.Text(opt, " "), ""),
		})
	}
	if len(out.Disciplines) == 0 {
		return nil, ErrEmptyReport
	}
	return out, nil
}
