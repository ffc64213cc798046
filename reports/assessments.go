package reports

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jmcleod/eduportal/internal/dom"
	"github.com/jmcleod/eduportal/internal/util"
)

// AssessmentsPath is posted with ddlTurmaDisc=<discipline code>.
const AssessmentsPath = "/EducaMobile/Educacional/EduAluno/GetNotasAvaliacao"

// PassingPercentage is the overall score a student needs to pass.
const PassingPercentage = 60

// categoryWeights weighs each assessment category in the overall score.
var categoryWeights = map[string]float64{
	"Avaliação Parcial":   0.3,
	"Avaliação Somativa":  0.3,
	"Avaliação Formativa": 0.4,
	"Nota Parcial":        0.3,
	"Nota Somativa":       0.3,
	"Nota Formativa":      0.4,
}

// Summary categories the upstream repeats from the others.
var skippedCategories = map[string]bool{
	"Nota Parcial": true,
	"Nota Final":   true,
}

// Assessment is one graded activity.
type Assessment struct {
	Name  string `json:"name"`
	Date  string `json:"date,omitempty"`
	Grade string `json:"grade,omitempty"`
	Value string `json:"value,omitempty"`
}

// AssessmentCategory groups the assessments under one list divider. Totals
// only count assessments whose grade or value is a number.
type AssessmentCategory struct {
	Name        string       `json:"name"`
	Assessments []Assessment `json:"assessments"`
	GradeTotal  float64      `json:"gradeTotal"`
	ValueTotal  float64      `json:"valueTotal"`
	Percentage  float64      `json:"percentage"`
}

// Assessments is the GetNotasAvaliacao page of one discipline.
type Assessments struct {
	Categories []AssessmentCategory `json:"categories"`
	// Overall is the weighted score on a 0-100 scale, nil while no graded
	// category has a weight.
	Overall           *float64 `json:"overall,omitempty"`
	PassingPercentage float64  `json:"passingPercentage"`
}

var (
	assessmentDateRe  = regexp.MustCompile(`Data da avaliação:\s*(\d{2}/\d{2}/\d{4})`)
	assessmentValueRe = regexp.MustCompile(`Valor da avaliação:\s*(.+)`)
)

// ParseAssessments reads the first list view of the page. Divider items open
// a category; items styled with padding-bottom:1px are assessments. A
// discipline without assessments is a valid, empty answer.
func ParseAssessments(body string) (*Assessments, error) {
	doc, err := dom.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing assessments: %w", err)
	}
	out := &Assessments{Categories: []AssessmentCategory{}, PassingPercentage: PassingPercentage}
	ul := dom.First(doc, isListView)
	if ul == nil {
		return out, nil
	}

	var cats []AssessmentCategory
	for _, li := range dom.Children(ul, dom.Is(atom.Li)) {
		switch {
		case dom.Attr(li, "data-role") == "list-divider":
			cats = append(cats, AssessmentCategory{Name: dom.Text(li, " "), Assessments: []Assessment{}})
		case strings.Contains(strings.ReplaceAll(dom.Attr(li, "style"), " ", ""), "padding-bottom:1px"):
			if len(cats) == 0 {
				continue
			}
			if a, ok := parseAssessment(li); ok {
				c := &cats[len(cats)-1]
				c.Assessments = append(c.Assessments, a)
				if v, ok := parseDecimal(a.Grade); ok {
					c.GradeTotal += v
				}
				if v, ok := parseDecimal(a.Value); ok {
					c.ValueTotal += v
				}
			}
		}
	}

	var weighted, weightUsed float64
	for _, c := range cats {
		if skippedCategories[c.Name] {
			continue
		}
		if c.ValueTotal > 0 {
			c.Percentage = c.GradeTotal / c.ValueTotal * 100
		}
		if w := categoryWeights[c.Name]; w > 0 && c.ValueTotal > 0 && c.GradeTotal > 0 {
			weighted += c.GradeTotal / c.ValueTotal * w
			weightUsed += w
		}
		out.Categories = append(out.Categories, c)
	}
	// Categories without grades yet do not drag the score down.
	if weightUsed > 0 && weightUsed < 1 {
		weighted /= weightUsed
	}
	if weighted > 0 {
		overall := math.Round(weighted*1000) / 10
		out.Overall = &overall
	}
	return out, nil
}

func isListView(n *html.Node) bool {
	return n.DataAtom == atom.Ul && dom.Attr(n, "data-role") == "listview"
}

func parseAssessment(li *html.Node) (Assessment, bool) {
	var a Assessment
	for c := li.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			break
		}
		if c.Type == html.TextNode {
			a.Name += c.Data
		}
	}
	a.Name = util.Normalize(util.CollapseSpace(a.Name))
	if a.Name == "" {
		return a, false
	}

	for _, text := range textNodes(li) {
		if m := assessmentDateRe.FindStringSubmatch(text); m != nil && a.Date == "" {
			a.Date = m[1]
		}
		if m := assessmentValueRe.FindStringSubmatch(text); m != nil && a.Value == "" {
			a.Value = strings.TrimSpace(m[1])
		}
	}
	if count := dom.First(li, func(n *html.Node) bool {
		return n.DataAtom == atom.Span && dom.HasClass(n, "ui-li-count")
	}); count != nil {
		if g := dom.Text(count, " "); g != "" {
			if _, ok := parseDecimal(g); ok {
				a.Grade = g
			}
		}
	}
	if _, ok := parseDecimal(a.Value); !ok {
		a.Value = ""
	}
	return a, true
}

// textNodes returns the normalised text of every text node under n, so
// labels in neighbouring elements are never glued together.
func textNodes(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				if t := util.Normalize(util.CollapseSpace(c.Data)); t != "" {
					out = append(out, t)
				}
			case html.ElementNode:
				walk(c)
			}
		}
	}
	walk(n)
	return out
}
