package reports

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jmcleod/eduportal/internal/dom"
)

// Class is one weekly class slot of the schedule grid.
type Class struct {
	Weekday      int               `json:"weekday"`
	Day          string            `json:"day"`
	Start        string            `json:"start"`
	End          string            `json:"end"`
	Subject      string            `json:"subject"`
	Group        string            `json:"group"`
	Subgroup     string            `json:"subgroup"`
	StartDate    string            `json:"startDate"`
	StartDateISO string            `json:"startDateIso"`
	EndDate      string            `json:"endDate"`
	EndDateISO   string            `json:"endDateIso"`
	Building     string            `json:"building"`
	Block        string            `json:"block"`
	Room         string            `json:"room"`
	GroupType    string            `json:"groupType"`
	DetailID     string            `json:"detailId"`
	DetailPath   string            `json:"detailPath"`
	Details      map[string]string `json:"details"`
}

// Schedule is the weekly class grid.
type Schedule struct {
	Classes []Class `json:"classes"`
}

var (
	dayHeaderRe = regexp.MustCompile(`^tdDia_(\d+)$`)
	detailIDRe  = regexp.MustCompile(`/EduQuadroHorarioAlunoDetalhe/(\d+)`)
)

// ParseSchedule reads the EduQuadroHorarioAluno page. Day columns are the
// th#tdDia_N headers and the classes of day N are the items of ul#dvDia_N.
func ParseSchedule(body string) (*Schedule, error) {
	doc, err := dom.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule: %w", err)
	}

	days := make(map[int]string)
	for _, th := range dom.All(doc, dom.Is(atom.Th)) {
		if m := dayHeaderRe.FindStringSubmatch(dom.Attr(th, "id")); m != nil {
			n, _ := strconv.Atoi(m[1])
			days[n] = dom.Text(th, " ")
		}
	}

	sched := &Schedule{Classes: []Class{}}
	for n := 1; n <= 7; n++ {
		id := fmt.Sprintf("dvDia_%d", n)
		ul := dom.First(doc, func(e *html.Node) bool {
			return e.DataAtom == atom.Ul && dom.Attr(e, "id") == id
		})
		if ul == nil {
			continue
		}
		for _, li := range dom.All(ul, dom.Is(atom.Li)) {
			a := dom.First(li, dom.Is(atom.A))
			if a == nil {
				continue
			}
			if strings.Contains(dom.Text(a, " "), "Nenhum registro encontrado") {
				continue
			}
			sched.Classes = append(sched.Classes, parseClass(n, days[n], a))
		}
	}
	if len(sched.Classes) == 0 {
		return nil, ErrEmptyReport
	}
	return sched, nil
}

func parseClass(weekday int, day string, a *html.Node) Class {
	href := dom.Attr(a, "href")
	c := Class{
		Weekday:    weekday,
		Day:        day,
		DetailPath: href,
		Details:    make(map[string]string),
	}
	if m := detailIDRe.FindStringSubmatch(href); m != nil {
		c.DetailID = m[1]
	}
	if block := dom.First(a, func(n *html.Node) bool { return dom.HasClass(n, "ui-block-a") }); block != nil {
		if parts := strings.Fields(dom.Text(block, " ")); len(parts) > 0 {
			c.Start = parts[0]
			if len(parts) > 1 {
				c.End = parts[len(parts)-1]
			}
		}
	}
	if h2 := dom.First(a, dom.Is(atom.H2)); h2 != nil {
		c.Subject = dom.Text(h2, " ")
	}
	for _, p := range dom.All(a, dom.Is(atom.P)) {
		if dom.First(p, dom.Is(atom.Strong)) == nil {
			continue
		}
		for k, v := range labelled(p, dom.Is(atom.Strong)) {
			c.Details[k] = v
		}
	}

	c.Group = c.Details["Turma"]
	c.Subgroup = c.Details["Subturma"]
	c.StartDate = c.Details["Data inicial"]
	c.StartDateISO = isoDate(c.StartDate)
	c.EndDate = c.Details["Data final"]
	c.EndDateISO = isoDate(c.EndDate)
	c.Building = c.Details["Prédio"]
	c.Block = c.Details["Bloco"]
	c.Room = c.Details["Sala"]
	c.GroupType = c.Details["Tipo turma"]
	return c
}
