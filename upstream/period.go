package upstream

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jmcleod/eduportal/internal/dom"
	"github.com/jmcleod/eduportal/internal/util"
)

// PeriodToken is how a period choice is committed upstream: either a
// DirectLink to follow or an opaque FormToken to POST.
type PeriodToken interface {
	isPeriodToken()
}

// DirectLink is a period choice committed by a GET to URL.
type DirectLink struct {
	URL string
}

// FormToken is the opaque hdKeyTD value from a SubmitForm handler. It carries
// backslash escapes that must be percent-encoded exactly once.
type FormToken struct {
	Value string
}

func (DirectLink) isPeriodToken() {}
func (FormToken) isPeriodToken()  {}

// PeriodOption is one entry of the period chooser.
type PeriodOption struct {
	Label string
	// Number is the "Período: N" value, 0 when the label has none.
	Number int
	Token  PeriodToken
}

// PeriodSelection is the parsed period chooser page.
type PeriodSelection struct {
	Options []PeriodOption
	// Action is where FormToken choices are posted.
	Action string
}

var (
	periodNumberRe = regexp.MustCompile(`Per[íi]odo:\s*(\d+)`)
	submitLabelRe  = regexp.MustCompile(`SubmitForm\('([^']+)'`)
	submitTokenRe  = regexp.MustCompile(`SubmitForm\('[^']+',\s*'([^']+)'`)
)

// ParsePeriodSelection extracts the period options from an interstitial page.
// Two layouts exist: a frmCtx form whose list items call SubmitForm, and a
// bare list of anchors whose text carries "Período: N".
func ParsePeriodSelection(body string) (*PeriodSelection, error) {
	doc, err := dom.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing period selection: %w", err)
	}

	if form := dom.First(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Form && dom.Attr(n, "id") == "frmCtx"
	}); form != nil {
		sel := &PeriodSelection{Action: dom.Attr(form, "action")}
		if sel.Action == "" {
			sel.Action = setContextPath
		}
		for _, list := range dom.All(doc, isListView) {
			for _, a := range dom.All(list, func(n *html.Node) bool {
				return n.DataAtom == atom.A && dom.Attr(n, "onclick") != "" && dom.HasAncestor(n, list, atom.Li)
			}) {
				if opt, ok := formOption(dom.Attr(a, "onclick")); ok {
					sel.Options = append(sel.Options, opt)
				}
			}
		}
		if len(sel.Options) > 0 {
			return sel, nil
		}
	}

	sel := &PeriodSelection{Action: setContextPath}
	for _, a := range dom.All(doc, dom.Is(atom.A)) {
		href, onclick := dom.Attr(a, "href"), dom.Attr(a, "onclick")
		if href == "" && onclick == "" {
			continue
		}
		label := dom.Text(a, " | ")
		m := periodNumberRe.FindStringSubmatch(label)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		opt := PeriodOption{Label: label, Number: n}
		if onclick != "" {
			tm := submitTokenRe.FindStringSubmatch(onclick)
			if tm == nil {
				continue
			}
			opt.Token = FormToken{Value: tm[1]}
		} else {
			opt.Token = DirectLink{URL: href}
		}
		sel.Options = append(sel.Options, opt)
	}
	return sel, nil
}

func formOption(onclick string) (PeriodOption, bool) {
	lm := submitLabelRe.FindStringSubmatch(onclick)
	if lm == nil {
		return PeriodOption{}, false
	}
	label, err := url.PathUnescape(lm[1])
	if err != nil {
		label = lm[1]
	}
	label = util.Normalize(label)
	var token string
	if tm := submitTokenRe.FindStringSubmatch(onclick); tm != nil {
		token = tm[1]
	}
	return PeriodOption{Label: label, Number: periodNumber(label), Token: FormToken{Value: token}}, true
}

func periodNumber(label string) int {
	m := periodNumberRe.FindStringSubmatch(label)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// Latest returns the option with the highest period number. Ties keep the
// first one encountered. It reports false when no option has a number.
func (s *PeriodSelection) Latest() (PeriodOption, bool) {
	best := -1
	for i, opt := range s.Options {
		if opt.Number > 0 && (best < 0 || opt.Number > s.Options[best].Number) {
			best = i
		}
	}
	if best < 0 {
		return PeriodOption{}, false
	}
	return s.Options[best], true
}

// SelectionBody builds the form body that commits a FormToken choice. The
// token is written almost raw: only '\' becomes %5c, since running it through
// a general encoder escapes the '%' again and the upstream rejects it.
func SelectionBody(label string, token FormToken) string {
	return "hdKeyTD=" + strings.ReplaceAll(token.Value, `\`, "%5c") +
		"&hdLabel=" + url.QueryEscape(label) +
		"&hdcbSalvarContexto=false"
}

func isListView(n *html.Node) bool {
	return n.DataAtom == atom.Ul && dom.Attr(n, "data-role") == "listview"
}
