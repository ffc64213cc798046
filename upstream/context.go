package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// Negotiator makes sure the upstream has an academic period selected for the
// session before any report is fetched. It keeps no state between calls: the
// upstream can drop the selected period at any time, so it is checked every time.
type Negotiator struct {
	client *Client
	logger *slog.Logger
}

// NewNegotiator returns a Negotiator using c.
func NewNegotiator(c *Client) *Negotiator {
	return &Negotiator{client: c, logger: c.logger}
}

// EnsureContext queries the context endpoint and, when the upstream answers
// with the period chooser, commits the most recent period.
func (n *Negotiator) EnsureContext(ctx context.Context, cookies CookieSet) error {
	page, err := n.client.send(ctx, roundTrip{
		op:      "get context",
		method:  http.MethodGet,
		target:  getContextPath,
		cookies: cookies,
	})
	if err != nil {
		return err
	}
	if !page.OK() {
		return ClassifyStatus("get context", page.StatusCode, "failed to validate context")
	}

	switch ClassifyPage(page.Body, page.URL.String()) {
	case PageLoginRedirect:
		return SessionExpired("upstream session expired")
	case PagePeriodInterstitial:
	default:
		return nil
	}

	sel, err := ParsePeriodSelection(page.Body)
	if err != nil {
		return newError(CodeContextInvalid, "could not read period selection", err)
	}
	opt, ok := sel.Latest()
	if !ok {
		return ContextInvalid("could not select a period")
	}
	n.logger.Debug("selecting academic period", "label", opt.Label, "period", opt.Number, "options", len(sel.Options))
	return n.commit(ctx, cookies, page.URL, sel, opt)
}

// commit replays the request that records the chosen period upstream.
// Relative links and form actions resolve against the interstitial's URL.
func (n *Negotiator) commit(ctx context.Context, cookies CookieSet, pageURL *url.URL, sel *PeriodSelection, opt PeriodOption) error {
	var rt roundTrip
	switch t := opt.Token.(type) {
	case DirectLink:
		rt = roundTrip{
			op:      "set context",
			method:  http.MethodGet,
			target:  resolveAgainst(pageURL, t.URL),
			cookies: cookies,
		}
	case FormToken:
		action := sel.Action
		if action == "" {
			action = setContextPath
		}
		rt = roundTrip{
			op:      "set context",
			method:  http.MethodPost,
			target:  resolveAgainst(pageURL, action),
			cookies: cookies,
			form:    SelectionBody(opt.Label, t),
			referer: getContextPath,
		}
	default:
		return newError(CodeContextInvalid, "could not select a period", fmt.Errorf("unsupported period token %T", opt.Token))
	}

	page, err := n.client.send(ctx, rt)
	if err != nil {
		return err
	}
	if !page.OK() {
		return ClassifyStatus("set context", page.StatusCode, "failed to select period")
	}
	return nil
}

// resolveAgainst resolves ref relative to the page it was found on. Refs that
// do not parse are returned as is and rejected later by the client.
func resolveAgainst(page *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || page == nil {
		return ref
	}
	return page.ResolveReference(u).String()
}
