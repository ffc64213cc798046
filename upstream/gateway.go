package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"
)

// Gateway fetches report pages with the session cookies, after making sure a
// period context is set.
type Gateway struct {
	client     *Client
	negotiator *Negotiator
}

// NewGateway returns a Gateway using c.
func NewGateway(c *Client) *Gateway {
	return &Gateway{client: c, negotiator: NewNegotiator(c)}
}

// Negotiator returns the negotiator the gateway runs before each fetch.
func (g *Gateway) Negotiator() *Negotiator {
	return g.negotiator
}

// FetchReport returns the HTML of the report at path. An expired session shows
// up as a 200 on the login page, so the final URL is checked as well as the
// status. The legacy context bounce is handled by negotiating once more and
// retrying exactly once.
func (g *Gateway) FetchReport(ctx context.Context, path string, cookies CookieSet) (string, error) {
	return g.fetchWithContext(ctx, reportRequest{path: path}, cookies)
}

// FetchReportForm is FetchReport for pages that are reached by posting a
// form, such as the assessments of one discipline.
func (g *Gateway) FetchReportForm(ctx context.Context, path string, form url.Values, cookies CookieSet) (string, error) {
	return g.fetchWithContext(ctx, reportRequest{path: path, form: form}, cookies)
}

// FetchReports negotiates the context once and then fetches every path
// concurrently. Each page succeeds or fails on its own: errs[i] is set when
// bodies[i] could not be fetched. The returned error is reserved for a
// failed negotiation, in which case nothing was fetched.
func (g *Gateway) FetchReports(ctx context.Context, cookies CookieSet, paths ...string) (bodies []string, errs []error, err error) {
	if !cookies.Valid() {
		return nil, nil, SessionMissing()
	}
	if err := g.negotiator.EnsureContext(ctx, cookies); err != nil {
		return nil, nil, err
	}
	bodies = make([]string, len(paths))
	errs = make([]error, len(paths))
	var eg errgroup.Group
	for i, path := range paths {
		eg.Go(func() error {
			bodies[i], errs[i] = g.fetch(ctx, reportRequest{path: path}, cookies)
			return nil
		})
	}
	eg.Wait()
	return bodies, errs, nil
}

type reportRequest struct {
	path string
	// form switches the request to a POST with this urlencoded body.
	form url.Values
}

func (g *Gateway) fetchWithContext(ctx context.Context, req reportRequest, cookies CookieSet) (string, error) {
	if !cookies.Valid() {
		return "", SessionMissing()
	}
	if err := g.negotiator.EnsureContext(ctx, cookies); err != nil {
		return "", err
	}
	return g.fetch(ctx, req, cookies)
}

// fetch assumes the context was negotiated.
func (g *Gateway) fetch(ctx context.Context, req reportRequest, cookies CookieSet) (string, error) {
	page, err := g.send(ctx, req, cookies)
	if err != nil {
		return "", err
	}
	if ClassifyPage(page.Body, page.URL.String()) != PageLegacyContextRedirect {
		return page.Body, nil
	}

	g.client.logger.Debug("legacy context redirect, negotiating again", "path", req.path)
	if err := g.negotiator.EnsureContext(ctx, cookies); err != nil {
		return "", err
	}
	page, err = g.send(ctx, req, cookies)
	if err != nil {
		return "", err
	}
	return page.Body, nil
}

func (g *Gateway) send(ctx context.Context, req reportRequest, cookies CookieSet) (*Page, error) {
	rt := roundTrip{
		op:      "report",
		method:  http.MethodGet,
		target:  req.path,
		cookies: cookies,
	}
	if req.form != nil {
		rt.method = http.MethodPost
		rt.form = req.form.Encode()
		// The upstream form posts back to itself.
		rt.referer = req.path
	}
	page, err := g.client.send(ctx, rt)
	if err != nil {
		return nil, err
	}
	if !page.OK() {
		return nil, ClassifyStatus("report", page.StatusCode, fmt.Sprintf("upstream HTTP %d", page.StatusCode))
	}
	if ClassifyPage(page.Body, page.URL.String()) == PageLoginRedirect {
		return nil, SessionExpired("upstream session expired, try again")
	}
	return page, nil
}
