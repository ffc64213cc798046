package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/eduportal/reports"
	"github.com/jmcleod/eduportal/upstream"
)

var numericID = regexp.MustCompile(`^\d{1,12}$`)

// reportHandler serves one upstream report as JSON: read the session, fetch
// the page through the gateway (which negotiates the period context first)
// and parse it.
func reportHandler[T any](a *API, path string, parse func(string) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveReport(a, w, r, path, func(ctx context.Context, c upstream.CookieSet) (string, error) {
			return a.gateway.FetchReport(ctx, path, c)
		}, parse)
	}
}

// ClassDetail handles GET /schedule/{id}.
func (a *API) ClassDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !numericID.MatchString(id) {
		writeError(w, upstream.CodeBadRequest, "class id must be numeric")
		return
	}
	path := reports.ClassDetailPath(id)
	serveReport(a, w, r, path, func(ctx context.Context, c upstream.CookieSet) (string, error) {
		return a.gateway.FetchReport(ctx, path, c)
	}, reports.ParseClassDetail)
}

// GradeDetail handles POST /grades/detail: the assessments of one discipline
// picked from GET /grades.
func (a *API) GradeDetail(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[AssessmentsRequest](w, r, maxAuthBodySize, false)
	if !ok {
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		writeError(w, upstream.CodeBadRequest, "discipline code is required")
		return
	}
	form := url.Values{"ddlTurmaDisc": {code}}
	serveReport(a, w, r, reports.AssessmentsPath, func(ctx context.Context, c upstream.CookieSet) (string, error) {
		return a.gateway.FetchReportForm(ctx, reports.AssessmentsPath, form, c)
	}, reports.ParseAssessments)
}

// AttendanceOverview handles GET /attendance/overview. The attendance page
// is required; the curriculum and schedule only enrich it, so their failures
// are logged and the overview is served without them.
func (a *API) AttendanceOverview(w http.ResponseWriter, r *http.Request) {
	sess := a.sessions.Load(w, r).Read()
	if sess == nil {
		writeError(w, upstream.CodeSessionMissing, "no session, log in again")
		return
	}

	bodies, errs, err := a.gateway.FetchReports(r.Context(), sess.Cookies,
		reports.AttendancePath, reports.HistoryPath, reports.SchedulePath)
	if err == nil {
		err = errs[0]
	}
	if err != nil {
		a.reportFailure(r, reports.AttendancePath, mapError(w, err), sess.UserIdentifier)
		return
	}
	att, err := reports.ParseAttendance(bodies[0])
	if err != nil {
		e := mapError(w, fmt.Errorf("parsing attendance: %w", err))
		a.reportFailure(r, reports.AttendancePath, e, sess.UserIdentifier)
		return
	}

	hist, histErr := optionalReport(errs[1], bodies[1], reports.ParseHistory)
	sched, schedErr := optionalReport(errs[2], bodies[2], reports.ParseSchedule)
	if histErr != nil {
		a.audit.logger.Warn("attendance overview without curriculum", "error", histErr)
	}
	if schedErr != nil {
		a.audit.logger.Warn("attendance overview without schedule", "error", schedErr)
	}

	// With every source reachable, an empty notice is the stale-session shell.
	if len(att.Items) == 0 && histErr == nil && schedErr == nil {
		e := mapError(w, reports.ErrEmptyReport)
		a.reportFailure(r, reports.AttendancePath, e, sess.UserIdentifier)
		return
	}
	writeJSON(w, http.StatusOK, reports.CombineAttendance(att, hist, sched, a.now()))
}

// optionalReport parses an enrichment page. An empty page is not a failure
// of the source, only an absence of data.
func optionalReport[T any](fetchErr error, body string, parse func(string) (*T, error)) (*T, error) {
	if fetchErr != nil {
		return nil, fetchErr
	}
	v, err := parse(body)
	if errors.Is(err, reports.ErrEmptyReport) {
		return nil, nil
	}
	return v, err
}

func serveReport[T any](a *API, w http.ResponseWriter, r *http.Request, path string,
	fetch func(context.Context, upstream.CookieSet) (string, error), parse func(string) (T, error)) {
	sess := a.sessions.Load(w, r).Read()
	if sess == nil {
		writeError(w, upstream.CodeSessionMissing, "no session, log in again")
		return
	}
	body, err := fetch(r.Context(), sess.Cookies)
	if err != nil {
		a.reportFailure(r, path, mapError(w, err), sess.UserIdentifier)
		return
	}
	out, err := parse(body)
	if err != nil {
		e := mapError(w, fmt.Errorf("parsing %s: %w", path, err))
		a.reportFailure(r, path, e, sess.UserIdentifier)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) reportFailure(r *http.Request, path string, e *upstream.Error, identifier string) {
	switch e.Code {
	case upstream.CodeOffline:
		a.audit.logFailure(AuditUpstreamOffline, r, e.Error(), slog.String("path", path))
	case upstream.CodeSessionExpired:
		a.audit.logEvent(AuditSessionExpired, r, identifier, slog.String("path", path))
	default:
		a.audit.logger.Warn("report failed", "path", path, "code", string(e.Code), "error", e.Error())
	}
}
