package upstream

import "strings"

// PageKind is the outcome of inspecting an upstream HTML response.
type PageKind int

const (
	// PageUnknown is an empty body that carries no signal.
	PageUnknown PageKind = iota
	PageOK
	// PageLoginRedirect means the upstream bounced an expired session to its
	// login page, usually with a 200 status.
	PageLoginRedirect
	// PagePeriodInterstitial is the academic period chooser.
	PagePeriodInterstitial
	// PageLegacyContextRedirect is the older "Object moved" bounce to the
	// context endpoint.
	PageLegacyContextRedirect
)

func (k PageKind) String() string {
	switch k {
	case PageOK:
		return "ok"
	case PageLoginRedirect:
		return "login-redirect"
	case PagePeriodInterstitial:
		return "period-interstitial"
	case PageLegacyContextRedirect:
		return "legacy-context-redirect"
	default:
		return "unknown"
	}
}

var loginMarkers = []string{"loginexternoapp", "/account/login", "loginexterno"}

// ClassifyPage inspects a 2xx response. Login detection looks only at the
// final URL because regular pages reference the login page in scripts and links.
// The interstitial needs both the context form and a list view; either alone
// shows up on ordinary pages.
func ClassifyPage(body, finalURL string) PageKind {
	u := strings.ToLower(finalURL)
	for _, marker := range loginMarkers {
		if strings.Contains(u, marker) {
			return PageLoginRedirect
		}
	}
	if strings.Contains(body, "SetContextoAluno") && strings.Contains(body, "<form") &&
		strings.Contains(body, `data-role="listview"`) {
		return PagePeriodInterstitial
	}
	if strings.Contains(body, "Object moved") && strings.Contains(body, "GetContextoAluno") {
		return PageLegacyContextRedirect
	}
	if strings.TrimSpace(body) == "" {
		return PageUnknown
	}
	return PageOK
}
