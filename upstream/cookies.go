package upstream

import (
	"net/http"
	"sort"
	"strings"
)

const (
	CookieSessionID = "ASP.NET_SessionId"
	CookieAuthToken = ".ASPXAUTH"

	cookieUserType        = "EduTipoUser"
	cookieContextRedirect = "RedirectUrlContexto"
)

// CookieSet is the credential bundle issued by the upstream login.
type CookieSet struct {
	SessionID string            `json:"sessionId"`
	AuthToken string            `json:"authToken"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Valid reports whether both mandatory cookies are present.
func (c CookieSet) Valid() bool {
	return c.SessionID != "" && c.AuthToken != ""
}

// ParseSetCookies builds a CookieSet from response cookies. Values are kept
// exactly as sent. Later cookies with the same name win.
func ParseSetCookies(cookies []*http.Cookie) CookieSet {
	var set CookieSet
	for _, c := range cookies {
		switch c.Name {
		case CookieSessionID:
			set.SessionID = c.Value
		case CookieAuthToken:
			set.AuthToken = c.Value
		default:
			if set.Extra == nil {
				set.Extra = make(map[string]string)
			}
			set.Extra[c.Name] = c.Value
		}
	}
	return set
}

// Header renders the Cookie request header: session id, auth token, the user
// type and context redirect cookies, then every other cookie sorted by name.
func (c CookieSet) Header() string {
	var parts []string
	add := func(name, value string) {
		parts = append(parts, name+"="+value)
	}
	if c.SessionID != "" {
		add(CookieSessionID, c.SessionID)
	}
	if c.AuthToken != "" {
		add(CookieAuthToken, c.AuthToken)
	}
	if v, ok := c.Extra[cookieUserType]; ok {
		add(cookieUserType, v)
	}
	if v, ok := c.Extra[cookieContextRedirect]; ok {
		add(cookieContextRedirect, v)
	}
	names := make([]string, 0, len(c.Extra))
	for name := range c.Extra {
		if name == cookieUserType || name == cookieContextRedirect {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		add(name, c.Extra[name])
	}
	return strings.Join(parts, "; ")
}
