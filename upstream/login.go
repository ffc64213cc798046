package upstream

import (
	"context"
	"net/http"
	"net/url"
)

// Login performs the mobile login handshake and returns the session cookies
// the upstream issued. Redirects are not followed because the cookies arrive
// on the redirect response itself.
func (c *Client) Login(ctx context.Context, identifier, secret string) (CookieSet, error) {
	form := url.Values{
		"CodUsuario":                      {identifier},
		"Senha":                           {secret},
		"CodDependente":                   {identifier},
		"CodInstituicao":                  {c.institution},
		"TitleApp":                        {c.appTitle},
		"VersionAPP":                      {c.appVersion},
		"TitleTextColorEducaMobile":       {"#B2DFDB"},
		"TitleBackgroundColorEducaMobile": {"#00A291"},
		"UrlReturn_toggleEducaMobile":     {""},
		"OAuthAccessToken":                {""},
		"OAuthAppId":                      {""},
		"OAuthAppIdRM":                    {""},
		"OAuthExpiresIn":                  {"0.0"},
		"OAuthRefreshToken":               {""},
		"OAuthTokenType":                  {""},
		"OAuthType":                       {"0"},
		"OAuthUserId":                     {""},
	}

	page, err := c.send(ctx, roundTrip{
		op:       "login",
		method:   http.MethodPost,
		target:   loginPath,
		form:     form.Encode(),
		noFollow: true,
	})
	if err != nil {
		return CookieSet{}, err
	}

	switch {
	case page.StatusCode >= 500:
		return CookieSet{}, ClassifyStatus("login", page.StatusCode, "")
	case page.StatusCode >= 400:
		return CookieSet{}, ExternalAuthError("login rejected by TOTVS", &StatusError{Op: "login", StatusCode: page.StatusCode})
	case page.StatusCode < 200:
		return CookieSet{}, ClassifyStatus("login", page.StatusCode, "unexpected login response")
	}

	cookies := ParseSetCookies(page.Cookies)
	if !cookies.Valid() {
		return CookieSet{}, ExternalAuthError("login response is missing session cookies", nil)
	}
	c.logger.Debug("upstream login succeeded", "status", page.StatusCode, "cookies", 2+len(cookies.Extra))
	return cookies, nil
}
