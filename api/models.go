package api

import "github.com/jmcleod/eduportal/upstream"

// LoginRequest is the body of POST /auth/login and POST /auth/refresh.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// AssessmentsRequest is the body of POST /grades/detail.
type AssessmentsRequest struct {
	Code string `json:"code"`
}

// OKResponse is returned by mutations that have nothing else to report.
type OKResponse struct {
	OK bool `json:"ok"`
}

// SessionResponse is returned by GET /auth/session for a live session.
type SessionResponse struct {
	Authenticated bool `json:"authenticated"`
	// LastExternalLoginAt is milliseconds since the Unix epoch.
	LastExternalLoginAt int64   `json:"lastExternalLoginAt"`
	RA                  *string `json:"ra"`
}

// NoSessionResponse is the 401 body of GET /auth/session.
type NoSessionResponse struct {
	Authenticated bool          `json:"authenticated"`
	Code          upstream.Code `json:"code"`
}

// UserInfoResponse is returned by GET /user/info. RA is null without a session.
type UserInfoResponse struct {
	RA *string `json:"ra"`
}

type ErrorResponse struct {
	Error string        `json:"error"`
	Code  upstream.Code `json:"code"`
}
