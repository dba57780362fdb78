package service

import (
	"net/http"

	"trade_supervisor/internal/apperr"
)

var rateLimitCodes = map[string]bool{
	"50011": true, // too many requests
	"50061": true, // sub-account order rate limit
}

var authCodes = map[string]bool{
	"50100": true, // api frozen
	"50101": true, // apikey does not match environment
	"50102": true, // timestamp expired
	"50103": true,
	"50104": true,
	"50105": true, // passphrase
	"50111": true, // invalid OK-ACCESS-KEY
	"50113": true, // invalid sign
	"50114": true,
}

// codeError turns an OKX business code into a classified error.
func codeError(code, msg string) error {
	switch {
	case rateLimitCodes[code]:
		return apperr.Newf(apperr.RateLimited, "code=%s msg=%s", code, msg)
	case authCodes[code]:
		return apperr.Newf(apperr.Unauthorized, "code=%s msg=%s", code, msg)
	case code == "50001" || code == "50004" || code == "50013":
		// service unavailable / endpoint timeout / system busy
		return apperr.Newf(apperr.Transient, "code=%s msg=%s", code, msg)
	}
	return apperr.Newf(apperr.Unknown, "code=%s msg=%s", code, msg)
}

func httpError(status int, code, msg string, raw []byte) error {
	switch {
	case status == http.StatusTooManyRequests:
		return apperr.Newf(apperr.RateLimited, "http %d: %s", status, raw)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.Newf(apperr.Unauthorized, "http %d: %s", status, raw)
	case code != "" && code != "0":
		return codeError(code, msg)
	case status >= 500:
		return apperr.Newf(apperr.Transient, "http %d: %s", status, raw)
	}
	return apperr.Newf(apperr.Unknown, "http %d: %s", status, raw)
}
