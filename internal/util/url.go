package util

import (
	"net/url"
	"strings"
)

// IsRedirectSafe reports whether redirectURL may be used as a redirect
// target. Relative paths are accepted unless they are protocol-relative or
// contain backslashes; absolute URLs must be http(s) and point at the host of
// baseURL.
func IsRedirectSafe(redirectURL, baseURL string) bool {
	if redirectURL == "" {
		return true
	}
	// Header injection
	if strings.ContainsAny(redirectURL, "\r\n") {
		return false
	}

	if strings.HasPrefix(redirectURL, "/") {
		return !strings.HasPrefix(redirectURL, "//") && !strings.Contains(redirectURL, "\\")
	}

	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "" && parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return true
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return parsed.Host == base.Host
}

// SafeRedirect returns redirectURL when it is safe and non-empty, fallback
// otherwise.
func SafeRedirect(redirectURL, baseURL, fallback string) string {
	if redirectURL == "" || !IsRedirectSafe(redirectURL, baseURL) {
		return fallback
	}
	return redirectURL
}

// JoinPath appends path to base, keeping exactly one slash between them.
func JoinPath(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
