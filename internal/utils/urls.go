package utils

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	httpURLPattern = regexp.MustCompile(`^https?://`)
	ipv4Pattern    = regexp.MustCompile(`\b(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})\b`)
)

// IsIPAddress reports whether s is a dotted IPv4 address with every octet in 0-255.
func IsIPAddress(s string) bool {
	m := ipv4Pattern.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return false
	}
	for _, octet := range m[1:] {
		n, err := strconv.Atoi(octet)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

// IsHTTPSURL reports whether s carries an http or https scheme.
func IsHTTPSURL(s string) bool {
	return httpURLPattern.MatchString(s)
}

// ToHTTPSURL turns a bare IP address into https://<ip>. Anything else is
// returned unchanged.
func ToHTTPSURL(s string) string {
	s = strings.TrimSpace(s)
	if IsIPAddress(s) {
		return "https://" + s
	}
	return s
}

// ExtractIPv4 returns the first IPv4 address found in s, or "".
// It is used to derive the SSH target from a platform base URL.
func ExtractIPv4(s string) string {
	return ipv4Pattern.FindString(s)
}

// NormalizePlatformURL accepts either a bare IP or a URL and returns a URL
// without a trailing slash.
func NormalizePlatformURL(s string) string {
	return strings.TrimRight(ToHTTPSURL(s), "/")
}
