package tbs

import "strings"

// validURI reports whether uri is acceptable for an outgoing or incoming
// call: at least MinURILen bytes and at most maxLen.
func validURI(uri string, maxLen int) bool {
	return len(uri) >= MinURILen && len(uri) <= maxLen
}

// uriScheme extracts the scheme preceding the first ':' of uri. The ':' must
// sit strictly between the first and last byte, otherwise there is no scheme.
func uriScheme(uri string) string {
	for i := 1; i < len(uri)-1; i++ {
		if uri[i] == ':' {
			return uri[:i]
		}
	}
	return ""
}

// schemeInList reports whether scheme appears as an element of the
// comma-separated list. Matching is exact and case-sensitive.
func schemeInList(scheme, list string) bool {
	if scheme == "" || list == "" {
		return false
	}
	for _, cand := range strings.Split(list, ",") {
		if cand == scheme {
			return true
		}
	}
	return false
}
