// Package urlnorm produces the canonical form of a media URL used as the
// primary key for download bookkeeping.
//
// The same attachment is handed to the capture script under varying URLs:
// the CDN rotates signed expiry parameters (ex, is, hm) on every page load.
// Normalize strips that volatility so one piece of media maps to exactly one
// archive row, while preserving path casing (CDN object paths are
// case-sensitive).
package urlnorm

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidURL is returned for input that cannot be keyed.
var ErrInvalidURL = fmt.Errorf("urlnorm: invalid URL")

// cdnHosts are platform media hosts whose query strings carry only signing
// material, never content identity.
var cdnHosts = map[string]bool{
	"cdn.discordapp.com":          true,
	"media.discordapp.net":        true,
	"images-ext-1.discordapp.net": true,
	"images-ext-2.discordapp.net": true,
}

// volatileParams are signing/expiry parameters stripped on every host.
var volatileParams = map[string]bool{
	"ex": true, "is": true, "hm": true,
}

// Normalize returns the canonical key for a media URL.
// Scheme and host are lowercased, the fragment is dropped, and the path is
// kept verbatim. On known CDN hosts the whole query is dropped; elsewhere
// volatile signing parameters are removed and the remainder re-encoded with
// keys sorted for stability.
func Normalize(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	if cdnHosts[parsed.Host] {
		parsed.RawQuery = ""
		return parsed.String(), nil
	}

	if parsed.RawQuery != "" {
		params := parsed.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			if volatileParams[k] {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf strings.Builder
		for i, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					buf.WriteByte('&')
				}
				buf.WriteString(url.QueryEscape(k))
				buf.WriteByte('=')
				buf.WriteString(url.QueryEscape(v))
			}
		}
		parsed.RawQuery = buf.String()
	}

	return parsed.String(), nil
}
