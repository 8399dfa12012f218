package server

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// mDNS service suffix reserved when truncating the instance name.
const (
	serviceSuffix    = "._oscjson._tcp"
	maxLabelBytes    = 63
	maxInstanceBytes = 255 - len(serviceSuffix) + 1 // 242
)

// SanitizeServiceName makes a string safe for use as an mDNS service
// instance name per RFC 6763: NFD decomposition, combining marks stripped,
// characters restricted to [A-Za-z0-9-] and '.', dash runs collapsed per
// label, labels truncated to 63 bytes, the whole name truncated leaving room
// for the service suffix. An empty result falls back to a random
// "OSCQuery-" name.
func SanitizeServiceName(name string) string {
	decomposed := norm.NFD.String(name)

	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		}
	}

	labels := strings.Split(b.String(), ".")
	kept := make([]string, 0, len(labels))
	for _, label := range labels {
		label = sanitizeLabel(label)
		if label != "" {
			kept = append(kept, label)
		}
	}
	sanitized := strings.Join(kept, ".")

	if sanitized == "" {
		sanitized = "OSCQuery-" + uuid.NewString()[:8]
	}

	if len(sanitized) > maxInstanceBytes {
		sanitized = sanitized[:maxInstanceBytes]
	}
	sanitized = strings.TrimRight(sanitized, "-.")

	return sanitized
}

// sanitizeLabel collapses dash runs, strips leading/trailing dashes, and
// truncates to the DNS label limit.
func sanitizeLabel(label string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range label {
		if r == '-' {
			if prevDash {
				continue
			}
			prevDash = true
		} else {
			prevDash = false
		}
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), "-")
	if len(out) > maxLabelBytes {
		out = out[:maxLabelBytes]
		out = strings.TrimRight(out, "-")
	}
	return out
}
