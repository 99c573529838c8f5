// Package phone converts between transport routing ids and bare phone numbers.
package phone

import (
	"regexp"
	"strings"
)

// DirectServer is the routing suffix for one-to-one conversations.
const DirectServer = "s.whatsapp.net"

// Known routing suffixes. @c.us comes from the older web transport, @lid from
// multi-device privacy ids.
var suffixPattern = regexp.MustCompile(`@(s\.whatsapp\.net|c\.us|lid|g\.us|broadcast|hosted|hosted\.lid)`)

// agent/device part of a multi-device routing id, e.g. "905551234567:12@s.whatsapp.net"
var devicePattern = regexp.MustCompile(`[.:].*$`)

var nonDigit = regexp.MustCompile(`\D`)

// Normalize strips every known routing suffix and device part and keeps digits
// only. Normalizing an already-bare number returns it unchanged.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "@") {
		s = suffixPattern.ReplaceAllString(s, "")
		if at := strings.IndexByte(s, '@'); at >= 0 {
			s = s[:at]
		}
		s = devicePattern.ReplaceAllString(s, "")
	}
	return nonDigit.ReplaceAllString(s, "")
}

// DirectJID returns the direct-conversation routing id for raw, or "" when raw
// holds no digits.
func DirectJID(raw string) string {
	n := Normalize(raw)
	if n == "" {
		return ""
	}
	return n + "@" + DirectServer
}

// IsGroupID reports whether a routing id addresses a group conversation.
func IsGroupID(id string) bool {
	return strings.HasSuffix(id, "@g.us")
}
