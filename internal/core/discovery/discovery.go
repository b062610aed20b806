// Package discovery finds peers of the same group through a DNS-SD style
// service directory. Interface abstracts the responder; Scheduler runs the
// periodic scan and hands results to the engine.
package discovery

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/zeusync/datasync/internal/core/protocol"
)

const (
	ServicePrefix   = "SmallDataSync_Group_"
	ServiceProtocol = "udp"

	TextKeyID    = "id"
	TextKeyGroup = "group"

	maxTextLen = 200
)

// Result is one answer of a service query.
type Result struct {
	Endpoint protocol.Endpoint
	Hostname string
	// Text is the raw answer text, "key=value;" per record.
	Text    string
	Records map[string]string
}

// Interface is a service directory responder and browser. Every method
// returns immediately; Query collects answers in the background until
// StopQuery.
type Interface interface {
	Begin(hostname string) bool
	Advertise(service, protocol string, port uint16) bool
	SetTextRecord(service, protocol, key, value string) bool
	Query(service, protocol string, onReady func())
	Results() []Result
	StopQuery()
	Close() bool
}

// ServiceName is the service every member of the group with groupHash advertises.
func ServiceName(groupHash uint32) string {
	return fmt.Sprintf("%s%08X", ServicePrefix, groupHash)
}

func GroupText(groupHash uint32) string {
	return fmt.Sprintf("%08X", groupHash)
}

// Sanitize makes s safe for a TXT record value: '=' is removed and the
// result is cut to 200 bytes on a rune boundary.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "=", "")
	if len(s) <= maxTextLen {
		return s
	}
	cut := maxTextLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// FormatText renders records as "key=value;" pairs in key order.
func FormatText(records map[string]string) string {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(records[k])
		sb.WriteByte(';')
	}
	return sb.String()
}

// ParseText is the inverse of FormatText. It also accepts bare "key=value"
// fields as returned by DNS TXT records.
func ParseText(fields ...string) map[string]string {
	records := make(map[string]string)
	for _, field := range fields {
		for _, part := range strings.Split(field, ";") {
			if part == "" {
				continue
			}
			k, v, _ := strings.Cut(part, "=")
			records[k] = v
		}
	}
	return records
}
