package sniff

import "strings"

var httpMethodPrefixes = [][4]byte{
	{'G', 'E', 'T', ' '},
	{'P', 'O', 'S', 'T'},
	{'P', 'U', 'T', ' '},
	{'H', 'E', 'A', 'D'},
	{'D', 'E', 'L', 'E'},
	{'P', 'A', 'T', 'C'},
	{'O', 'P', 'T', 'I'},
}

// HTTPHost returns the Host header's value from an HTTP request payload,
// with any trailing ":port" stripped.
func HTTPHost(payload []byte) (host string, ok bool) {
	if !looksLikeHTTPRequest(payload) {
		return "", false
	}

	const needle = "host:"
	lower := strings.ToLower(string(payload))
	idx := strings.Index(lower, needle)
	if idx < 0 {
		return "", false
	}

	start := idx + len(needle)
	for start < len(payload) && (payload[start] == ' ' || payload[start] == '\t') {
		start++
	}
	end := start
	for end < len(payload) && payload[end] != '\r' && payload[end] != '\n' {
		end++
	}
	if end <= start {
		return "", false
	}

	value := string(payload[start:end])
	if colon := strings.IndexByte(value, ':'); colon >= 0 {
		value = value[:colon]
	}
	if value == "" {
		return "", false
	}
	return value, true
}

func looksLikeHTTPRequest(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}
	var prefix [4]byte
	copy(prefix[:], payload[:4])
	for _, m := range httpMethodPrefixes {
		if prefix == m {
			return true
		}
	}
	return false
}
