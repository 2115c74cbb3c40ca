// Package urlnorm converts arbitrary URL strings into a normalized,
// comparable form used as the story merge key.
package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// ErrInvalidURL marks URLs with a missing or malformed scheme/host.
var ErrInvalidURL = errors.New("invalid url")

var defaultPorts = map[string]string{
	"http":     "80",
	"itms":     "80",
	"ws":       "80",
	"https":    "443",
	"wss":      "443",
	"gopher":   "70",
	"news":     "119",
	"snews":    "563",
	"nntp":     "119",
	"snntp":    "563",
	"ftp":      "21",
	"telnet":   "23",
	"prospero": "191",
}

var relativeSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ws":    true,
	"wss":   true,
	"itms":  true,
	"news":  true,
	"snews": true,
	"nntp":  true,
	"snntp": true,
	"ftp":   true,
	"file":  true,
	"":      true,
}

// Escape sequences for these bytes are left escaped per component,
// everything else is percent-decoded.
const (
	pathUnsafe     = "/?;%+#"
	queryUnsafe    = " ?&=+%#"
	fragmentUnsafe = " +%#"
)

var collapseExpr = regexp.MustCompile(`([^/]+/\.\./?|/\./|//|/\.$|/\.\.$)`)

// Canonicalize normalizes a raw URL: lowercased scheme and host, IDN
// host labels, default ports removed, path collapsed, percent escapes
// decoded where safe. The result is stable under re-canonicalization.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return "", fmt.Errorf("%w: missing scheme in %q", ErrInvalidURL, raw)
	}

	host, err := normHost(u.Hostname())
	if err != nil {
		return "", err
	}

	authority := host
	if u.User != nil {
		authority = u.User.String() + "@" + authority
	}
	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		authority += ":" + port
	}

	path := u.EscapedPath()
	if relativeSchemes[scheme] {
		path = collapsePath(path)
	}
	path = unquoteSafe(path, pathUnsafe)
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(authority)
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(unquoteSafe(u.RawQuery, queryUnsafe))
	}
	if f := u.EscapedFragment(); f != "" {
		b.WriteByte('#')
		b.WriteString(unquoteSafe(f, fragmentUnsafe))
	}
	return b.String(), nil
}

func normHost(host string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	host = strings.ToLower(host)
	ipv6 := strings.Contains(host, ":")

	if isAllDigits(host) {
		n, err := strconv.ParseUint(host, 10, 32)
		if err != nil {
			return "", fmt.Errorf("%w: host %q is not a valid ip", ErrInvalidURL, host)
		}
		host = fmt.Sprintf("%d.%d.%d.%d", n>>24, n>>16&0xff, n>>8&0xff, n&0xff)
	}

	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if !strings.Contains(host, ".") && !ipv6 {
		return "", fmt.Errorf("%w: host %q is not valid", ErrInvalidURL, host)
	}

	if strings.Contains(host, "xn--") {
		labels := strings.Split(host, ".")
		for i, label := range labels {
			if !strings.HasPrefix(label, "xn--") {
				continue
			}
			decoded, err := idna.ToUnicode(label)
			if err != nil {
				return "", fmt.Errorf("%w: bad punycode label %q", ErrInvalidURL, label)
			}
			labels[i] = decoded
		}
		host = strings.Join(labels, ".")
	}

	if ipv6 {
		host = "[" + host + "]"
	}
	return host, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// collapsePath removes ., .. and duplicate-slash segments one at a time
// until the path stops changing.
func collapsePath(path string) string {
	for {
		next := replaceFirst(collapseExpr, path, "/")
		if next == path {
			return path
		}
		path = next
	}
}

func replaceFirst(re *regexp.Regexp, s, repl string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + repl + s[loc[1]:]
}

// unquoteSafe decodes percent escapes except for bytes that are unsafe
// to unescape in this component; those are kept escaped with uppercase
// hex digits. Bytes that do not form valid UTF-8 are re-escaped.
func unquoteSafe(s, unsafe string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' || i+2 >= len(s) {
			b.WriteByte(c)
			continue
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			b.WriteByte(c)
			continue
		}
		decoded := hi<<4 | lo
		if decoded < 0x20 || strings.IndexByte(unsafe, decoded) >= 0 {
			fmt.Fprintf(&b, "%%%02X", decoded)
		} else {
			b.WriteByte(decoded)
		}
		i += 2
	}

	out := b.String()
	if utf8.ValidString(out) {
		return out
	}
	return escapeInvalid(out)
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func escapeInvalid(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(&b, "%%%02X", s[i])
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}
