package address

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Mask replaces secret components in redacted renderings. It has a fixed
// width so the rendered form never leaks the secret's length.
const Mask = "****"

// Address is the parsed, typed form of a scheme://... endpoint reference.
//
// Values are stored decoded; rendering re-applies percent-encoding.
// An Address is treated as immutable after Parse; derive variants with
// WithSecure instead of mutating fields.
type Address struct {
	Scheme   string
	Secure   bool
	User     string
	Password string
	Host     string
	Port     int // 0 means unset
	Path     []string
	Query    map[string]string
}

// WithSecure returns a copy with the Secure flag set. The schema registry
// calls this when an address arrives under a scheme's TLS alias.
func (a *Address) WithSecure(secure bool) *Address {
	cp := a.clone()
	cp.Secure = secure
	return cp
}

func (a *Address) clone() *Address {
	cp := *a
	cp.Path = append([]string(nil), a.Path...)
	cp.Query = make(map[string]string, len(a.Query))
	for k, v := range a.Query {
		cp.Query[k] = v
	}
	return &cp
}

// QueryGet returns the query parameter value and whether it was present.
func (a *Address) QueryGet(key string) (string, bool) {
	v, ok := a.Query[key]
	return v, ok
}

// String renders the full address, secrets included.
//
// Rendering uses the scheme the address was parsed under, so
// Parse(a.String()) reproduces a exactly only for parse-produced
// addresses. Secure is a schema property, not part of the scheme text:
// a WithSecure variant renders identically to its original, and Resolve
// re-derives the flag from the scheme on the next parse.
func (a *Address) String() string {
	return a.render(nil)
}

// Redacted renders the address with the password and every query parameter
// named in secretKeys replaced by Mask.
func (a *Address) Redacted(secretKeys ...string) string {
	secrets := make(map[string]bool, len(secretKeys))
	for _, k := range secretKeys {
		secrets[k] = true
	}
	return a.render(secrets)
}

// render builds the URL form. secrets==nil means full rendering; otherwise
// the password and any query key present in secrets is masked.
func (a *Address) render(secrets map[string]bool) string {
	var b strings.Builder
	b.WriteString(a.Scheme)
	b.WriteString("://")

	if a.User != "" || a.Password != "" {
		b.WriteString(escapeUserinfo(a.User))
		if a.Password != "" {
			b.WriteByte(':')
			if secrets != nil {
				b.WriteString(Mask)
			} else {
				b.WriteString(escapeUserinfo(a.Password))
			}
		}
		b.WriteByte('@')
	}

	b.WriteString(a.Host)
	if a.Port > 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(a.Port))
	}

	for _, seg := range a.Path {
		b.WriteByte('/')
		b.WriteString(escapeSegment(seg))
	}

	if len(a.Query) > 0 {
		keys := make([]string, 0, len(a.Query))
		for k := range a.Query {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(escapeQuery(k))
			b.WriteByte('=')
			if secrets != nil && secrets[k] {
				b.WriteString(Mask)
			} else {
				b.WriteString(escapeQuery(a.Query[k]))
			}
		}
	}

	return b.String()
}

// Equal reports whether two addresses carry the same parsed values.
// The Secure flag participates: jsons:// and json:// addresses differ.
func (a *Address) Equal(o *Address) bool {
	if a == nil || o == nil {
		return a == o
	}
	if a.Scheme != o.Scheme || a.Secure != o.Secure ||
		a.User != o.User || a.Password != o.Password ||
		a.Host != o.Host || a.Port != o.Port {
		return false
	}
	if len(a.Path) != len(o.Path) || len(a.Query) != len(o.Query) {
		return false
	}
	for i := range a.Path {
		if a.Path[i] != o.Path[i] {
			return false
		}
	}
	for k, v := range a.Query {
		if ov, ok := o.Query[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// escapeUserinfo encodes a user or password component. '@', ':' and '/'
// must not survive unescaped or the authority split becomes ambiguous.
func escapeUserinfo(s string) string {
	return escapeWith(s, func(c byte) bool {
		return c == '@' || c == ':' || c == '/' || c == '?' || c == '#' || c == '%' || c == ' ' || c == '&' || c == '='
	})
}

func escapeSegment(s string) string {
	return escapeWith(s, func(c byte) bool {
		return c == '/' || c == '?' || c == '#' || c == '%' || c == ' '
	})
}

func escapeQuery(s string) string {
	// QueryEscape uses '+' for spaces; normalize to %20 so the rendered
	// form round-trips through any RFC 3986 decoder.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

const upperhex = "0123456789ABCDEF"

func escapeWith(s string, needsEscape func(byte) bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7e || needsEscape(c) {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xf])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
