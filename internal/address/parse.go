package address

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// ParseError reports a malformed address. It is local and never retried;
// unknown schemes are NOT a parse error (the registry decides those).
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Raw, e.Reason)
}

var schemeRe = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)

// Parse turns a raw scheme://... string into an Address.
//
// Strict about the scheme, lenient about unknown query parameters: they are
// preserved so a target can ignore what it does not recognize instead of
// hard-failing. User, password, path segments and query values are
// percent-decoded; an unbalanced escape is a ParseError.
func Parse(raw string) (*Address, error) {
	trimmed := strings.TrimSpace(raw)
	idx := strings.Index(trimmed, "://")
	if idx <= 0 {
		return nil, &ParseError{Raw: raw, Reason: "missing scheme separator"}
	}
	scheme := strings.ToLower(trimmed[:idx])
	if !schemeRe.MatchString(scheme) {
		return nil, &ParseError{Raw: raw, Reason: "malformed scheme"}
	}
	rest := trimmed[idx+3:]

	a := &Address{
		Scheme: scheme,
		Query:  map[string]string{},
	}

	// Query comes off first so '/' inside values never confuses the
	// path split.
	if qi := strings.IndexByte(rest, '?'); qi >= 0 {
		if err := parseQuery(raw, rest[qi+1:], a.Query); err != nil {
			return nil, err
		}
		rest = rest[:qi]
	}

	authority := rest
	var path string
	if pi := strings.IndexByte(rest, '/'); pi >= 0 {
		authority = rest[:pi]
		path = rest[pi:]
	}

	// Userinfo splits at the last '@' so passwords may contain escaped
	// or literal '@' up to that point.
	if ai := strings.LastIndexByte(authority, '@'); ai >= 0 {
		userinfo := authority[:ai]
		authority = authority[ai+1:]
		user, pass, hasPass := strings.Cut(userinfo, ":")
		var err error
		if a.User, err = unescape(raw, user); err != nil {
			return nil, err
		}
		if hasPass {
			if a.Password, err = unescape(raw, pass); err != nil {
				return nil, err
			}
		}
	}

	host, portStr, hasPort := cutPort(authority)
	a.Host = host
	if hasPort && portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, &ParseError{Raw: raw, Reason: "invalid port " + strconv.Quote(portStr)}
		}
		a.Port = port
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		dec, err := unescape(raw, seg)
		if err != nil {
			return nil, err
		}
		a.Path = append(a.Path, dec)
	}

	return a, nil
}

func parseQuery(raw, q string, out map[string]string) error {
	for _, pair := range strings.Split(q, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		dk, err := unescapeQuery(raw, k)
		if err != nil {
			return err
		}
		dv, err := unescapeQuery(raw, v)
		if err != nil {
			return err
		}
		// Last occurrence wins on duplicate keys.
		out[dk] = dv
	}
	return nil
}

// cutPort splits host:port only when the suffix is purely numeric.
// Schemes like tgram:// put credentials containing ':' in the host slot;
// those must survive as-is.
func cutPort(authority string) (host, port string, ok bool) {
	ci := strings.LastIndexByte(authority, ':')
	if ci < 0 {
		return authority, "", false
	}
	p := authority[ci+1:]
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return authority, "", false
		}
	}
	return authority[:ci], p, true
}

func unescape(raw, s string) (string, error) {
	dec, err := url.PathUnescape(s)
	if err != nil {
		return "", &ParseError{Raw: raw, Reason: "unbalanced percent-encoding in " + strconv.Quote(s)}
	}
	return dec, nil
}

func unescapeQuery(raw, s string) (string, error) {
	dec, err := url.QueryUnescape(s)
	if err != nil {
		return "", &ParseError{Raw: raw, Reason: "unbalanced percent-encoding in " + strconv.Quote(s)}
	}
	return dec, nil
}
