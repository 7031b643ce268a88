// Package webhook ships the generic HTTP reference targets: json:// posts
// a JSON payload, form:// posts url-encoded fields. The secure aliases
// jsons:// and forms:// switch the upstream call to https.
package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"megaphone/internal/address"
	"megaphone/internal/registry"
	"megaphone/internal/target"
)

// headerPrefix marks query parameters that become HTTP headers on the
// upstream request: json://host/path?+X-Token=abc
const headerPrefix = "+"

var jsonCaps = target.Capabilities{
	SupportsTitle:      true,
	SupportsAttachment: true,
	Formats:            []target.BodyFormat{target.FormatText, target.FormatMarkdown, target.FormatHTML},
}

var formCaps = target.Capabilities{
	SupportsTitle: true,
	Formats:       []target.BodyFormat{target.FormatText, target.FormatMarkdown, target.FormatHTML},
}

// Register installs the json and form schemas.
func Register(reg *registry.Registry) error {
	if err := reg.Register(registry.Schema{
		Name: "json", SecureName: "jsons",
		Factory: func(addr *address.Address, tags []string) (target.Target, error) {
			return construct(addr, tags, false)
		},
		Caps: jsonCaps,
	}); err != nil {
		return err
	}
	return reg.Register(registry.Schema{
		Name: "form", SecureName: "forms",
		Factory: func(addr *address.Address, tags []string) (target.Target, error) {
			return construct(addr, tags, true)
		},
		Caps: formCaps,
	})
}

// Sender delivers to one webhook endpoint.
type Sender struct {
	target.Base

	client   *http.Client
	endpoint string
	form     bool
	headers  map[string]string
	user     string
	pass     string
}

func construct(addr *address.Address, tags []string, form bool) (target.Target, error) {
	if strings.TrimSpace(addr.Host) == "" {
		return nil, &target.ConstructionError{Scheme: addr.Scheme, Reason: "a hostname is required"}
	}
	tuning, err := target.TuningFromQuery(addr)
	if err != nil {
		return nil, &target.ConstructionError{Scheme: addr.Scheme, Reason: err.Error()}
	}

	caps := jsonCaps
	if form {
		caps = formCaps
	}

	s := &Sender{
		Base:     target.NewBase(addr, tags, caps, tuning),
		client:   tuning.HTTPClient(),
		endpoint: buildEndpoint(addr),
		form:     form,
		headers:  map[string]string{},
		user:     addr.User,
		pass:     addr.Password,
	}
	for k, v := range addr.Query {
		if strings.HasPrefix(k, headerPrefix) {
			s.headers[strings.TrimPrefix(k, headerPrefix)] = v
		}
	}
	return s, nil
}

func buildEndpoint(addr *address.Address) string {
	scheme := "http"
	if addr.Secure {
		scheme = "https"
	}
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(addr.Host)
	if addr.Port > 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(addr.Port))
	}
	for _, seg := range addr.Path {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

type jsonAttachment struct {
	Name   string `json:"name"`
	MIME   string `json:"mime"`
	Base64 string `json:"base64"`
}

type jsonPayload struct {
	Version     string           `json:"version"`
	Title       string           `json:"title,omitempty"`
	Message     string           `json:"message"`
	Format      string           `json:"format"`
	Attachments []jsonAttachment `json:"attachments,omitempty"`
}

func (s *Sender) Send(ctx context.Context, msg target.Message) error {
	if err := s.Throttle(ctx); err != nil {
		return err
	}

	var body io.Reader
	contentType := "application/json"
	if s.form {
		v := url.Values{}
		v.Set("message", msg.Body)
		if msg.Title != "" {
			v.Set("title", msg.Title)
		}
		v.Set("format", formatName(msg.Format))
		body = strings.NewReader(v.Encode())
		contentType = "application/x-www-form-urlencoded"
	} else {
		p := jsonPayload{
			Version: "1.0",
			Title:   msg.Title,
			Message: msg.Body,
			Format:  formatName(msg.Format),
		}
		for _, a := range msg.Attachments {
			p.Attachments = append(p.Attachments, jsonAttachment{
				Name:   a.Name,
				MIME:   a.MIME,
				Base64: base64.StdEncoding.EncodeToString(a.Data),
			})
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	if s.user != "" {
		req.SetBasicAuth(s.user, s.pass)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain a little so keep-alive connections get reused.
	_, _ = io.CopyN(io.Discard, resp.Body, 4096)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func formatName(f target.BodyFormat) string {
	if f == "" {
		return string(target.FormatText)
	}
	return string(f)
}
