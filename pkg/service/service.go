// Package service builds URLs of the remote data service.
package service

import (
	"net/url"
	"strings"
)

// DefaultServerURL is used when no server URL is configured.
const DefaultServerURL = "http://localhost:8080/neon"

// URLs resolves service endpoints against one server.
type URLs struct {
	server string
}

// New returns a resolver for serverURL. An empty serverURL selects
// DefaultServerURL; a trailing slash is dropped.
func New(serverURL string) URLs {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	return URLs{server: strings.TrimRight(serverURL, "/")}
}

// Server returns the base server URL.
func (u URLs) Server() string { return u.server }

// URL returns <server>/services/<servicePath>/<serviceName>[?<query>].
// serviceName is used verbatim; build it with Path when it carries
// caller-provided segments.
func (u URLs) URL(servicePath, serviceName string, query url.Values) string {
	s := u.server + "/services/" + servicePath + "/" + serviceName
	if len(query) > 0 {
		s += "?" + query.Encode()
	}
	return s
}

// Path joins name with percent-encoded segments: Path("query", "h", "t")
// yields "query/h/t".
func Path(name string, segments ...string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
