// Package clientid derives a stable per-client identity from a request's
// network address and header surface.
//
// The identity is deliberately coarse: it must survive a browser session
// (same IP, same headers) without tracking users across networks. It feeds
// the behavioral classifier as an opaque key.
package clientid

import (
	"fmt"
	"hash/fnv"
	"net/http"

	"github.com/gobeyondidentity/perimeter/pkg/auth"
)

// headerSurface lists the headers folded into the identity. User-Agent and
// the accept set are stable per browser install; cookies and auth headers
// are intentionally excluded so the identity works pre-authentication.
var headerSurface = []string{
	"User-Agent",
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
}

// Deriver maps a request to a stable client identity string.
// It implements auth.ClientIdentifier.
type Deriver struct{}

// New creates a Deriver.
func New() *Deriver {
	return &Deriver{}
}

// ClientID returns a stable identity for the request's client.
func (d *Deriver) ClientID(r *http.Request) string {
	h := fnv.New64a()
	h.Write([]byte(auth.ClientIP(r)))
	for _, name := range headerSurface {
		h.Write([]byte{0})
		h.Write([]byte(r.Header.Get(name)))
	}
	return fmt.Sprintf("c%016x", h.Sum64())
}

// Ensure Deriver implements auth.ClientIdentifier.
var _ auth.ClientIdentifier = (*Deriver)(nil)
