package httpproxy

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// EndPoint tracks the mutable state needed to address Cumulocity: the
// tenant base URL, the cached bearer token, and the cached internal ids for
// the main device and any child devices addressed so far.
type EndPoint struct {
	mu sync.Mutex

	c8yHost    string
	externalID string // main device external id ("c8y_Serial")

	token      string
	internalID map[string]string // external id -> internal id
}

// NewEndPoint constructs an EndPoint for the given tenant host and main
// device external id.
func NewEndPoint(c8yHost, mainExternalID string) *EndPoint {
	return &EndPoint{
		c8yHost:    c8yHost,
		externalID: mainExternalID,
		internalID: map[string]string{},
	}
}

// Token returns the cached bearer token, if any.
func (e *EndPoint) Token() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

// SetToken overwrites the cached bearer token.
func (e *EndPoint) SetToken(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token = token
}

// ClearToken drops the cached bearer token, forcing a refetch.
func (e *EndPoint) ClearToken() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token = ""
}

// InternalID returns the cached internal id for an external id, if known.
func (e *EndPoint) InternalID(externalID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.internalID[externalID]
	return id, ok
}

// SetInternalID caches the internal id resolved for an external id.
func (e *EndPoint) SetInternalID(externalID, internalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.internalID[externalID] = internalID
}

// ClearInternalID drops the cached internal id, forcing a refetch.
func (e *EndPoint) ClearInternalID(externalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.internalID, externalID)
}

// MainDeviceExternalID returns the main device's external id.
func (e *EndPoint) MainDeviceExternalID() string { return e.externalID }

// GetURLForGetID builds the "GET internal id for external id" URL.
func (e *EndPoint) GetURLForGetID(externalID string) (string, error) {
	base, err := url.Parse(fmt.Sprintf("https://%s/", e.c8yHost))
	if err != nil {
		return "", err
	}
	joined, err := base.Parse("identity/externalIds/c8y_Serial/" + url.PathEscape(externalID))
	if err != nil {
		return "", err
	}
	return joined.String(), nil
}

// UpdateURLWithNewInternalID replaces every path segment equal to the stale
// internal id with the fresh one. It edits the parsed URL's path segment by
// segment rather than concatenating strings, so only whole segments change.
func (e *EndPoint) UpdateURLWithNewInternalID(rawURL, staleID, freshID string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	segments := strings.Split(parsed.Path, "/")
	for i, seg := range segments {
		if seg == staleID {
			segments[i] = freshID
		}
	}
	parsed.Path = strings.Join(segments, "/")
	return parsed.String(), nil
}

// URLIsInMyTenantDomain reports whether rawURL targets this proxy's own
// tenant, used to decide whether bearer auth should be attached to a
// download request.
func (e *EndPoint) URLIsInMyTenantDomain(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return parsed.Host == e.c8yHost
}
