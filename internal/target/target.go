// Package target resolves the command line argument naming a build into
// the host to connect to and the build identifier to request.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// DefaultHost is used when the argument is a bare build identifier.
const DefaultHost = "zuul.opendev.org"

// streamSegment precedes the build identifier in console stream URLs,
// e.g. https://zuul.opendev.org/t/openstack/stream/<build>?logfile=console.log
const streamSegment = "stream"

// ErrBadTarget indicates the argument names no build.
var ErrBadTarget = errors.New("target: no build identifier")

// Target is a resolved build location.
type Target struct {
	Host  string
	Build string
}

// Parse resolves arg. URLs take the host from the URL and the build from
// the path segment after "stream"; anything else is a build identifier on
// defaultHost.
func Parse(arg, defaultHost string) (Target, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return Target{}, ErrBadTarget
	}

	if !strings.HasPrefix(arg, "http://") && !strings.HasPrefix(arg, "https://") {
		if defaultHost == "" {
			defaultHost = DefaultHost
		}
		return Target{Host: defaultHost, Build: arg}, nil
	}

	u, err := url.Parse(arg)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrBadTarget, err)
	}
	if u.Hostname() == "" {
		return Target{}, fmt.Errorf("%w: %q has no host", ErrBadTarget, arg)
	}

	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		if seg == streamSegment && i+1 < len(segments) && segments[i+1] != "" {
			return Target{Host: u.Hostname(), Build: segments[i+1]}, nil
		}
	}
	return Target{}, fmt.Errorf("%w: %q has no /%s/ segment", ErrBadTarget, arg, streamSegment)
}

// LooksLikeBuild reports whether build has the shape of a Zuul build
// identifier (a UUID, usually as 32 hex digits). Other identifiers are
// still valid requests; this only drives a warning.
func LooksLikeBuild(build string) bool {
	_, err := uuid.Parse(build)
	return err == nil
}
