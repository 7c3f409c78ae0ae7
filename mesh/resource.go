package mesh

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Resource is an open mesh source together with the location it was
// loaded from. Nested "call" statements resolve against that location.
type Resource struct {
	io.ReadCloser
	loc *url.URL
}

// Path returns the location of the resource.
func (r *Resource) Path() string {
	return r.loc.String()
}

// NewResource opens location for reading. Locations without a scheme are
// local files; http and https locations are fetched. When parent is not
// nil a relative location resolves against the parent's directory. The
// caller must close the returned resource.
func NewResource(location string, parent *Resource) (*Resource, error) {
	loc, err := resolveLocation(location, parent)
	if err != nil {
		return nil, err
	}
	rc, err := openLocation(loc)
	if err != nil {
		return nil, err
	}
	return &Resource{ReadCloser: rc, loc: loc}, nil
}

// NewResourceFromStream wraps an in-memory source under name.
func NewResourceFromStream(name string, source io.Reader) *Resource {
	loc, _ := url.Parse(name)
	return &Resource{ReadCloser: io.NopCloser(source), loc: loc}
}

func resolveLocation(location string, parent *Resource) (*url.URL, error) {
	loc, err := url.Parse(strings.ReplaceAll(location, `\`, `/`))
	if err != nil {
		return nil, err
	}
	if loc.Scheme != "" || parent == nil {
		return loc, nil
	}

	if parent.loc.Scheme != "" {
		return parent.loc.ResolveReference(&url.URL{Path: loc.Path}), nil
	}

	base, err := filepath.Abs(parent.loc.String())
	if err != nil {
		return nil, fmt.Errorf("resource: could not detect abs path for %s; %s", parent.loc.String(), err.Error())
	}
	return &url.URL{Path: filepath.Join(filepath.Dir(base), loc.Path)}, nil
}

func openLocation(loc *url.URL) (io.ReadCloser, error) {
	switch loc.Scheme {
	case "":
		f, err := os.Open(filepath.Clean(loc.Path))
		if err != nil {
			return nil, err
		}
		return f, nil
	case "http", "https":
		return fetch(loc.String())
	}
	return nil, fmt.Errorf("resource: unsupported scheme '%s'", loc.Scheme)
}

func fetch(target string) (io.ReadCloser, error) {
	resp, err := http.Get(target)
	if err != nil {
		return nil, fmt.Errorf("resource: could not fetch '%s': %s", target, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, fmt.Errorf("resource: could not fetch '%s': status %d", target, resp.StatusCode)
	}
	return resp.Body, nil
}
