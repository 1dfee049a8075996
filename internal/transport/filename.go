package transport

import (
	"net/url"
	"path"
	"strings"
)

// DefaultFilename is used when the URL path has no usable last element.
const DefaultFilename = "rangedl.output"

// FilenameFromURL returns the last path element of rawURL, or DefaultFilename
// when that element could not be used as a file name.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultFilename
	}

	name := path.Base(u.Path)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00:*?\"<>|") {
		return DefaultFilename
	}

	return name
}
