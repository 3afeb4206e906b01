package stream

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Endpoint joins path onto baseURL. With wsScheme set, http and https
// schemes become ws and wss.
func Endpoint(baseURL, path string, wsScheme bool) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, errors.Wrapf(err, "parse base url %q", baseURL)
	}
	if u.Host == "" {
		return nil, errors.Errorf("base url %q has no host", baseURL)
	}

	scheme := strings.ToLower(u.Scheme)
	if wsScheme {
		switch scheme {
		case "http", "ws":
			scheme = "ws"
		case "https", "wss":
			scheme = "wss"
		default:
			return nil, errors.Errorf("unsupported scheme %q", u.Scheme)
		}
	} else if scheme != "http" && scheme != "https" {
		return nil, errors.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Scheme = scheme
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func withPrompt(u url.URL, prompt string) string {
	q := url.Values{}
	q.Set("prompt", prompt)
	u.RawQuery = q.Encode()
	return u.String()
}
