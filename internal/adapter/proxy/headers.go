// Package proxy is the per-request pipeline: it reads the client body,
// rewrites and forwards it to the chosen upstream through the retry
// engine, bridges the response back (buffered or streamed), and emits
// exactly one request record.
package proxy

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/thushan/codex-helper-proxy/internal/util"
	"github.com/thushan/codex-helper-proxy/internal/version"
)

// hopByHopHeaders are stripped from both directions.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailers", "Transfer-Encoding", "Upgrade",
}

func isHopByHopHeader(header string) bool {
	return slices.ContainsFunc(hopByHopHeaders, func(h string) bool {
		return strings.EqualFold(h, header)
	})
}

// buildUpstreamHeaders copies the client's headers, stripping hop-by-hop
// headers and the client's own Authorization header, then attaches the
// upstream's resolved token, or preserves the client's
// original Authorization when the upstream has no token configured and
// is flagged requires_openai_auth.
func buildUpstreamHeaders(orig http.Header, token string, requiresOpenAIAuth bool, clientAuth string) http.Header {
	out := make(http.Header, len(orig))
	for k, vals := range orig {
		if isHopByHopHeader(k) {
			continue
		}
		if strings.EqualFold(k, "Authorization") {
			continue
		}
		out[k] = append([]string(nil), vals...)
	}

	switch {
	case token != "":
		out.Set("Authorization", "Bearer "+token)
	case requiresOpenAIAuth && clientAuth != "":
		out.Set("Authorization", clientAuth)
	}

	out.Set("X-Proxied-By", version.Name+"/"+version.Version)
	via := "1.1 " + version.ShortName + "/" + version.Version
	if existing := out.Get("Via"); existing != "" {
		via = existing + ", " + via
	}
	out.Set("Via", via)

	return out
}

// joinUpstreamURL joins the client path onto the upstream base URL,
// de-duplicating the base URL's own path component if the client path
// already begins with it (so base_url=https://x/v1 + path=/v1/responses
// yields .../v1/responses, not .../v1/v1/responses).
func joinUpstreamURL(baseURL, clientPath, rawQuery string) (string, error) {
	u, err := url.Parse(util.NormaliseBaseURL(baseURL))
	if err != nil {
		return "", err
	}

	basePath := u.Path
	finalPath := clientPath
	if basePath != "" && basePath != "/" && strings.HasPrefix(clientPath, basePath) {
		finalPath = clientPath
	} else {
		finalPath = util.JoinURLPath(basePath, clientPath)
	}

	u.Path = finalPath
	u.RawPath = ""
	if rawQuery != "" {
		u.RawQuery = rawQuery
	}
	return u.String(), nil
}
