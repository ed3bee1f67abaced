package dahua

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
)

var digestNonceCount uint64

// doDigest performs req against the camera's digest-authenticated CGI
// endpoints: an unauthenticated probe to harvest the WWW-Authenticate
// challenge, then the real request with a computed Authorization header.
// Dahua's embedded HTTP server does not support any simpler scheme.
func (c *Camera) doDigest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	probe, err := http.NewRequestWithContext(ctx, method, c.url(path), nil)
	if err != nil {
		return nil, err
	}
	probeResp, err := c.client.Do(probe)
	if err != nil {
		return nil, err
	}
	if probeResp.StatusCode != http.StatusUnauthorized {
		return probeResp, nil
	}
	challenge := probeResp.Header.Get("WWW-Authenticate")
	probeResp.Body.Close()

	params := parseDigestChallenge(challenge)
	if params["realm"] == "" || params["nonce"] == "" {
		return nil, fmt.Errorf("camera did not return a digest challenge")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.buildDigestHeader(method, path, params))
	return c.client.Do(req)
}

func parseDigestChallenge(header string) map[string]string {
	out := map[string]string{}
	header = strings.TrimPrefix(header, "Digest ")
	for _, part := range splitDigestParams(header) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		out[key] = val
	}
	return out
}

// splitDigestParams splits a comma-separated digest param list while
// respecting commas inside quoted values (e.g. domain="/a,/b").
func splitDigestParams(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func (c *Camera) buildDigestHeader(method, path string, params map[string]string) string {
	realm, nonce, qop, opaque := params["realm"], params["nonce"], params["qop"], params["opaque"]

	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", c.username, realm, c.password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, path))

	nc := fmt.Sprintf("%08x", atomic.AddUint64(&digestNonceCount, 1))
	cnonce := randomHex(8)

	var response string
	if qop == "auth" || qop == "auth-int" {
		response = md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, nonce, nc, cnonce, qop, ha2))
	} else {
		response = md5Hex(fmt.Sprintf("%s:%s:%s", ha1, nonce, ha2))
	}

	header := fmt.Sprintf(`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		c.username, realm, nonce, path, response)
	if qop != "" {
		header += fmt.Sprintf(`, qop=%s, nc=%s, cnonce="%s"`, qop, nc, cnonce)
	}
	if opaque != "" {
		header += fmt.Sprintf(`, opaque="%s"`, opaque)
	}
	return header
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatUint(uint64(n), 16)
	}
	return hex.EncodeToString(buf)
}
