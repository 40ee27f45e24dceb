package security

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsonpkg "github.com/drblury/tenantbus/internal/runtime/jsoncodec"
)

const maxErrorBody = 512

// okapiClient performs JSON calls against the gateway on behalf of a tenant.
type okapiClient struct {
	http *http.Client
}

// call sends body as JSON and decodes a 2xx response into out. Any other
// status becomes a *StatusError.
func (c *okapiClient) call(ctx context.Context, params ConnectionParams, method, path string, body, out any) error {
	resp, err := c.send(ctx, params, method, path, body, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := jsonpkg.Decode(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// send issues the request and hands back the raw response.
func (c *okapiClient) send(ctx context.Context, params ConnectionParams, method, path string, body any, cookies []*http.Cookie) (*http.Response, error) {
	if params.OkapiURL == "" || params.TenantID == "" {
		return nil, ErrMissingParams
	}

	var reader io.Reader
	if body != nil {
		payload, err := jsonpkg.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(params.OkapiURL, "/")+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	params.Apply(req.Header)
	req.Header.Set("Accept", "application/json, text/plain")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func statusError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method: method,
		Path:   path,
		Status: resp.StatusCode,
		Body:   strings.TrimSpace(string(raw)),
	}
}
