package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hazyhaar/vgrid/resource"
)

// RenderInfo returns the render service location, fetching it on first
// use.
func (c *Client) RenderInfo(ctx context.Context) (RenderingInfo, error) {
	c.mu.Lock()
	if c.info != nil {
		info := *c.info
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	var info RenderingInfo
	_, err := c.do(ctx, call{
		name:   "renderinfo",
		method: http.MethodGet,
		url:    c.serverURL("/renderinfo"),
		ok:     []int{http.StatusOK},
		out:    &info,
	})
	if err != nil {
		return RenderingInfo{}, err
	}
	if info.ServiceURL == "" {
		return RenderingInfo{}, errors.New("render: renderinfo: empty service url")
	}
	c.SetRenderingInfo(info)
	return info, nil
}

func (c *Client) serviceCall(ctx context.Context, cl call, path string) (int, error) {
	info, err := c.RenderInfo(ctx)
	if err != nil {
		return 0, err
	}
	cl.url = info.ServiceURL + path
	if cl.header == nil {
		cl.header = http.Header{}
	}
	cl.header.Set("X-Auth-Token", info.AccessToken)
	return c.do(ctx, cl)
}

// Render submits render requests and returns one RunningRender each.
func (c *Client) Render(ctx context.Context, reqs ...*RenderRequest) ([]RunningRender, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	body, err := jsonBody(reqs)
	if err != nil {
		return nil, err
	}
	var out []RunningRender
	_, err = c.serviceCall(ctx, call{
		name:        "render",
		method:      http.MethodPost,
		body:        body,
		contentType: "application/json",
		ok:          []int{http.StatusOK},
		out:         &out,
	}, "/render")
	if err != nil {
		return nil, err
	}
	if len(out) != len(reqs) {
		return nil, fmt.Errorf("render: render: got %d results for %d requests", len(out), len(reqs))
	}
	return out, nil
}

func resourcePath(hash, renderID string) string {
	return "/resources/sha256/" + hash + "?render-id=" + url.QueryEscape(renderID)
}

// CheckResource reports whether the service already holds content with
// the given hash.
func (c *Client) CheckResource(ctx context.Context, renderID, hash string) (bool, error) {
	code, err := c.serviceCall(ctx, call{
		name:   "check-resource",
		method: http.MethodHead,
		ok:     []int{http.StatusOK, http.StatusNotFound},
	}, resourcePath(hash, renderID))
	if err != nil {
		return false, err
	}
	return code == http.StatusOK, nil
}

// PutResource uploads the content of r. Content already recorded in the
// ledger is not sent again.
func (c *Client) PutResource(ctx context.Context, renderID string, r *resource.Resource) error {
	if !r.HasContent() {
		return fmt.Errorf("render: put %s: no content", resource.RedactURL(r.URL))
	}
	hash := r.SHA256()
	if c.cfg.Ledger != nil {
		done, err := c.cfg.Ledger.Uploaded(ctx, hash)
		if err != nil {
			c.logger.WarnContext(ctx, "render: ledger lookup", "hash", hash, "error", err)
		} else if done {
			return nil
		}
	}

	ct := r.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	_, err := c.serviceCall(ctx, call{
		name:        "put-resource",
		method:      http.MethodPut,
		body:        r.Content(),
		contentType: ct,
		ok:          []int{http.StatusOK, http.StatusCreated},
	}, resourcePath(hash, renderID))
	if err != nil {
		return err
	}

	if c.cfg.Ledger != nil {
		if err := c.cfg.Ledger.RecordUpload(ctx, hash, ct, len(r.Content())); err != nil {
			c.logger.WarnContext(ctx, "render: ledger record", "hash", hash, "error", err)
		}
	}
	return nil
}

// RenderStatus returns the status of each render id, in order.
func (c *Client) RenderStatus(ctx context.Context, ids ...string) ([]RenderStatusResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body, err := jsonBody(ids)
	if err != nil {
		return nil, err
	}
	var out []*RenderStatusResult
	_, err = c.serviceCall(ctx, call{
		name:        "render-status",
		method:      http.MethodPost,
		body:        body,
		contentType: "application/json",
		ok:          []int{http.StatusOK},
		out:         &out,
	}, "/render-status")
	if err != nil {
		return nil, err
	}
	res := make([]RenderStatusResult, len(ids))
	for i := range res {
		if i < len(out) && out[i] != nil {
			res[i] = *out[i]
		}
		if res[i].RenderID == "" {
			res[i].RenderID = ids[i]
		}
	}
	return res, nil
}

// WaitForRendered polls until no render is still rendering. A render that
// ended in error is returned with its status, not as an error.
func (c *Client) WaitForRendered(ctx context.Context, ids []string, interval, timeout time.Duration) ([]RenderStatusResult, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(map[string]RenderStatusResult, len(ids))
	pending := append([]string(nil), ids...)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		statuses, err := c.RenderStatus(ctx, pending...)
		if err != nil {
			return nil, err
		}
		var still []string
		for _, st := range statuses {
			if st.Status == StatusRendering || st.Status == "" {
				still = append(still, st.RenderID)
				continue
			}
			done[st.RenderID] = st
		}
		if len(still) == 0 {
			break
		}
		pending = still
		c.logger.DebugContext(ctx, "render: waiting", "pending", len(pending))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("render: wait for rendered: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	out := make([]RenderStatusResult, len(ids))
	for i, id := range ids {
		out[i] = done[id]
	}
	return out, nil
}
