package render

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// StartSession opens a comparison session.
func (c *Client) StartSession(ctx context.Context, info SessionStartInfo) (*RunningSession, error) {
	body, err := jsonBody(map[string]any{"startInfo": info})
	if err != nil {
		return nil, err
	}
	var rs RunningSession
	code, err := c.do(ctx, call{
		name:        "start-session",
		method:      http.MethodPost,
		url:         c.serverURL("/running"),
		body:        body,
		contentType: "application/json",
		ok:          []int{http.StatusOK, http.StatusCreated},
		out:         &rs,
	})
	if err != nil {
		return nil, err
	}
	rs.IsNewSession = code == http.StatusCreated
	return &rs, nil
}

// MatchWindow sends one checkpoint of a session.
func (c *Client) MatchWindow(ctx context.Context, s *RunningSession, data MatchWindowData) (*MatchResult, error) {
	if s == nil {
		return nil, errors.New("render: match window: nil session")
	}
	body, err := jsonBody(data)
	if err != nil {
		return nil, err
	}
	var res MatchResult
	_, err = c.do(ctx, call{
		name:        "match-window",
		method:      http.MethodPost,
		url:         c.serverURL("/running/", url.PathEscape(s.ID)),
		body:        body,
		contentType: "application/json",
		ok:          []int{http.StatusOK},
		out:         &res,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// StopSession closes a session and returns its results.
func (c *Client) StopSession(ctx context.Context, s *RunningSession, aborted, updateBaseline bool) (*TestResults, error) {
	if s == nil {
		return nil, errors.New("render: stop session: nil session")
	}
	q := url.Values{}
	q.Set("aborted", strconv.FormatBool(aborted))
	q.Set("updateBaseline", strconv.FormatBool(updateBaseline))

	var res TestResults
	_, err := c.do(ctx, call{
		name:   "stop-session",
		method: http.MethodDelete,
		url:    c.serverURL("/running/", url.PathEscape(s.ID), "?", q.Encode()),
		ok:     []int{http.StatusOK},
		out:    &res,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// UploadImage stores a PNG at the results location and returns its URL.
func (c *Client) UploadImage(ctx context.Context, png []byte) (string, error) {
	return c.Upload(ctx, "upload-image", png, "image/png")
}

// UploadDOM stores a captured DOM document at the results location and
// returns its URL.
func (c *Client) UploadDOM(ctx context.Context, dom []byte) (string, error) {
	return c.Upload(ctx, "upload-dom", dom, "application/json")
}

// Upload stores data at a fresh results location and returns its URL.
// name labels the call in logs and errors.
func (c *Client) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	info, err := c.RenderInfo(ctx)
	if err != nil {
		return "", err
	}
	if info.ResultsURL == "" {
		return "", errors.New("render: upload: no results url")
	}
	target := strings.Replace(info.ResultsURL, "__random__", c.cfg.IDs(), 1)

	_, err = c.do(ctx, call{
		name:        name,
		method:      http.MethodPut,
		url:         target,
		body:        data,
		contentType: contentType,
		header:      http.Header{"X-Ms-Blob-Type": {"BlockBlob"}},
		ok:          []int{http.StatusOK, http.StatusCreated},
	})
	if err != nil {
		return "", err
	}
	return target, nil
}
