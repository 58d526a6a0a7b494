package processors

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jonathan/pipeline-orchestrator/internal/fetch"
)

// httpFetch GETs config.url. With config.select, the text of every matching
// element is returned as "matches"; for HTML without a selector the main text
// is extracted. Non-2xx responses fail with "HTTP <code>" so 5xx and 429 are
// retried and other 4xx are not.
type httpFetch struct {
	client *http.Client
}

func (p *httpFetch) Execute(ctx context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	target, err := requireString(HTTPFetch, config, "url")
	if err != nil {
		return nil, err
	}
	headers, err := stringMap(config, "headers")
	if err != nil {
		return nil, err
	}
	timeoutSecs, err := floatValue(config, "timeout_seconds", 0)
	if err != nil {
		return nil, err
	}

	opts := fetch.DefaultOptions()
	opts.Headers = headers
	opts.Client = p.client
	if timeoutSecs > 0 {
		opts.Timeout = time.Duration(timeoutSecs * float64(time.Second))
		if p.client != nil {
			c := *p.client
			c.Timeout = opts.Timeout
			opts.Client = &c
		}
	}

	res, err := fetch.URL(ctx, target, opts)
	if err != nil {
		var fetchErr *fetch.Error
		if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
			return map[string]any{
				"status":      "FAILED",
				"error":       fetchErr.Message,
				"status_code": fetchErr.StatusCode,
			}, nil
		}
		return nil, err
	}

	out := map[string]any{
		"status_code":  res.StatusCode,
		"content_type": res.ContentType,
		"bytes":        len(res.Body),
		"truncated":    res.Truncated,
	}

	selector := stringValue(config, "select")
	switch {
	case selector != "":
		matches, err := fetch.Select(res.Body, selector)
		if err != nil {
			return nil, err
		}
		out["matches"] = matches
		out["match_count"] = len(matches)
		if len(matches) > 0 {
			out["text"] = matches[0]
		} else {
			out["text"] = ""
		}
	case res.IsHTML():
		text, err := fetch.ExtractMainText(res.Body, fetch.DefaultTextSelectors())
		if err != nil {
			return nil, err
		}
		out["text"] = text
	default:
		out["text"] = res.Body
	}
	return out, nil
}
