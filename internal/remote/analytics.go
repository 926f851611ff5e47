package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"sort"
)

// Analytics channels and views served under /analytics/{channel}/{view}.
var (
	AnalyticsChannels = []string{"sms", "email", "voice", "appointments"}
	AnalyticsViews    = []string{"summary", "daily", "types"}
)

// Metrics is a free-form analytics payload keyed by metric name.
type Metrics map[string]any

// Keys returns the metric names in sorted order.
func (m Metrics) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Number returns the named metric as a float64 when it is numeric.
func (m Metrics) Number(key string) (float64, bool) {
	switch v := m[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// BasicAnalytics returns the cross-channel overview.
func (c *Client) BasicAnalytics(ctx context.Context) (Metrics, error) {
	const path = "/analytics/basic"
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeMetrics(path, body), nil
}

// ChannelAnalytics returns one view of one channel.
func (c *Client) ChannelAnalytics(ctx context.Context, channel, view string) (Metrics, error) {
	if !slices.Contains(AnalyticsChannels, channel) {
		return nil, fmt.Errorf("unknown analytics channel %q", channel)
	}
	if !slices.Contains(AnalyticsViews, view) {
		return nil, fmt.Errorf("unknown analytics view %q", view)
	}
	path := "/analytics/" + url.PathEscape(channel) + "/" + url.PathEscape(view)
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeMetrics(path, body), nil
}

// decodeMetrics unwraps {"data": {...}} and keeps numbers exact. A list
// payload (daily series) is kept under "items".
func (c *Client) decodeMetrics(path string, body []byte) Metrics {
	raw, ok := singleBody(body)
	if !ok {
		if env := classifyEnvelope(body, "items", "days"); env.shape != shapeUnknown {
			items := make([]any, 0, len(env.elems))
			for _, e := range env.elems {
				var v any
				if err := decodeNumbers(e, &v); err == nil {
					items = append(items, v)
				}
			}
			return Metrics{"items": items}
		}
		c.logger.Warn("unexpected analytics response, treating as empty", "path", path, "body", preview(body))
		return Metrics{}
	}
	m := Metrics{}
	if err := decodeNumbers(raw, &m); err != nil {
		c.logger.Warn("malformed analytics response", "path", path, "error", err)
		return Metrics{}
	}
	return m
}

func decodeNumbers(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
