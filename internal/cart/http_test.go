package cart_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"GoMarketplace/internal/cart"
	"GoMarketplace/internal/slot"
)

type productsResp struct {
	Products []cart.LineItem `json:"products"`
}

func newCartTS(t *testing.T, deps cart.HTTPDeps) (*httptest.Server, *cart.Store) {
	t.Helper()

	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	st := cart.New(slot.NewMemSlot(), cart.Deps{
		Log:     zap.NewNop(),
		Metrics: cart.NewMetrics(deps.Registry),
	})
	if err := st.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	deps.Log = zap.NewNop()
	deps.Service = "cart"
	ts := httptest.NewServer(cart.NewHandler(st, deps))

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = st.Close(ctx)
	})
	return ts, st
}

func doJSON(t *testing.T, c *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func decodeProducts(t *testing.T, raw []byte) []cart.LineItem {
	t.Helper()

	var out productsResp
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return out.Products
}

func TestCart_PublicAPI_HappyPath(t *testing.T) {
	ts, st := newCartTS(t, cart.HTTPDeps{})
	c := &http.Client{}

	{
		resp, raw := doJSON(t, c, http.MethodGet, ts.URL+"/cart", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list status=%d body=%s", resp.StatusCode, raw)
		}
		if got := decodeProducts(t, raw); got == nil || len(got) != 0 {
			t.Fatalf("want empty list, got %v (%s)", got, raw)
		}
	}

	shoe := map[string]any{"id": "a", "title": "Shoe", "image_url": "https://img/a.png", "price": 10}
	for i := 0; i < 2; i++ {
		resp, raw := doJSON(t, c, http.MethodPost, ts.URL+"/cart/items", shoe, nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("add status=%d body=%s", resp.StatusCode, raw)
		}
	}

	{
		resp, raw := doJSON(t, c, http.MethodPost, ts.URL+"/cart/items", map[string]any{
			"id": "b", "title": "Bag", "imageUrl": "https://img/b.png", "price": 35.5,
		}, nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("add legacy status=%d body=%s", resp.StatusCode, raw)
		}
		got := decodeProducts(t, raw)
		if len(got) != 2 || got[1].ImageURL != "https://img/b.png" {
			t.Fatalf("unexpected products: %+v", got)
		}
	}

	{
		resp, raw := doJSON(t, c, http.MethodPost, ts.URL+"/cart/items/a/decrement", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("decrement status=%d body=%s", resp.StatusCode, raw)
		}
		if got := decodeProducts(t, raw); got[0].Quantity != 1 {
			t.Fatalf("want quantity 1, got %+v", got[0])
		}
	}

	{
		resp, raw := doJSON(t, c, http.MethodPost, ts.URL+"/cart/items/b/increment", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("increment status=%d body=%s", resp.StatusCode, raw)
		}
	}

	{
		resp, raw := doJSON(t, c, http.MethodDelete, ts.URL+"/cart/items/a", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("remove status=%d body=%s", resp.StatusCode, raw)
		}
		got := decodeProducts(t, raw)
		if len(got) != 1 || got[0].ID != "b" || got[0].Quantity != 2 {
			t.Fatalf("unexpected products after remove: %+v", got)
		}
	}

	items := st.Products()
	if len(items) != 1 || items[0].ID != "b" {
		t.Fatalf("store out of sync with responses: %+v", items)
	}
}

func TestCart_PublicAPI_Errors(t *testing.T) {
	ts, _ := newCartTS(t, cart.HTTPDeps{})
	c := &http.Client{}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{name: "increment unknown", method: http.MethodPost, path: "/cart/items/nope/increment", status: http.StatusNotFound},
		{name: "decrement unknown", method: http.MethodPost, path: "/cart/items/nope/decrement", status: http.StatusNotFound},
		{name: "remove unknown", method: http.MethodDelete, path: "/cart/items/nope", status: http.StatusNotFound},
		{name: "malformed json", method: http.MethodPost, path: "/cart/items", body: `{"id":`, status: http.StatusBadRequest},
		{name: "trailing data", method: http.MethodPost, path: "/cart/items", body: `{"id":"a"}{"id":"b"}`, status: http.StatusBadRequest},
		{name: "missing id", method: http.MethodPost, path: "/cart/items", body: map[string]any{"title": "x"}, status: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/cart/items", body: map[string]any{"id": "a", "bogus": 1, "quantity": 99}, status: http.StatusBadRequest},
		{name: "negative price", method: http.MethodPost, path: "/cart/items", body: map[string]any{"id": "x", "price": -1}, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := doJSON(t, c, tt.method, ts.URL+tt.path, tt.body, nil)
			if resp.StatusCode != tt.status {
				t.Fatalf("status=%d want=%d body=%s", resp.StatusCode, tt.status, raw)
			}

			var e struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(raw, &e); err != nil || e.Error == "" {
				t.Fatalf("want error body, got %s", raw)
			}
		})
	}
}

func TestCart_ClosedStore(t *testing.T) {
	ts, st := newCartTS(t, cart.HTTPDeps{})
	if err := st.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	resp, raw := doJSON(t, &http.Client{}, http.MethodPost, ts.URL+"/cart/items", map[string]any{"id": "a"}, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%s", resp.StatusCode, raw)
	}
}

func TestCart_MutationRateLimit(t *testing.T) {
	ts, _ := newCartTS(t, cart.HTTPDeps{MutateLimit: 2, MutateWindow: time.Minute})
	c := &http.Client{}

	for i := 0; i < 2; i++ {
		resp, raw := doJSON(t, c, http.MethodPost, ts.URL+"/cart/items", map[string]any{"id": "a"}, nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("add %d status=%d body=%s", i, resp.StatusCode, raw)
		}
	}

	resp, raw := doJSON(t, c, http.MethodPost, ts.URL+"/cart/items/a/increment", nil, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status=%d body=%s", resp.StatusCode, raw)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	// Reads are never limited.
	resp, raw = doJSON(t, c, http.MethodGet, ts.URL+"/cart", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status=%d body=%s", resp.StatusCode, raw)
	}
	if got := decodeProducts(t, raw); len(got) != 1 || got[0].Quantity != 2 {
		t.Fatalf("unexpected products: %+v", got)
	}
}

func TestCart_HealthAndReady(t *testing.T) {
	ts, _ := newCartTS(t, cart.HTTPDeps{})
	c := &http.Client{}

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, raw := doJSON(t, c, http.MethodGet, ts.URL+path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, resp.StatusCode, raw)
		}
	}
}

func TestCart_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ts, st := newCartTS(t, cart.HTTPDeps{
		Registry:       reg,
		MetricsEnabled: true,
		MetricsToken:   "s3cret",
	})
	c := &http.Client{}

	doJSON(t, c, http.MethodPost, ts.URL+"/cart/items", map[string]any{"id": "a"}, nil)

	if resp, _ := doJSON(t, c, http.MethodGet, ts.URL+"/metrics", nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("metrics without token status=%d", resp.StatusCode)
	}

	doJSON(t, c, http.MethodPost, ts.URL+"/cart/items/nope/increment", nil, nil)
	if err := st.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	resp, raw := doJSON(t, c, http.MethodGet, ts.URL+"/metrics", nil, map[string]string{
		"Authorization": "Bearer s3cret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status=%d", resp.StatusCode)
	}

	for _, want := range []string{
		`route="/cart/items"`,
		`cart_mutations_total{op="add",result="ok"} 1`,
		`cart_mutations_total{op="increment",result="not_found"} 1`,
		`cart_persist_writes_total{result="ok"} 1`,
		`cart_persist_write_duration_seconds_count 1`,
		`cart_items 1`,
	} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("metrics missing %s:\n%s", want, raw)
		}
	}
}

func TestCart_EscapedItemID(t *testing.T) {
	ts, st := newCartTS(t, cart.HTTPDeps{})
	c := &http.Client{}

	resp, raw := doJSON(t, c, http.MethodPost, ts.URL+"/cart/items", map[string]any{"id": "sku/42"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status=%d body=%s", resp.StatusCode, raw)
	}

	resp, raw = doJSON(t, c, http.MethodPost, ts.URL+"/cart/items/sku%2F42/increment", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("increment status=%d body=%s", resp.StatusCode, raw)
	}
	if got := decodeProducts(t, raw); len(got) != 1 || got[0].Quantity != 2 {
		t.Fatalf("unexpected products: %+v", got)
	}

	resp, raw = doJSON(t, c, http.MethodDelete, ts.URL+"/cart/items/sku%2F42", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove status=%d body=%s", resp.StatusCode, raw)
	}
	if items := st.Products(); len(items) != 0 {
		t.Fatalf("item not removed: %+v", items)
	}
}

func TestCart_HandlerOutsideScope(t *testing.T) {
	h := cart.NewHandler(nil, cart.HTTPDeps{})
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	resp, raw := doJSON(t, &http.Client{}, http.MethodGet, ts.URL+"/cart", nil, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%s", resp.StatusCode, raw)
	}
}
