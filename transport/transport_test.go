package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/trianglegrrl/dhyana/core"
)

type stubDoer struct {
	lastRequest *http.Request
	lastBody    []byte
	response    *http.Response
	err         error
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.lastRequest = req
	if req.Body != nil {
		d.lastBody, _ = io.ReadAll(req.Body)
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.response != nil {
		return d.response, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
	}, nil
}

func TestRESTAdapter_AppliesHeadersAndQuery(t *testing.T) {
	doer := &stubDoer{}
	adapter := NewRESTAdapter(doer)
	adapter.DefaultHeaders = map[string]string{"Accept": "application/json"}

	res, err := adapter.Do(context.Background(), core.TransportRequest{
		Method:  "post",
		URL:     "https://slack.com/api/chat.postMessage",
		Headers: map[string]string{"Authorization": "Bearer token"},
		Query:   map[string]string{"pretty": "1"},
		Body:    []byte(`{"channel":"C1"}`),
	})
	if err != nil {
		t.Fatalf("rest call failed: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if doer.lastRequest.Method != http.MethodPost {
		t.Fatalf("expected POST, got %s", doer.lastRequest.Method)
	}
	if doer.lastRequest.Header.Get("Authorization") != "Bearer token" {
		t.Fatalf("expected request header applied")
	}
	if doer.lastRequest.Header.Get("Accept") != "application/json" {
		t.Fatalf("expected default header applied")
	}
	if doer.lastRequest.URL.Query().Get("pretty") != "1" {
		t.Fatalf("expected query applied")
	}
}

func TestRESTAdapter_SetsDefaultUserAgent(t *testing.T) {
	doer := &stubDoer{}
	adapter := NewRESTAdapter(doer)

	if _, err := adapter.Do(context.Background(), core.TransportRequest{
		URL: "https://slack.com/api/auth.test",
	}); err != nil {
		t.Fatalf("rest call failed: %v", err)
	}
	if got := doer.lastRequest.Header.Get("User-Agent"); got != "dhyana-pipeline" {
		t.Fatalf("expected pipeline user agent, got %q", got)
	}
}

func TestRESTAdapter_EnforcesBodyLimit(t *testing.T) {
	doer := &stubDoer{
		response: &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(strings.Repeat("x", 64))),
		},
	}
	adapter := NewRESTAdapter(doer)
	adapter.MaxResponseBodyBytes = 16

	_, err := adapter.Do(context.Background(), core.TransportRequest{
		URL: "https://api.getjobber.com/api/graphql",
	})
	if err == nil {
		t.Fatalf("expected body limit error")
	}
}

func TestGraphQLAdapter_BuildsPayload(t *testing.T) {
	doer := &stubDoer{}
	adapter := NewGraphQLAdapter("https://api.getjobber.com/api/graphql", doer)

	_, err := adapter.Do(context.Background(), core.TransportRequest{
		Headers: map[string]string{"X-JOBBER-GRAPHQL-VERSION": "2023-11-15"},
		Metadata: map[string]any{
			"query":     "query GetClient($id: ID!) { client(id: $id) { id } }",
			"variables": map[string]any{"id": "C-1"},
		},
	})
	if err != nil {
		t.Fatalf("graphql call failed: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(doer.lastBody, &payload); err != nil {
		t.Fatalf("decode posted payload: %v", err)
	}
	if !strings.Contains(payload["query"].(string), "GetClient") {
		t.Fatalf("expected query in payload")
	}
	variables, ok := payload["variables"].(map[string]any)
	if !ok || variables["id"] != "C-1" {
		t.Fatalf("expected variables in payload, got %v", payload["variables"])
	}
	if doer.lastRequest.Header.Get("X-JOBBER-GRAPHQL-VERSION") != "2023-11-15" {
		t.Fatalf("expected version header forwarded")
	}
	if doer.lastRequest.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type")
	}
}

func TestGraphQLAdapter_RequiresQuery(t *testing.T) {
	adapter := NewGraphQLAdapter("https://api.getjobber.com/api/graphql", &stubDoer{})
	_, err := adapter.Do(context.Background(), core.TransportRequest{})
	if err == nil {
		t.Fatalf("expected missing query error")
	}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	registry := NewDefaultRegistry()

	adapter, err := registry.Resolve("graphql")
	if err != nil {
		t.Fatalf("resolve graphql: %v", err)
	}
	if adapter.Kind() != KindGraphQL {
		t.Fatalf("unexpected adapter kind %q", adapter.Kind())
	}

	if err := registry.Register(NewRESTAdapter(nil)); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if _, err := registry.Resolve("soap"); err == nil {
		t.Fatalf("expected unknown kind error")
	}

	kinds := registry.Kinds()
	if len(kinds) != 2 || kinds[0] != KindGraphQL || kinds[1] != KindREST {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}
