package netbus

import (
	"bytes"
	"testing"
)

func TestView_JSONBody(t *testing.T) {
	v := NewResponseView("r1", "GET", "https://example.org/api/items", 200, "application/json",
		nil, []byte(`{"items":[{"id":1}],"total":1}`))

	if !v.IsJSON() {
		t.Fatal("expected JSON body")
	}
	obj := v.Object()
	if obj == nil {
		t.Fatal("expected object")
	}
	if obj["total"].(float64) != 1 {
		t.Fatalf("total: got %v", obj["total"])
	}
	if _, ok := v.Data().(map[string]any); !ok {
		t.Fatalf("Data: got %T, want map", v.Data())
	}
}

func TestView_TextFallback(t *testing.T) {
	v := NewResponseView("r1", "GET", "https://example.org/page", 200, "text/html",
		nil, []byte("<html>not json</html>"))

	if v.IsJSON() {
		t.Fatal("html must not decode as JSON")
	}
	if v.Text() != "<html>not json</html>" {
		t.Fatalf("text: got %q", v.Text())
	}
	if s, ok := v.Data().(string); !ok || s != "<html>not json</html>" {
		t.Fatalf("Data: got %T %v", v.Data(), v.Data())
	}
}

func TestView_BinaryFallback(t *testing.T) {
	raw := []byte{0xff, 0xfe, 0x00, 0x01}
	v := NewResponseView("r1", "GET", "https://example.org/img", 200, "image/png", nil, raw)

	if v.IsJSON() || v.Text() != "" {
		t.Fatal("binary body must not decode as JSON or text")
	}
	got, ok := v.Data().([]byte)
	if !ok || !bytes.Equal(got, raw) {
		t.Fatalf("Data: got %T %v", v.Data(), v.Data())
	}
}

func TestView_EmptyBody(t *testing.T) {
	v := NewRequestView("r1", "GET", "https://example.org/", nil, nil)

	if v.Data() != nil {
		t.Fatalf("Data: got %v, want nil", v.Data())
	}
	if v.Object() != nil {
		t.Fatal("Object must be nil for an empty body")
	}
}

func TestView_RequestPostData(t *testing.T) {
	v := NewRequestView("r9", "POST", "https://example.org/api/search",
		map[string]string{"Content-Type": "application/json"},
		[]byte(`{"query":"boots"}`))

	if v.Method != "POST" {
		t.Fatalf("method: got %q", v.Method)
	}
	if v.Object()["query"] != "boots" {
		t.Fatalf("query: got %v", v.Object()["query"])
	}
	if v.ReqHeaders["Content-Type"] != "application/json" {
		t.Fatal("request headers lost")
	}
}
