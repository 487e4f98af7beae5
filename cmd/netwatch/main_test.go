package main

import (
	"testing"

	"github.com/hazyhaar/netwatch/netbus"
)

func view(body string) *netbus.View {
	return netbus.NewResponseView("r1", "GET", "https://example.org/api", 200,
		"application/json", nil, []byte(body))
}

func TestListHooks_ParseItems(t *testing.T) {
	h := &listHooks{keys: []string{"items", "data"}}

	cases := []struct {
		name string
		body string
		want int
	}{
		{"items envelope", `{"items":[{"id":1},{"id":2}]}`, 2},
		{"data envelope", `{"data":[{"id":1}]}`, 1},
		{"bare array", `[{"id":1},{"id":2},{"id":3}]`, 3},
		{"scalar entries skipped", `{"items":[1,2,{"id":3}]}`, 1},
		{"no list", `{"total":10}`, 0},
		{"not json", `<html></html>`, 0},
	}
	for _, tc := range cases {
		got := h.ParseItems(view(tc.body))
		if len(got) != tc.want {
			t.Errorf("%s: got %d items, want %d", tc.name, len(got), tc.want)
		}
	}
}

func TestListHooks_ShouldRecord(t *testing.T) {
	h := &listHooks{}
	if !h.ShouldRecord(view(`{"ok":true}`)) {
		t.Fatal("JSON view must be recorded")
	}
	if h.ShouldRecord(view(`not json`)) {
		t.Fatal("non-JSON view must not be recorded")
	}
}
