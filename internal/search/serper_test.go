package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSerperSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["q"] != "creatine timing" {
			t.Errorf("unexpected query %v", body["q"])
		}
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"A","link":"https://a.example","snippet":"a"},
			{"title":"B","link":"https://b.example","snippet":"b"},
			{"title":"C","link":"https://c.example","snippet":"c"}
		]}`))
	}))
	defer srv.Close()

	s := NewSerper("key", srv.URL, 2)
	res, err := s.Search(context.Background(), "creatine timing")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 2 || res[0].URL != "https://a.example" || res[1].Title != "B" {
		t.Fatalf("unexpected results: %+v", res)
	}
}

func TestSerperErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := NewSerper("key", srv.URL, 5).Search(context.Background(), "q"); err == nil {
		t.Fatal("expected error on non-200")
	}
}
