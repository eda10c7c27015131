package httpstore_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"orderline/internal/store"
	"orderline/internal/store/httpstore"
)

func TestFetchMapsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := httpstore.New(srv.URL, "")
	if _, err := c.Fetch(context.Background(), "orders"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want store.ErrNotFound", err)
	}
}

func TestFetchSendsAPIKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := httpstore.New(srv.URL, "k1")
	if _, err := c.Fetch(context.Background(), "orders"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotKey != "k1" {
		t.Fatalf("X-Api-Key = %q, want %q", gotKey, "k1")
	}
}

func TestConcurrentFetchAndReplace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	c := httpstore.New(srv.URL, "")
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := c.Fetch(ctx, "orders"); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if err := c.Replace(ctx, "orders", []byte(`[]`)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("request: %v", err)
	}
}
