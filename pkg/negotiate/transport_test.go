package negotiate

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-dev/ghostwatch/pkg/dictionary"
)

func TestTransport_DecodesNegotiatedResponses(t *testing.T) {
	store := newStore(t)
	m := newMiddleware(t, Options{Store: store})
	body := largeBody()
	srv := httptest.NewServer(m.Handler(bodyHandler(body)))
	defer srv.Close()

	tests := []struct {
		name string
		held func() *dictionary.Dictionary
	}{
		{"with_dictionary", store.Current},
		{"without_dictionary", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := NewTransport(nil, tc.held)
			if err != nil {
				t.Fatalf("NewTransport() error: %v", err)
			}
			client := &http.Client{Transport: tr}

			resp, err := client.Get(srv.URL)
			if err != nil {
				t.Fatalf("GET error: %v", err)
			}
			defer resp.Body.Close()
			got, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if string(got) != body {
				t.Fatalf("decoded body length %d, want %d", len(got), len(body))
			}
			if !resp.Uncompressed {
				t.Fatal("response was not compressed on the wire")
			}
		})
	}
}
