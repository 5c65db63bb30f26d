package routes_test

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/JaimeStill/concord/pkg/routes"
)

func ok(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(r.PathValue("id")))
}

func testGroup() routes.Group {
	return routes.Group{
		Prefix: "/workflows",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/{id}", Handler: ok},
		},
		Children: []routes.Group{
			{
				Prefix: "/{id}/reviews",
				Routes: []routes.Route{{Method: "GET", Pattern: "", Handler: ok}},
			},
		},
	}
}

func TestMount(t *testing.T) {
	mux := http.NewServeMux()
	routes.Mount(mux, "/api", testGroup())

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/api/workflows/abc", http.StatusOK, "abc"},
		{"/api/workflows/xyz/reviews", http.StatusOK, "xyz"},
		{"/workflows/abc", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status: got %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body: got %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestPatterns(t *testing.T) {
	got := routes.Patterns("/api", testGroup())
	want := []string{"GET /api/workflows/{id}", "GET /api/workflows/{id}/reviews"}

	if !slices.Equal(got, want) {
		t.Errorf("patterns: got %v, want %v", got, want)
	}
}
