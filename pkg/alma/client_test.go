package alma

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bibops/alma-user-batch/internal/testutil"
	"github.com/bibops/alma-user-batch/pkg/ratelimit"
)

// newTestClient builds a client pointed at the given base URL with a limiter
// fast enough to keep tests quick.
func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := New(Config{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Limiter: ratelimit.New(10000, time.Nanosecond),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "region and api key",
			config: Config{Region: "na", APIKey: "k"},
		},
		{
			name:   "base url instead of region",
			config: Config{APIKey: "k", BaseURL: "http://localhost:9999/almaws/v1/"},
		},
		{
			name:    "missing api key",
			config:  Config{Region: "na"},
			wantErr: true,
		},
		{
			name:    "missing region and base url",
			config:  Config{APIKey: "k"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_RegionBaseURL(t *testing.T) {
	client, err := New(Config{Region: "eu", APIKey: "k"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	want := "https://api-eu.hosted.exlibrisgroup.com/almaws/v1/"
	if got := client.baseURL.String(); got != want {
		t.Errorf("baseURL = %q, want %q", got, want)
	}
}

func TestUserIDsAndTotal(t *testing.T) {
	mock := testutil.NewMockAlma()
	defer mock.Close()
	for _, id := range []string{"u1", "u2", "u3"} {
		mock.AddUser(id, map[string]any{"primary_id": id})
	}

	client := newTestClient(t, mock.URL())
	ids, total, err := client.UserIDsAndTotal(context.Background(), 0, 2)
	if err != nil {
		t.Fatalf("UserIDsAndTotal() error = %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u2" {
		t.Errorf("ids = %v, want [u1 u2]", ids)
	}

	// Listing request parameters and credentials.
	q := mock.LastQuery
	if got := q.Get("apikey"); got != "test-key" {
		t.Errorf("apikey query param = %q, want %q", got, "test-key")
	}
	if got := q.Get("order_by"); got != "primary_id" {
		t.Errorf("order_by = %q, want primary_id", got)
	}
	if got := q.Get("limit"); got != "2" {
		t.Errorf("limit = %q, want 2", got)
	}
	if got := q.Get("offset"); got != "0" {
		t.Errorf("offset = %q, want 0", got)
	}
}

func TestUserIDsAndTotal_MissingTotal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<users><user><primary_id>u1</primary_id></user></users>`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/")
	_, _, err := client.UserIDsAndTotal(context.Background(), 0, 10)

	if !errors.Is(err, ErrMissingTotalCount) {
		t.Errorf("error = %v, want ErrMissingTotalCount", err)
	}
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("error type = %T, want *DecodeError", err)
	}
}

func TestUserIDs_NoTotalRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<users><user><primary_id>u1</primary_id></user></users>`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/")
	ids, err := client.UserIDs(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("UserIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "u1" {
		t.Errorf("ids = %v, want [u1]", ids)
	}
}

func TestUser_AcceptHeaderAndEncoding(t *testing.T) {
	var gotPath, gotRequestURI, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRequestURI = r.RequestURI
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"primary_id": "ab#cd"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/")
	doc, err := client.User(context.Background(), "ab#cd")
	if err != nil {
		t.Fatalf("User() error = %v", err)
	}
	if got, _ := doc["primary_id"].(string); got != "ab#cd" {
		t.Errorf("primary_id = %q, want ab#cd", got)
	}
	if gotPath != "/users/ab#cd" {
		t.Errorf("decoded path = %q, want /users/ab#cd", gotPath)
	}
	// The '#' must travel percent-encoded, or it would start a fragment.
	if !strings.HasPrefix(gotRequestURI, "/users/ab%23cd") {
		t.Errorf("request URI = %q, want prefix /users/ab%%23cd", gotRequestURI)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want application/json", gotAccept)
	}
}

func TestUserWithFees_ExpandParam(t *testing.T) {
	mock := testutil.NewMockAlma()
	defer mock.Close()
	mock.AddUser("u1", map[string]any{"primary_id": "u1"})

	client := newTestClient(t, mock.URL())
	if _, err := client.UserWithFees(context.Background(), "u1"); err != nil {
		t.Fatalf("UserWithFees() error = %v", err)
	}
	if got := mock.LastQuery["expand"]; len(got) != 1 || got[0] != "fees" {
		t.Errorf("expand query param = %v, want [fees]", got)
	}
}

func TestUpdateUser_PutRequest(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/")
	doc := map[string]any{"primary_id": "u1", "user_group": map[string]any{"value": "STAFF"}}
	if err := client.UpdateUser(context.Background(), "u1", doc); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if got, _ := gotBody["primary_id"].(string); got != "u1" {
		t.Errorf("body primary_id = %q, want u1", got)
	}
}

func TestUpdateUser_ReusesConnection(t *testing.T) {
	var mu sync.Mutex
	newConns := 0
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"primary_id": "u1"}`))
	}))
	server.Config.ConnState = func(c net.Conn, state http.ConnState) {
		if state == http.StateNew {
			mu.Lock()
			newConns++
			mu.Unlock()
		}
	}
	server.Start()
	defer server.Close()

	client := newTestClient(t, server.URL+"/")
	doc := map[string]any{"primary_id": "u1"}
	for i := 0; i < 5; i++ {
		if err := client.UpdateUser(context.Background(), "u1", doc); err != nil {
			t.Fatalf("UpdateUser() error = %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if newConns != 1 {
		t.Errorf("connections opened = %d, want 1 (response body must be drained for reuse)", newConns)
	}
}

func TestClient_ClassifiesErrorResponses(t *testing.T) {
	mock := testutil.NewMockAlma()
	defer mock.Close()

	client := newTestClient(t, mock.URL())
	_, err := client.User(context.Background(), "missing")

	var apiErrs APIErrors
	if !errors.As(err, &apiErrs) {
		t.Fatalf("error = %T (%v), want APIErrors", err, err)
	}
	if apiErrs[0].StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", apiErrs[0].StatusCode)
	}
	if apiErrs[0].Code != "4019990" {
		t.Errorf("Code = %q, want 4019990", apiErrs[0].Code)
	}
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse all connections

	client := newTestClient(t, server.URL+"/")
	_, err := client.User(context.Background(), "u1")

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %T (%v), want *TransportError", err, err)
	}
}

func TestClient_RateLimitsRequests(t *testing.T) {
	mock := testutil.NewMockAlma()
	defer mock.Close()
	mock.AddUser("u1", map[string]any{"primary_id": "u1"})

	client, err := New(Config{
		APIKey:  "k",
		BaseURL: mock.URL(),
		Limiter: ratelimit.New(5, time.Nanosecond),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Burst of 5 is free; the next 5 requests need a second of refill.
	start := time.Now()
	for i := 0; i < 10; i++ {
		if _, err := client.User(context.Background(), "u1"); err != nil {
			t.Fatalf("User() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 800*time.Millisecond {
		t.Errorf("10 requests at 5/s took %v, want at least ~1s", elapsed)
	}
}
