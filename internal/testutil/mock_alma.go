// Package testutil provides testing utilities for the Alma batch updater.
package testutil

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MockAlma is a configurable in-process Alma API server backed by httptest.
// It serves the paginated users listing (XML) and single-user fetch/replace
// (JSON) endpoints from an in-memory user table, and can be overridden per
// path with custom handlers to inject failures.
type MockAlma struct {
	server *httptest.Server

	mu       sync.RWMutex
	users    map[string]map[string]any
	order    []string
	handlers map[string]http.HandlerFunc

	// Tracking
	RequestCount int
	PutCount     int
	LastQuery    url.Values
}

// NewMockAlma creates a mock Alma server with no users.
func NewMockAlma() *MockAlma {
	mock := &MockAlma{
		users:    make(map[string]map[string]any),
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		if r.Method == http.MethodPut {
			mock.PutCount++
		}
		mock.LastQuery = r.URL.Query()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()
		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server base URL with a trailing slash, suitable as an
// alma.Config BaseURL.
func (m *MockAlma) URL() string {
	return m.server.URL + "/"
}

// Close shuts down the mock server.
func (m *MockAlma) Close() {
	m.server.Close()
}

// AddUser registers a user document under its primary id. Listing order
// follows insertion order.
func (m *MockAlma) AddUser(id string, doc map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[id]; !exists {
		m.order = append(m.order, id)
	}
	m.users[id] = doc
}

// User returns the current stored document for id.
func (m *MockAlma) User(id string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.users[id]
	return doc, ok
}

// SetHandler overrides the handler for a specific path.
func (m *MockAlma) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAlma) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

func (m *MockAlma) defaultHandler(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/users" && r.Method == http.MethodGet:
		m.handleListing(w, r)
	case strings.HasPrefix(r.URL.Path, "/users/") && r.Method == http.MethodGet:
		m.handleGet(w, r)
	case strings.HasPrefix(r.URL.Path, "/users/") && r.Method == http.MethodPut:
		m.handlePut(w, r)
	default:
		WriteXMLError(w, http.StatusNotFound, "ROUTE_NOT_FOUND", "no such endpoint")
	}
}

func (m *MockAlma) handleListing(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.RUnlock()

	if r.URL.Query().Get("order_by") == "primary_id" {
		sort.Strings(ids)
	}

	var page []string
	if offset < len(ids) {
		end := offset + limit
		if end > len(ids) {
			end = len(ids)
		}
		page = ids[offset:end]
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	fmt.Fprint(w, ListingBody(len(ids), page...))
}

func (m *MockAlma) handleGet(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/users/")
	doc, ok := m.User(id)
	if !ok {
		WriteJSONError(w, http.StatusBadRequest, "4019990", "user with identifier "+id+" was not found")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(doc)
}

func (m *MockAlma) handlePut(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/users/")
	if _, ok := m.User(id); !ok {
		WriteJSONError(w, http.StatusBadRequest, "4019990", "user with identifier "+id+" was not found")
		return
	}
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "402204", "invalid user payload")
		return
	}
	m.AddUser(id, doc)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(doc)
}

// ListingBody builds a users listing XML body with the given total record
// count attribute and one <user><primary_id> entry per id, in order.
func ListingBody(total int, ids ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<users total_record_count="%d">`, total)
	b.WriteString("\n")
	for _, id := range ids {
		var escaped strings.Builder
		xml.EscapeText(&escaped, []byte(id))
		fmt.Fprintf(&b, "  <user>\n    <primary_id>%s</primary_id>\n  </user>\n", escaped.String())
	}
	b.WriteString("</users>")
	return b.String()
}

// WriteXMLError writes an Alma-style XML error body with a single error
// group.
func WriteXMLError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<web_service_result>
  <errorsExist>true</errorsExist>
  <errorList>
    <error>
      <errorCode>%s</errorCode>
      <errorMessage>%s</errorMessage>
      <trackingId>E01-MOCK</trackingId>
    </error>
  </errorList>
</web_service_result>`, code, message)
}

// WriteJSONError writes an Alma-style JSON error body with a single error
// entry.
func WriteJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	payload := map[string]any{
		"errorsExist": true,
		"errorList": map[string]any{
			"error": []map[string]string{
				{
					"errorCode":    code,
					"errorMessage": message,
					"trackingId":   "E01-MOCK",
				},
			},
		},
	}
	json.NewEncoder(w).Encode(payload)
}
