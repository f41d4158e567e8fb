// Package testserver runs an in-memory fake of the portal REST API on httptest.
package testserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

// Record is one stored entity in its wire form.
type Record map[string]any

// Request is a captured inbound request.
type Request struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

type account struct {
	userID      string
	username    string
	email       string
	password    string
	token       string
	isAnonymous bool
}

type failure struct {
	status int
	body   string
	header http.Header
	skip   int
	times  int
}

// TestServer is a fake backend with just enough behavior for client tests.
type TestServer struct {
	Server *httptest.Server
	Router *mux.Router

	mu       sync.Mutex
	seq      map[string]int
	accounts map[string]*account // by username
	tokens   map[string]*account
	projects []Record
	children map[string][]Record // "<kind>/<projectID>"
	readIDs  map[string][]string
	requests []Request
	failures map[string]*failure // "METHOD path"
}

// New starts a fake backend that is shut down with the test.
func New(t *testing.T) *TestServer {
	t.Helper()
	ts := &TestServer{
		seq:      map[string]int{},
		accounts: map[string]*account{},
		tokens:   map[string]*account{},
		children: map[string][]Record{},
		readIDs:  map[string][]string{},
		failures: map[string]*failure{},
	}
	ts.Router = ts.routes()
	ts.Server = httptest.NewServer(ts.record(ts.Router))
	t.Cleanup(ts.Server.Close)
	return ts
}

// URL is the base URL of the fake backend.
func (ts *TestServer) URL() string { return ts.Server.URL }

// AddUser registers an account whose login returns token.
func (ts *TestServer) AddUser(username, password, userID, token string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	a := &account{userID: userID, username: username, email: username + "@example.com", password: password, token: token}
	ts.accounts[username] = a
	ts.tokens[token] = a
}

// AddProject stores p, assigning an id when p has none, and returns the id.
func (ts *TestServer) AddProject(p Record) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := p["id"]; !ok {
		p["id"] = ts.nextID("p")
	}
	ts.projects = append(ts.projects, p)
	return p["id"].(string)
}

// AddChild stores r under a project's updates, gallery or chat collection.
func (ts *TestServer) AddChild(kind, projectID string, r Record) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := r["id"]; !ok {
		r["id"] = ts.nextID(kind[:1])
	}
	r["projectId"] = projectID
	key := kind + "/" + projectID
	ts.children[key] = append(ts.children[key], r)
	return r["id"].(string)
}

// Fail makes the matching request fail with status after skip successful calls, for
// times calls (0 means forever).
func (ts *TestServer) Fail(method, path string, status int, body string, skip, times int) {
	ts.FailWithHeader(method, path, status, body, nil, skip, times)
}

// FailWithHeader is Fail with extra response headers.
func (ts *TestServer) FailWithHeader(method, path string, status int, body string, header http.Header, skip, times int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.failures[method+" "+path] = &failure{status: status, body: body, header: header, skip: skip, times: times}
}

// Requests returns captured requests matching method and path.
func (ts *TestServer) Requests(method, path string) []Request {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var out []Request
	for _, r := range ts.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Last returns the last captured request matching method and path.
func (ts *TestServer) Last(method, path string) (Request, bool) {
	reqs := ts.Requests(method, path)
	if len(reqs) == 0 {
		return Request{}, false
	}
	return reqs[len(reqs)-1], true
}

// Projects returns a snapshot of stored projects.
func (ts *TestServer) Projects() []Record {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]Record(nil), ts.projects...)
}

// Children returns a snapshot of a project's child collection.
func (ts *TestServer) Children(kind, projectID string) []Record {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]Record(nil), ts.children[kind+"/"+projectID]...)
}

// ReadMessages returns the ids marked read for a project.
func (ts *TestServer) ReadMessages(projectID string) []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.readIDs[projectID]...)
}

func (ts *TestServer) nextID(prefix string) string {
	ts.seq[prefix]++
	return fmt.Sprintf("%s%d", prefix, ts.seq[prefix])
}

// record captures each request and applies injected failures before routing.
func (ts *TestServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		ts.mu.Lock()
		ts.requests = append(ts.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})
		f := ts.failures[r.Method+" "+r.URL.Path]
		inject := false
		if f != nil {
			if f.skip > 0 {
				f.skip--
			} else {
				inject = true
				if f.times > 0 {
					f.times--
					if f.times == 0 {
						delete(ts.failures, r.Method+" "+r.URL.Path)
					}
				}
			}
		}
		ts.mu.Unlock()

		if inject {
			for k, vs := range f.header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, f.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func decode(r *http.Request) (Record, error) {
	var rec Record
	if err := decodeInto(r, &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = Record{}
	}
	return rec, nil
}

func decodeInto(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func now() string {
	return time.Now().Format("2006-01-02T15:04:05.000")
}
