// Package hmcfake provides an in-memory HMC Web Services API served over TLS
// by httptest. It implements the subset of operations used by package hmc and
// records every request for assertions.
package hmcfake

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dokzlo13/zhmcctl/internal/hmc"
)

// Default credentials accepted by a new Server.
const (
	Userid   = "hmcuser"
	Password = "hmcpass"
)

// Request is one journal entry.
type Request struct {
	Method string
	Path   string
	Query  string
}

type object struct {
	kind     string
	parent   string
	props    map[string]any
	statuses []string
}

// Server is a fake HMC.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	version   string
	objects   map[string]*object
	order     []string
	sessions  map[string]bool
	forbidden map[string]bool
	journal   []Request
	nextID    int
}

// New starts a fake HMC reporting the given HMC version. Callers must Close it.
func New(hmcVersion string) *Server {
	s := &Server{
		version:   hmcVersion,
		objects:   map[string]*object{},
		sessions:  map[string]bool{},
		forbidden: map[string]bool{},
	}
	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.serve))
	return s
}

// Options returns client options that connect to the fake with the default
// credentials.
func (s *Server) Options() hmc.Options {
	u, _ := url.Parse(s.URL)
	return hmc.Options{
		Host:               u.Host,
		Userid:             Userid,
		Password:           Password,
		Verify:             false,
		Timeout:            5 * time.Second,
		RateLimitRPS:       1000,
		StatusTimeout:      time.Second,
		StatusPollInterval: 10 * time.Millisecond,
	}
}

// NewSession registers a session id, as if it had been created earlier.
func (s *Server) NewSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.sessions[id] = true
	return id
}

// ActiveSessions returns the number of sessions that have not been logged off.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// AddCPC adds a CPC in DPM mode and returns its URI.
func (s *Server) AddCPC(name string, props map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := fmt.Sprintf("/api/cpcs/%s", s.id())
	s.add(uri, "cpc", "", merge(map[string]any{
		"object-uri":  uri,
		"name":        name,
		"status":      "active",
		"dpm-enabled": true,
		"se-version":  "2.15.0",
	}, props))
	return uri
}

// AddPartition adds a partition to a CPC and returns its URI.
func (s *Server) AddPartition(cpcURI, name string, props map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := fmt.Sprintf("/api/partitions/%s", s.id())
	s.add(uri, "partition", cpcURI, merge(map[string]any{
		"object-uri":              uri,
		"name":                    name,
		"status":                  "active",
		"type":                    "linux",
		"has-unacceptable-status": false,
		"virtual-function-uris":   []any{},
	}, props))
	return uri
}

// AddAdapter adds an adapter to a CPC and returns its URI.
func (s *Server) AddAdapter(cpcURI, name string, props map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := fmt.Sprintf("/api/adapters/%s", s.id())
	s.add(uri, "adapter", cpcURI, merge(map[string]any{
		"object-uri":     uri,
		"name":           name,
		"type":           "zedc",
		"adapter-family": "accelerator",
		"status":         "active",
	}, props))
	return uri
}

// AddVirtualFunction adds a virtual function to a partition and returns its URI.
func (s *Server) AddVirtualFunction(partitionURI, name string, props map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createVirtualFunction(partitionURI, merge(map[string]any{"name": name}, props))
}

// SetStatuses makes consecutive retrievals of a partition report the given
// statuses. The last one sticks.
func (s *Server) SetStatuses(uri string, statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[uri].statuses = statuses
}

// Forbid makes listings below uri fail with HTTP 403.
func (s *Server) Forbid(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forbidden[uri] = true
}

// Properties returns a copy of the properties of an object, nil if it does
// not exist.
func (s *Server) Properties(uri string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[uri]
	if !ok {
		return nil
	}
	return merge(o.props, nil)
}

// Requests returns the request journal.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.journal...)
}

// Count returns how many journal entries have the method and a path matching
// the regular expression.
func (s *Server) Count(method, pathPattern string) int {
	re := regexp.MustCompile(pathPattern)
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && re.MatchString(r.Path) {
			n++
		}
	}
	return n
}

// ResetJournal clears the request journal.
func (s *Server) ResetJournal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = nil
}

func (s *Server) id() string {
	s.nextID++
	return fmt.Sprintf("%08d-%s", s.nextID, uuid.NewString()[:8])
}

func (s *Server) add(uri, kind, parent string, props map[string]any) {
	s.objects[uri] = &object{kind: kind, parent: parent, props: props}
	s.order = append(s.order, uri)
}

func (s *Server) children(kind, parent string) []*object {
	var out []*object
	for _, uri := range s.order {
		o, ok := s.objects[uri]
		if ok && o.kind == kind && o.parent == parent {
			out = append(out, o)
		}
	}
	return out
}

func (s *Server) createVirtualFunction(partitionURI string, props map[string]any) string {
	p := s.objects[partitionURI]
	id := s.id()
	uri := partitionURI + "/virtual-functions/" + id
	vf := merge(map[string]any{
		"element-uri":   uri,
		"element-id":    id,
		"parent":        partitionURI,
		"class":         "virtual-function",
		"description":   "",
		"device-number": fmt.Sprintf("%04x", s.nextID),
	}, props)
	// Device numbers are normalized to lower case, like server side defaults.
	if dn, ok := vf["device-number"].(string); ok {
		vf["device-number"] = strings.ToLower(dn)
	}
	s.add(uri, "virtual-function", partitionURI, vf)
	uris, _ := p.props["virtual-function-uris"].([]any)
	p.props["virtual-function-uris"] = append(uris, uri)
	return uri
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = append(s.journal, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/api/version":
		writeJSON(w, http.StatusOK, map[string]any{
			"api-major-version": 4,
			"api-minor-version": 1,
			"hmc-version":       s.version,
			"hmc-name":          "FAKEHMC",
		})
		return
	case r.Method == http.MethodPost && path == "/api/sessions":
		s.logon(w, r)
		return
	}

	session := r.Header.Get("X-API-Session")
	if !s.sessions[session] {
		writeError(w, http.StatusForbidden, 5, "invalid or missing API session")
		return
	}

	switch {
	case r.Method == http.MethodDelete && path == "/api/sessions/this-session":
		delete(s.sessions, session)
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && path == "/api/cpcs":
		s.writeList(w, r, "cpcs", s.children("cpc", ""))
	case r.Method == http.MethodGet && path == "/api/console/operations/list-permitted-partitions":
		s.listPermitted(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/partitions"):
		s.listChildren(w, r, strings.TrimSuffix(path, "/partitions"), "partition", "partitions")
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/adapters"):
		s.listChildren(w, r, strings.TrimSuffix(path, "/adapters"), "adapter", "adapters")
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/virtual-functions"):
		s.create(w, r, strings.TrimSuffix(path, "/virtual-functions"))
	case r.Method == http.MethodGet:
		s.get(w, path)
	case r.Method == http.MethodPost:
		s.update(w, r, path)
	case r.Method == http.MethodDelete:
		s.delete(w, path)
	default:
		writeError(w, http.StatusBadRequest, 1, "unsupported request")
	}
}

func (s *Server) logon(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Userid   string `json:"userid"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, 7, err.Error())
		return
	}
	if body.Userid != Userid || body.Password != Password {
		writeError(w, http.StatusForbidden, 0, "logon failed")
		return
	}
	id := uuid.NewString()
	s.sessions[id] = true
	writeJSON(w, http.StatusOK, map[string]any{"api-session": id, "api-major-version": 4})
}

func (s *Server) get(w http.ResponseWriter, uri string) {
	o, ok := s.objects[uri]
	if !ok {
		writeError(w, http.StatusNotFound, 1, "object not found: "+uri)
		return
	}
	if len(o.statuses) > 0 {
		o.props["status"] = o.statuses[0]
		if len(o.statuses) > 1 {
			o.statuses = o.statuses[1:]
		}
	}
	writeJSON(w, http.StatusOK, o.props)
}

func (s *Server) listChildren(w http.ResponseWriter, r *http.Request, parent, kind, key string) {
	if _, ok := s.objects[parent]; !ok {
		writeError(w, http.StatusNotFound, 1, "object not found: "+parent)
		return
	}
	if s.forbidden[parent] {
		writeError(w, http.StatusForbidden, 1, "not authorized to list "+key)
		return
	}
	s.writeList(w, r, key, s.children(kind, parent))
}

func (s *Server) writeList(w http.ResponseWriter, r *http.Request, key string, objs []*object) {
	var filter *regexp.Regexp
	if name := r.URL.Query().Get("name"); name != "" {
		re, err := regexp.Compile(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, 14, err.Error())
			return
		}
		filter = re
	}

	items := []map[string]any{}
	for _, o := range objs {
		name, _ := o.props["name"].(string)
		if filter != nil && !filter.MatchString(name) {
			continue
		}
		item := map[string]any{"name": name, "object-uri": o.props["object-uri"]}
		for _, k := range []string{"status", "type"} {
			if v, ok := o.props[k]; ok {
				item[k] = v
			}
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{key: items})
}

func (s *Server) listPermitted(w http.ResponseWriter, r *http.Request) {
	cpcName := r.URL.Query().Get("cpc-name")
	items := []map[string]any{}
	for _, cpc := range s.children("cpc", "") {
		if cpcName != "" && cpc.props["name"] != cpcName {
			continue
		}
		if dpm, _ := cpc.props["dpm-enabled"].(bool); !dpm {
			continue
		}
		cpcURI := cpc.props["object-uri"].(string)
		for _, p := range s.children("partition", cpcURI) {
			item := map[string]any{
				"name":                    p.props["name"],
				"object-uri":              p.props["object-uri"],
				"type":                    p.props["type"],
				"status":                  p.props["status"],
				"has-unacceptable-status": p.props["has-unacceptable-status"],
				"cpc-name":                cpc.props["name"],
				"cpc-object-uri":          cpcURI,
			}
			// se-version is part of the result since HMC 2.14.1.
			if s.version != "2.14.0" {
				item["se-version"] = cpc.props["se-version"]
			}
			items = append(items, item)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"partitions": items})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, partitionURI string) {
	p, ok := s.objects[partitionURI]
	if !ok || p.kind != "partition" {
		writeError(w, http.StatusNotFound, 1, "object not found: "+partitionURI)
		return
	}
	var props map[string]any
	if err := json.NewDecoder(r.Body).Decode(&props); err != nil {
		writeError(w, http.StatusBadRequest, 7, err.Error())
		return
	}
	if name, _ := props["name"].(string); name == "" {
		writeError(w, http.StatusBadRequest, 5, "name is required")
		return
	}
	if err := s.checkAdapter(props); err != nil {
		writeError(w, http.StatusBadRequest, 8, err.Error())
		return
	}
	uri := s.createVirtualFunction(partitionURI, props)
	writeJSON(w, http.StatusCreated, map[string]any{"element-uri": uri})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, uri string) {
	o, ok := s.objects[uri]
	if !ok {
		writeError(w, http.StatusNotFound, 1, "object not found: "+uri)
		return
	}
	var props map[string]any
	if err := json.NewDecoder(r.Body).Decode(&props); err != nil {
		writeError(w, http.StatusBadRequest, 7, err.Error())
		return
	}
	if err := s.checkAdapter(props); err != nil {
		writeError(w, http.StatusBadRequest, 8, err.Error())
		return
	}
	for k, v := range props {
		if k == "device-number" {
			if dn, ok := v.(string); ok {
				v = strings.ToLower(dn)
			}
		}
		o.props[k] = v
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) delete(w http.ResponseWriter, uri string) {
	o, ok := s.objects[uri]
	if !ok {
		writeError(w, http.StatusNotFound, 1, "object not found: "+uri)
		return
	}
	delete(s.objects, uri)
	if p, ok := s.objects[o.parent]; ok && o.kind == "virtual-function" {
		uris, _ := p.props["virtual-function-uris"].([]any)
		kept := []any{}
		for _, u := range uris {
			if u != uri {
				kept = append(kept, u)
			}
		}
		p.props["virtual-function-uris"] = kept
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) checkAdapter(props map[string]any) error {
	uri, ok := props["adapter-uri"]
	if !ok {
		return nil
	}
	key, _ := uri.(string)
	if o, ok := s.objects[key]; !ok || o.kind != "adapter" {
		return fmt.Errorf("adapter-uri %v does not designate an adapter", uri)
	}
	return nil
}

func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status, reason int, message string) {
	writeJSON(w, status, map[string]any{
		"http-status": status,
		"reason":      reason,
		"message":     message,
	})
}
