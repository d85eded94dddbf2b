// Package powerbitest provides an in-memory fake of the Power BI REST API and
// the Azure AD token endpoint for tests.
//
// The fake keeps workspaces, datasets, reports, datasources and refresh
// histories in memory, records every request, and can be scripted to make
// refreshes and imports fail.
package powerbitest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

// APIPrefix is the path of the REST API root on the fake server.
const APIPrefix = "/v1.0/myorg"

// Request is a recorded API call.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// CredentialUpdate is a recorded datasource credential PATCH.
type CredentialUpdate struct {
	GatewayID    string
	DatasourceID string
	Details      powerbi.CredentialDetails
}

type dataset struct {
	powerbi.Dataset
	refreshes   []powerbi.Refresh
	pending     []string
	params      []powerbi.Parameter
	datasources []powerbi.Datasource
	takenOver   int
}

type report struct {
	powerbi.Report
	content []byte
}

type pendingImport struct {
	polls    int
	failure  *powerbi.ImportErrorCause
	datasets []powerbi.Dataset
	reports  []powerbi.Report
}

type group struct {
	powerbi.Workspace
	users    []powerbi.WorkspaceUser
	datasets []*dataset
	reports  []*report
	imports  map[string]*pendingImport
}

// Server is a fake Power BI service.
type Server struct {
	*httptest.Server

	// RefreshScript is the sequence of statuses a triggered refresh reports
	// on successive history reads. The last status sticks.
	// Default: Unknown, Completed.
	RefreshScript []string

	// FailRefresh maps dataset names to the serviceExceptionJson of a
	// refresh that ends in Failed.
	FailRefresh map[string]string

	// ImportPolls is how many times an import reports Publishing before it
	// finishes. Default: 1.
	ImportPolls int

	// FailImport maps display names (without .pbix) to the error reported
	// by their import.
	FailImport map[string]powerbi.ImportErrorCause

	mu          sync.Mutex
	groups      []*group
	requests    []Request
	credentials []CredentialUpdate
	tokens      int
}

// NewServer starts a fake service that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		RefreshScript: []string{powerbi.RefreshStatusUnknown, powerbi.RefreshStatusCompleted},
		FailRefresh:   map[string]string{},
		ImportPolls:   1,
		FailImport:    map[string]powerbi.ImportErrorCause{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)

	return s
}

// APIURL is the REST API root to configure clients with.
func (s *Server) APIURL() string {
	return s.URL + APIPrefix
}

// LoginURL is the Azure AD authority to configure token sources with.
func (s *Server) LoginURL() string {
	return s.URL + "/login"
}

// TokenRequests returns the number of tokens issued.
func (s *Server) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// Requests returns every recorded API call.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many API calls used the method and had a path ending in
// suffix.
func (s *Server) Count(method, suffix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.requests {
		if r.Method == method && strings.HasSuffix(r.Path, suffix) {
			n++
		}
	}
	return n
}

// CredentialUpdates returns every datasource credential update received.
func (s *Server) CredentialUpdates() []CredentialUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CredentialUpdate(nil), s.credentials...)
}

// AddWorkspace creates a workspace and returns it.
func (s *Server) AddWorkspace(name string) powerbi.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addWorkspaceLocked(name).Workspace
}

func (s *Server) addWorkspaceLocked(name string) *group {
	g := &group{
		Workspace: powerbi.Workspace{ID: uuid.NewString(), Name: name},
		imports:   map[string]*pendingImport{},
	}
	s.groups = append(s.groups, g)
	return g
}

// AddWorkspaceUser grants a user access to a workspace.
func (s *Server) AddWorkspaceUser(groupID string, user powerbi.WorkspaceUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.mustGroup(groupID)
	g.users = append(g.users, user)
}

// WorkspaceUsers returns the users of a workspace.
func (s *Server) WorkspaceUsers(groupID string) []powerbi.WorkspaceUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]powerbi.WorkspaceUser(nil), s.mustGroup(groupID).users...)
}

// AddDataset creates a dataset. An empty ID is generated.
func (s *Server) AddDataset(groupID string, ds powerbi.Dataset) powerbi.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	g := s.mustGroup(groupID)
	g.datasets = append(g.datasets, &dataset{Dataset: ds})
	return ds
}

// SetRefreshHistory replaces a dataset's refresh history; the first entry is
// the most recent.
func (s *Server) SetRefreshHistory(groupID, datasetID string, history ...powerbi.Refresh) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds := s.mustDataset(groupID, datasetID)
	ds.refreshes = append([]powerbi.Refresh(nil), history...)
	ds.pending = nil
}

// SetParameters declares dataset parameters.
func (s *Server) SetParameters(groupID, datasetID string, names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds := s.mustDataset(groupID, datasetID)
	ds.params = nil
	for _, n := range names {
		ds.params = append(ds.params, powerbi.Parameter{Name: n, Type: "Text"})
	}
}

// Parameters returns the current dataset parameters.
func (s *Server) Parameters(groupID, datasetID string) []powerbi.Parameter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]powerbi.Parameter(nil), s.mustDataset(groupID, datasetID).params...)
}

// AddDatasource binds a gateway datasource to a dataset. Empty IDs are
// generated.
func (s *Server) AddDatasource(groupID, datasetID string, src powerbi.Datasource) powerbi.Datasource {
	s.mu.Lock()
	defer s.mu.Unlock()

	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.GatewayID == "" {
		src.GatewayID = uuid.NewString()
	}
	ds := s.mustDataset(groupID, datasetID)
	ds.datasources = append(ds.datasources, src)
	return src
}

// TakeOvers returns how often ownership of a dataset was claimed.
func (s *Server) TakeOvers(groupID, datasetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mustDataset(groupID, datasetID).takenOver
}

// AddReport creates a report with the given PBIX content. An empty ID is
// generated.
func (s *Server) AddReport(groupID string, r powerbi.Report, content []byte) powerbi.Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	g := s.mustGroup(groupID)
	g.reports = append(g.reports, &report{Report: r, content: content})
	return r
}

// Datasets returns the datasets of a workspace.
func (s *Server) Datasets(groupID string) []powerbi.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []powerbi.Dataset
	for _, d := range s.mustGroup(groupID).datasets {
		out = append(out, d.Dataset)
	}
	return out
}

// Reports returns the reports of a workspace.
func (s *Server) Reports(groupID string) []powerbi.Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []powerbi.Report
	for _, r := range s.mustGroup(groupID).reports {
		out = append(out, r.Report)
	}
	return out
}

// ReportContent returns the PBIX bytes a report was published with.
func (s *Server) ReportContent(groupID, reportID string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.mustGroup(groupID).reports {
		if r.ID == reportID {
			return r.content
		}
	}
	return nil
}

func (s *Server) mustGroup(id string) *group {
	g := s.group(id)
	if g == nil {
		panic(fmt.Sprintf("powerbitest: no workspace %s", id))
	}
	return g
}

func (s *Server) mustDataset(groupID, datasetID string) *dataset {
	ds := s.mustGroup(groupID).dataset(datasetID)
	if ds == nil {
		panic(fmt.Sprintf("powerbitest: no dataset %s", datasetID))
	}
	return ds
}

func (s *Server) group(id string) *group {
	for _, g := range s.groups {
		if g.ID == id {
			return g
		}
	}
	return nil
}

func (g *group) dataset(id string) *dataset {
	for _, d := range g.datasets {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (g *group) report(id string) *report {
	for _, r := range g.reports {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// PBIX builds a minimal PBIX archive from entry names and contents.
func PBIX(t testing.TB, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range sortedKeys(entries) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("powerbitest: create %s: %v", name, err)
		}
		if _, err := io.WriteString(w, entries[name]); err != nil {
			t.Fatalf("powerbitest: write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("powerbitest: close archive: %v", err)
	}
	return buf.Bytes()
}

// LiveConnection returns a Connections entry bound to a remote dataset, in
// the shape Power BI Desktop writes it.
func LiveConnection(datasetID string) string {
	doc := map[string]interface{}{
		"Version": 1,
		"Connections": []map[string]string{{
			"Name":             "EntityDataSource",
			"ConnectionString": "Data Source=pbiazure://api.powerbi.com;Initial Catalog=" + datasetID,
			"ConnectionType":   "pbiServiceLive",
		}},
		"RemoteArtifacts": []map[string]string{{"DatasetId": datasetID}},
	}
	data, _ := json.Marshal(doc)
	return string(data)
}
