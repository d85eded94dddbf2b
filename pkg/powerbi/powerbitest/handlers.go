package powerbitest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

var idFilter = regexp.MustCompile(`contains\(id,'([^']*)'\)`)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /login/{tenant}/oauth2/v2.0/token", s.handleToken)

	api := http.NewServeMux()
	api.HandleFunc("GET /groups", s.handleListGroups)
	api.HandleFunc("POST /groups", s.handleCreateGroup)
	api.HandleFunc("GET /groups/{gid}/users", s.handleListUsers)
	api.HandleFunc("POST /groups/{gid}/users", s.handleGrantUser)
	api.HandleFunc("PUT /groups/{gid}/users", s.handleGrantUser)

	api.HandleFunc("GET /groups/{gid}/datasets", s.handleListDatasets)
	api.HandleFunc("GET /groups/{gid}/datasets/{did}", s.handleGetDataset)
	api.HandleFunc("DELETE /groups/{gid}/datasets/{did}", s.handleDeleteDataset)
	api.HandleFunc("GET /groups/{gid}/datasets/{did}/refreshes", s.handleRefreshHistory)
	api.HandleFunc("POST /groups/{gid}/datasets/{did}/refreshes", s.handleTriggerRefresh)
	api.HandleFunc("GET /groups/{gid}/datasets/{did}/parameters", s.handleListParameters)
	api.HandleFunc("POST /groups/{gid}/datasets/{did}/Default.UpdateParameters", s.handleUpdateParameters)
	api.HandleFunc("POST /groups/{gid}/datasets/{did}/Default.TakeOver", s.handleTakeOver)
	api.HandleFunc("GET /groups/{gid}/datasets/{did}/Default.GetBoundGatewayDatasources", s.handleListDatasources)
	api.HandleFunc("PATCH /gateways/{gwid}/datasources/{dsid}", s.handleUpdateCredentials)

	api.HandleFunc("GET /groups/{gid}/reports", s.handleListReports)
	api.HandleFunc("GET /groups/{gid}/reports/{rid}", s.handleGetReport)
	api.HandleFunc("DELETE /groups/{gid}/reports/{rid}", s.handleDeleteReport)
	api.HandleFunc("POST /groups/{gid}/reports/{rid}/Rebind", s.handleRebindReport)
	api.HandleFunc("POST /groups/{gid}/reports/{rid}/Clone", s.handleCloneReport)
	api.HandleFunc("GET /groups/{gid}/reports/{rid}/Export", s.handleExportReport)

	api.HandleFunc("POST /groups/{gid}/imports", s.handleImport)
	api.HandleFunc("GET /groups/{gid}/imports/{iid}", s.handleGetImport)

	mux.Handle(APIPrefix+"/", http.StripPrefix(APIPrefix, s.authenticated(api)))
	return mux
}

func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeError(w, http.StatusUnauthorized, "TokenExpired")
			return
		}

		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   body,
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	s.mu.Lock()
	s.tokens++
	n := s.tokens
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": fmt.Sprintf("fake-token-%d", n),
		"token_type":   "Bearer",
		"expires_in":   3599,
	})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	if m := idFilter.FindStringSubmatch(r.URL.Query().Get("$filter")); m != nil {
		id = m[1]
	}

	out := []powerbi.Workspace{}
	for _, g := range s.groups {
		if id == "" || strings.Contains(g.ID, id) {
			out = append(out, g.Workspace)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"value": out})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.addWorkspaceLocked(body.Name).Workspace)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.group(r.PathValue("gid"))
	if g == nil {
		writeError(w, http.StatusNotFound, "GroupNotFound")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"value": append([]powerbi.WorkspaceUser{}, g.users...)})
}

func (s *Server) handleGrantUser(w http.ResponseWriter, r *http.Request) {
	var user powerbi.WorkspaceUser
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.group(r.PathValue("gid"))
	if g == nil {
		writeError(w, http.StatusNotFound, "GroupNotFound")
		return
	}

	for i, u := range g.users {
		if u.Identifier == user.Identifier {
			if r.Method == http.MethodPost {
				writeError(w, http.StatusBadRequest, "AddingAlreadyExistsGroupUserNotSupported")
				return
			}
			g.users[i] = user
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	if r.Method == http.MethodPut {
		writeError(w, http.StatusBadRequest, "UserNotFound")
		return
	}
	g.users = append(g.users, user)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.group(r.PathValue("gid"))
	if g == nil {
		writeError(w, http.StatusNotFound, "GroupNotFound")
		return
	}

	out := []powerbi.Dataset{}
	for _, d := range g.datasets {
		out = append(out, d.Dataset)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"value": out})
}

// lookupDataset must be called with s.mu held.
func (s *Server) lookupDataset(w http.ResponseWriter, r *http.Request) (*group, *dataset) {
	g := s.group(r.PathValue("gid"))
	if g == nil {
		writeError(w, http.StatusNotFound, "GroupNotFound")
		return nil, nil
	}
	ds := g.dataset(r.PathValue("did"))
	if ds == nil {
		writeError(w, http.StatusNotFound, "ItemNotFound")
		return nil, nil
	}
	return g, ds
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ds := s.lookupDataset(w, r); ds != nil {
		writeJSON(w, http.StatusOK, ds.Dataset)
	}
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ds := s.lookupDataset(w, r)
	if ds == nil {
		return
	}
	for i, d := range g.datasets {
		if d == ds {
			g.datasets = append(g.datasets[:i], g.datasets[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRefreshHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ds := s.lookupDataset(w, r)
	if ds == nil {
		return
	}

	out := []powerbi.Refresh{}
	if len(ds.refreshes) > 0 {
		out = append(out, ds.refreshes[0])

		// Advance the running refresh to its next scripted status.
		if len(ds.pending) > 0 {
			next := ds.pending[0]
			ds.pending = ds.pending[1:]
			ds.refreshes[0].Status = next
			if next != powerbi.RefreshStatusUnknown {
				ds.refreshes[0].EndTime = "2024-01-01T10:05:00Z"
			}
			if next == powerbi.RefreshStatusFailed {
				ds.refreshes[0].ServiceExceptionJSON = s.FailRefresh[ds.Name]
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"value": out})
}

func (s *Server) handleTriggerRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ds := s.lookupDataset(w, r)
	if ds == nil {
		return
	}

	script := append([]string(nil), s.RefreshScript...)
	if len(script) == 0 {
		script = []string{powerbi.RefreshStatusCompleted}
	}
	if _, ok := s.FailRefresh[ds.Name]; ok {
		script[len(script)-1] = powerbi.RefreshStatusFailed
	}

	entry := powerbi.Refresh{
		RequestID:   uuid.NewString(),
		RefreshType: "ViaApi",
		StartTime:   "2024-01-01T10:00:00Z",
		Status:      script[0],
	}
	if entry.Status == powerbi.RefreshStatusFailed {
		entry.ServiceExceptionJSON = s.FailRefresh[ds.Name]
	}
	ds.refreshes = append([]powerbi.Refresh{entry}, ds.refreshes...)
	ds.pending = script[1:]

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListParameters(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ds := s.lookupDataset(w, r); ds != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"value": append([]powerbi.Parameter{}, ds.params...)})
	}
}

func (s *Server) handleUpdateParameters(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UpdateDetails []powerbi.ParameterUpdate `json:"updateDetails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ds := s.lookupDataset(w, r)
	if ds == nil {
		return
	}

	for _, u := range body.UpdateDetails {
		found := false
		for i := range ds.params {
			if ds.params[i].Name == u.Name {
				ds.params[i].CurrentValue = u.NewValue
				found = true
			}
		}
		if !found {
			writeError(w, http.StatusBadRequest, "InvalidParameterName")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleTakeOver(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ds := s.lookupDataset(w, r); ds != nil {
		ds.takenOver++
		ds.ConfiguredBy = "service-principal"
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleListDatasources(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ds := s.lookupDataset(w, r); ds != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"value": append([]powerbi.Datasource{}, ds.datasources...)})
	}
}

func (s *Server) handleUpdateCredentials(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CredentialDetails powerbi.CredentialDetails `json:"credentialDetails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials = append(s.credentials, CredentialUpdate{
		GatewayID:    r.PathValue("gwid"),
		DatasourceID: r.PathValue("dsid"),
		Details:      body.CredentialDetails,
	})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.group(r.PathValue("gid"))
	if g == nil {
		writeError(w, http.StatusNotFound, "GroupNotFound")
		return
	}

	out := []powerbi.Report{}
	for _, rep := range g.reports {
		out = append(out, rep.Report)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"value": out})
}

// lookupReport must be called with s.mu held.
func (s *Server) lookupReport(w http.ResponseWriter, r *http.Request) (*group, *report) {
	g := s.group(r.PathValue("gid"))
	if g == nil {
		writeError(w, http.StatusNotFound, "GroupNotFound")
		return nil, nil
	}
	rep := g.report(r.PathValue("rid"))
	if rep == nil {
		writeError(w, http.StatusNotFound, "ItemNotFound")
		return nil, nil
	}
	return g, rep
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, rep := s.lookupReport(w, r); rep != nil {
		writeJSON(w, http.StatusOK, rep.Report)
	}
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, rep := s.lookupReport(w, r)
	if rep == nil {
		return
	}
	for i, x := range g.reports {
		if x == rep {
			g.reports = append(g.reports[:i], g.reports[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRebindReport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DatasetID string `json:"datasetId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DatasetID == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, rep := s.lookupReport(w, r)
	if rep == nil {
		return
	}

	known := false
	for _, g := range s.groups {
		if g.dataset(body.DatasetID) != nil {
			known = true
		}
	}
	if !known {
		writeError(w, http.StatusNotFound, "DatasetNotFound")
		return
	}

	rep.DatasetID = body.DatasetID
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCloneReport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, rep := s.lookupReport(w, r)
	if rep == nil {
		return
	}

	clone := &report{Report: rep.Report, content: rep.content}
	clone.ID = uuid.NewString()
	clone.Name = body.Name
	g.reports = append(g.reports, clone)

	writeJSON(w, http.StatusOK, clone.Report)
}

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, rep := s.lookupReport(w, r); rep != nil {
		w.Header().Set("Content-Type", "application/zip")
		w.Write(rep.content)
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	displayName := q.Get("datasetDisplayName")
	if displayName == "" {
		writeError(w, http.StatusBadRequest, "MissingDisplayName")
		return
	}
	name := strings.TrimSuffix(displayName, ".pbix")
	overwrite := q.Get("nameConflict") == powerbi.NameConflictCreateOrOverwrite
	skipReport := q.Get("skipReport") == "true"

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "MissingFile")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "MissingFile")
		return
	}

	entries, err := readEntries(content)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPbixFile")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.group(r.PathValue("gid"))
	if g == nil {
		writeError(w, http.StatusNotFound, "GroupNotFound")
		return
	}

	imp := &pendingImport{polls: s.ImportPolls}
	if cause, ok := s.FailImport[name]; ok {
		imp.failure = &cause
	} else {
		_, hasModel := entries["DataModel"]
		reportDataset := ""

		if hasModel {
			ds := g.upsertDataset(name, overwrite)
			imp.datasets = append(imp.datasets, ds.Dataset)
			reportDataset = ds.ID
		} else if conn, ok := entries["Connections"]; ok {
			reportDataset = remoteDatasetID(conn)
		}

		if !skipReport && (hasModel || reportDataset != "") {
			rep := g.upsertReport(name, reportDataset, content, overwrite)
			imp.reports = append(imp.reports, rep.Report)
		}
	}

	id := uuid.NewString()
	g.imports[id] = imp
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.group(r.PathValue("gid"))
	if g == nil {
		writeError(w, http.StatusNotFound, "GroupNotFound")
		return
	}
	id := r.PathValue("iid")
	imp, ok := g.imports[id]
	if !ok {
		writeError(w, http.StatusNotFound, "ImportNotFound")
		return
	}

	out := powerbi.Import{ID: id, ImportState: powerbi.ImportStateSucceeded}
	switch {
	case imp.polls > 0:
		imp.polls--
		out.ImportState = powerbi.ImportStatePublishing
	case imp.failure != nil:
		out.ImportState = powerbi.ImportStateFailed
		out.Error = imp.failure
	default:
		out.Datasets = imp.datasets
		out.Reports = imp.reports
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *group) upsertDataset(name string, overwrite bool) *dataset {
	if overwrite {
		for _, d := range g.datasets {
			if d.Name == name {
				d.refreshes = nil
				d.pending = nil
				return d
			}
		}
	}
	ds := &dataset{Dataset: powerbi.Dataset{ID: uuid.NewString(), Name: name, IsRefreshable: true}}
	g.datasets = append(g.datasets, ds)
	return ds
}

func (g *group) upsertReport(name, datasetID string, content []byte, overwrite bool) *report {
	if overwrite {
		for _, r := range g.reports {
			if r.Name == name {
				r.content = content
				return r
			}
		}
	}
	rep := &report{
		Report: powerbi.Report{
			ID:        uuid.NewString(),
			Name:      name,
			DatasetID: datasetID,
		},
		content: content,
	}
	rep.WebURL = "https://app.powerbi.com/reports/" + rep.ID
	g.reports = append(g.reports, rep)
	return rep
}

func readEntries(content []byte) (map[string]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}

	entries := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		entries[f.Name] = string(data)
	}
	return entries, nil
}

func remoteDatasetID(connections string) string {
	var doc struct {
		RemoteArtifacts []struct {
			DatasetID string `json:"DatasetId"`
		} `json:"RemoteArtifacts"`
	}
	if err := json.Unmarshal([]byte(connections), &doc); err != nil || len(doc.RemoteArtifacts) == 0 {
		return ""
	}
	return doc.RemoteArtifacts[0].DatasetID
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]interface{}{"error": map[string]string{"code": code}})
}
