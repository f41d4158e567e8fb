package testserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

type accountKey struct{}

func (ts *TestServer) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/test/datetime", ts.handleDatetime).Methods(http.MethodGet)

	r.HandleFunc("/auth/login", ts.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/register", ts.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/anonymous", ts.handleAnonymous).Methods(http.MethodPost)
	r.HandleFunc("/auth/validate-token", ts.handleValidateToken).Methods(http.MethodPost)

	api := r.NewRoute().Subrouter()
	api.Use(ts.requireBearer)

	api.HandleFunc("/users/me", ts.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/users/profile", ts.handleProfile).Methods(http.MethodPut)
	api.HandleFunc("/users/change-password", ts.handleChangePassword).Methods(http.MethodPost)

	api.HandleFunc("/projects", ts.handleListProjects).Methods(http.MethodGet)
	api.HandleFunc("/projects", ts.handleCreateProject).Methods(http.MethodPost)
	api.HandleFunc("/projects/bulk-delete", ts.handleBulkDeleteProjects).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}", ts.handleGetProject).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}", ts.handleUpdateProject).Methods(http.MethodPut)
	api.HandleFunc("/projects/{id}", ts.handleDeleteProject).Methods(http.MethodDelete)

	api.HandleFunc("/projects/{id}/gallery", ts.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/gallery/bulk-delete", ts.handleBulkDeleteImages).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/chat/mark-read", ts.handleMarkRead).Methods(http.MethodPost)
	for _, kind := range []string{"updates", "gallery", "chat"} {
		api.HandleFunc("/projects/{id}/"+kind, ts.handleListChildren(kind)).Methods(http.MethodGet)
		api.HandleFunc("/projects/{id}/"+kind+"/{childID}", ts.handleUpdateChild(kind)).Methods(http.MethodPut)
		api.HandleFunc("/projects/{id}/"+kind+"/{childID}", ts.handleDeleteChild(kind)).Methods(http.MethodDelete)
	}
	api.HandleFunc("/projects/{id}/updates", ts.handleCreateChild("updates")).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/chat", ts.handleCreateChild("chat")).Methods(http.MethodPost)

	return r
}

func (ts *TestServer) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		ts.mu.Lock()
		a := ts.tokens[token]
		ts.mu.Unlock()
		if token == "" || a == nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, a)))
	})
}

func accountFrom(r *http.Request) *account {
	a, _ := r.Context().Value(accountKey{}).(*account)
	return a
}

func (ts *TestServer) handleDatetime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"datetime": now()})
}

func (ts *TestServer) authResponse(a *account) map[string]any {
	return map[string]any{"access_token": a.token, "user_id": a.userID, "token_type": "Bearer"}
}

func (ts *TestServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, err := decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}
	username, _ := body["username"].(string)
	password, _ := body["password"].(string)

	ts.mu.Lock()
	a := ts.accounts[username]
	ts.mu.Unlock()
	if a == nil || a.password != password {
		writeError(w, http.StatusBadRequest, "Invalid username or password")
		return
	}
	writeJSON(w, http.StatusOK, ts.authResponse(a))
}

func (ts *TestServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Username, email, and password are required")
		return
	}
	username, _ := body["username"].(string)
	email, _ := body["email"].(string)
	password, _ := body["password"].(string)
	if username == "" || email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "Username, email, and password are required")
		return
	}

	ts.mu.Lock()
	if _, exists := ts.accounts[username]; exists {
		ts.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Username already exists")
		return
	}
	id := ts.nextID("u")
	a := &account{userID: id, username: username, email: email, password: password, token: "tok-" + id}
	ts.accounts[username] = a
	ts.tokens[a.token] = a
	ts.mu.Unlock()

	writeJSON(w, http.StatusOK, ts.authResponse(a))
}

func (ts *TestServer) handleAnonymous(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	id := ts.nextID("anon")
	a := &account{userID: id, username: "guest_" + id, token: "tok-" + id, isAnonymous: true}
	ts.tokens[a.token] = a
	ts.mu.Unlock()

	writeJSON(w, http.StatusOK, ts.authResponse(a))
}

func (ts *TestServer) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	body, err := decode(r)
	token, _ := body["token"].(string)
	if err != nil || token == "" {
		writeError(w, http.StatusBadRequest, "Token is required")
		return
	}
	ts.mu.Lock()
	_, ok := ts.tokens[token]
	ts.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

func userRecord(a *account) Record {
	return Record{
		"id":          a.userID,
		"username":    a.username,
		"email":       a.email,
		"isActive":    true,
		"isAnonymous": a.isAnonymous,
	}
}

func (ts *TestServer) handleMe(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	rec := userRecord(accountFrom(r))
	ts.mu.Unlock()
	writeJSON(w, http.StatusOK, rec)
}

func (ts *TestServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	body, err := decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid profile")
		return
	}
	a := accountFrom(r)
	ts.mu.Lock()
	if email, ok := body["email"].(string); ok && email != "" {
		a.email = email
	}
	rec := userRecord(a)
	ts.mu.Unlock()
	writeJSON(w, http.StatusOK, rec)
}

func (ts *TestServer) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	body, err := decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	current, _ := body["currentPassword"].(string)
	next, _ := body["newPassword"].(string)
	a := accountFrom(r)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if a.password != current {
		writeError(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}
	a.password = next
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

func (ts *TestServer) findProject(id string) (int, Record) {
	for i, p := range ts.projects {
		if p["id"] == id {
			return i, p
		}
	}
	return -1, nil
}

func (ts *TestServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	ts.mu.Lock()
	out := []Record{}
	for _, p := range ts.projects {
		if status != "" && p["status"] != status {
			continue
		}
		out = append(out, p)
	}
	ts.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (ts *TestServer) handleGetProject(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	_, p := ts.findProject(mux.Vars(r)["id"])
	ts.mu.Unlock()
	if p == nil {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (ts *TestServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	body, err := decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid project")
		return
	}
	if name, _ := body["name"].(string); name == "" {
		writeError(w, http.StatusBadRequest, "Project name is required")
		return
	}
	ts.mu.Lock()
	body["id"] = ts.nextID("p")
	body["ownerId"] = accountFrom(r).userID
	body["version"] = "1"
	ts.projects = append(ts.projects, body)
	ts.mu.Unlock()
	writeJSON(w, http.StatusCreated, body)
}

func (ts *TestServer) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	body, err := decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid project")
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, p := ts.findProject(mux.Vars(r)["id"])
	if p == nil {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}
	if match := r.Header.Get("If-Match"); match != "" && match != p["version"] {
		writeError(w, http.StatusPreconditionFailed, "Project was modified by someone else")
		return
	}
	for k, v := range body {
		if k != "id" {
			p[k] = v
		}
	}
	if v, ok := p["version"].(string); ok {
		p["version"] = v + "+"
	}
	writeJSON(w, http.StatusOK, p)
}

func (ts *TestServer) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	i, _ := ts.findProject(mux.Vars(r)["id"])
	if i < 0 {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}
	ts.projects = append(ts.projects[:i], ts.projects[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (ts *TestServer) handleBulkDeleteProjects(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectIDs []string `json:"projectIds"`
	}
	if err := decodeInto(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "projectIds is required")
		return
	}
	ts.mu.Lock()
	deleted := 0
	for _, id := range body.ProjectIDs {
		if i, _ := ts.findProject(id); i >= 0 {
			ts.projects = append(ts.projects[:i], ts.projects[i+1:]...)
			deleted++
		}
	}
	ts.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (ts *TestServer) handleListChildren(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		ts.mu.Lock()
		out := append([]Record{}, ts.children[kind+"/"+id]...)
		ts.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	}
}

func (ts *TestServer) handleCreateChild(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := decode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+kind+" payload")
			return
		}
		id := mux.Vars(r)["id"]
		ts.mu.Lock()
		body["id"] = ts.nextID(kind[:1])
		body["projectId"] = id
		if kind == "chat" {
			body["userId"] = accountFrom(r).userID
		}
		ts.children[kind+"/"+id] = append(ts.children[kind+"/"+id], body)
		ts.mu.Unlock()
		writeJSON(w, http.StatusCreated, body)
	}
}

func (ts *TestServer) findChild(key, childID string) (int, Record) {
	for i, c := range ts.children[key] {
		if c["id"] == childID {
			return i, c
		}
	}
	return -1, nil
}

func (ts *TestServer) handleUpdateChild(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := decode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+kind+" payload")
			return
		}
		vars := mux.Vars(r)
		ts.mu.Lock()
		defer ts.mu.Unlock()
		_, c := ts.findChild(kind+"/"+vars["id"], vars["childID"])
		if c == nil {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		for k, v := range body {
			if k != "id" && k != "projectId" {
				c[k] = v
			}
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func (ts *TestServer) handleDeleteChild(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		key := kind + "/" + vars["id"]
		ts.mu.Lock()
		defer ts.mu.Unlock()
		i, _ := ts.findChild(key, vars["childID"])
		if i < 0 {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		ts.children[key] = append(ts.children[key][:i], ts.children[key][i+1:]...)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (ts *TestServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "File is required")
		return
	}
	file.Close()

	id := mux.Vars(r)["id"]
	ts.mu.Lock()
	imageID := ts.nextID("g")
	rec := Record{
		"id":        imageID,
		"projectId": id,
		"imageUrl":  "/uploads/" + imageID + "-" + header.Filename,
		"title":     r.FormValue("caption"),
		"room":      r.FormValue("room"),
		"stage":     r.FormValue("stage"),
		"createdAt": now(),
	}
	ts.children["gallery/"+id] = append(ts.children["gallery/"+id], rec)
	ts.mu.Unlock()
	writeJSON(w, http.StatusCreated, rec)
}

func (ts *TestServer) handleBulkDeleteImages(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ImageIDs []string `json:"imageIds"`
	}
	if err := decodeInto(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "imageIds is required")
		return
	}
	key := "gallery/" + mux.Vars(r)["id"]
	ts.mu.Lock()
	deleted := 0
	for _, id := range body.ImageIDs {
		if i, _ := ts.findChild(key, id); i >= 0 {
			ts.children[key] = append(ts.children[key][:i], ts.children[key][i+1:]...)
			deleted++
		}
	}
	ts.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (ts *TestServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := decodeInto(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "messageIds is required")
		return
	}
	id := mux.Vars(r)["id"]
	ts.mu.Lock()
	ts.readIDs[id] = append(ts.readIDs[id], body.MessageIDs...)
	ts.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(body.MessageIDs)})
}
