package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/khgapparov/flipApp/internal/api"
	"github.com/khgapparov/flipApp/internal/debounce"
	"github.com/khgapparov/flipApp/internal/poll"
	"github.com/khgapparov/flipApp/internal/querycache"
)

// DefaultSearchDelay is the quiet period before a project search is sent.
const DefaultSearchDelay = 300 * time.Millisecond

// ProjectService manages renovation projects.
type ProjectService struct {
	p      *Portal
	search *debounce.Debouncer[api.Params, []Project]
}

func newProjectService(p *Portal) *ProjectService {
	s := &ProjectService{p: p}
	s.search = debounce.New(p.search, s.List)
	return s
}

func projectPath(id string) string { return itemPath("/projects", id) }

// itemPath appends an escaped id so ids cannot reach another endpoint.
func itemPath(base, id string) string { return base + "/" + url.PathEscape(id) }

// List returns projects matching the filters. Empty filters are not sent.
func (s *ProjectService) List(ctx context.Context, filters api.Params) ([]Project, error) {
	var out []Project
	if err := s.p.client.Get(ctx, "/projects", filters, &out); err != nil {
		return nil, err
	}
	s.p.cache.Set(querycache.WithQuery(querycache.KeyProjects, filters.Encode()), out)
	return out, nil
}

// Search is List for as-you-type filtering. Calls arriving within the search delay
// collapse into one request for the latest filters, and every caller gets its result.
func (s *ProjectService) Search(ctx context.Context, filters api.Params) ([]Project, error) {
	return s.search.Call(ctx, filters)
}

// Get returns one project.
func (s *ProjectService) Get(ctx context.Context, id string) (*Project, error) {
	var out Project
	if err := s.p.client.Get(ctx, projectPath(id), nil, &out); err != nil {
		return nil, err
	}
	s.p.cache.Set(querycache.ProjectKey(id), &out)
	return &out, nil
}

// Cached returns a fresh cached project, fetching it when there is none.
func (s *ProjectService) Cached(ctx context.Context, id string) (*Project, error) {
	if p, ok := querycache.GetAs[*Project](s.p.cache, querycache.ProjectKey(id)); ok {
		return p, nil
	}
	return s.Get(ctx, id)
}

// Create creates a project stamped with the client's current time.
func (s *ProjectService) Create(ctx context.Context, in ProjectInput) (*Project, error) {
	in.CreatedAt = s.p.timestamp()
	var out Project
	if err := s.p.client.Post(ctx, "/projects", in, &out); err != nil {
		return nil, s.p.fail(ctx, err, "Failed to create project")
	}
	s.p.cache.Invalidate(querycache.KeyProjects)
	s.p.succeed(ctx, "Project created successfully")
	return &out, nil
}

// Update changes a project. A non-empty version is sent as If-Match so a concurrent
// modification is rejected by the server.
func (s *ProjectService) Update(ctx context.Context, id string, in ProjectInput, version string) (*Project, error) {
	var header http.Header
	if version != "" {
		header = http.Header{}
		header.Set("If-Match", version)
	}
	var out Project
	if err := s.p.client.Put(ctx, projectPath(id), header, in, &out); err != nil {
		return nil, s.p.fail(ctx, err, "Failed to update project")
	}
	s.p.cache.Invalidate(querycache.KeyProjects)
	s.p.cache.Set(querycache.ProjectKey(id), &out)
	s.p.succeed(ctx, "Project updated successfully")
	return &out, nil
}

// Delete removes a project.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	if err := s.p.client.Delete(ctx, projectPath(id), nil); err != nil {
		return s.p.fail(ctx, err, "Failed to delete project")
	}
	s.p.cache.Remove(querycache.ProjectKey(id))
	s.p.cache.Invalidate(querycache.KeyProjects)
	s.p.succeed(ctx, "Project deleted successfully")
	return nil
}

// BulkDelete removes several projects in one call with a single summary notice.
func (s *ProjectService) BulkDelete(ctx context.Context, ids []string) (*BulkResult, error) {
	var out BulkResult
	if err := s.p.client.Post(ctx, "/projects/bulk-delete", map[string][]string{"projectIds": ids}, &out); err != nil {
		return nil, s.p.fail(ctx, err, "Failed to delete projects")
	}
	for _, id := range ids {
		s.p.cache.Remove(querycache.ProjectKey(id))
	}
	s.p.cache.Invalidate(querycache.KeyProjects)
	s.p.succeed(ctx, fmt.Sprintf("%d projects deleted successfully", len(ids)))
	return &out, nil
}

// Subscribe polls the project and passes every snapshot to fn until cancelled.
func (s *ProjectService) Subscribe(ctx context.Context, id string, fn func(*Project)) *poll.Subscription {
	return poll.Subscribe(ctx, s.p.polls, querycache.ProjectKey(id), s.p.intervals.Project,
		func(ctx context.Context) (*Project, error) { return s.Get(ctx, id) },
		fn)
}
