package portal

import (
	"context"

	"github.com/khgapparov/flipApp/internal/api"
	"github.com/khgapparov/flipApp/internal/poll"
	"github.com/khgapparov/flipApp/internal/querycache"
)

// UpdateService manages a project's progress updates.
type UpdateService struct {
	p *Portal
}

func updatesPath(projectID string) string { return projectPath(projectID) + "/updates" }

// List returns a project's updates.
func (s *UpdateService) List(ctx context.Context, projectID string, filters api.Params) ([]Update, error) {
	var out []Update
	if err := s.p.client.Get(ctx, updatesPath(projectID), filters, &out); err != nil {
		return nil, err
	}
	s.p.cache.Set(querycache.WithQuery(querycache.UpdatesKey(projectID), filters.Encode()), out)
	return out, nil
}

// Create posts an update stamped with the client's current time.
func (s *UpdateService) Create(ctx context.Context, projectID string, in UpdateInput) (*Update, error) {
	in.Timestamp = s.p.timestamp()
	var out Update
	if err := s.p.client.Post(ctx, updatesPath(projectID), in, &out); err != nil {
		return nil, s.p.fail(ctx, err, "Failed to create update")
	}
	s.p.cache.Invalidate(querycache.UpdatesKey(projectID))
	s.p.succeed(ctx, "Update created successfully")
	return &out, nil
}

// Modify changes an existing update.
func (s *UpdateService) Modify(ctx context.Context, projectID, updateID string, in UpdateInput) (*Update, error) {
	var out Update
	if err := s.p.client.Put(ctx, itemPath(updatesPath(projectID), updateID), nil, in, &out); err != nil {
		return nil, s.p.fail(ctx, err, "Failed to modify update")
	}
	s.p.cache.Invalidate(querycache.UpdatesKey(projectID))
	s.p.succeed(ctx, "Update modified successfully")
	return &out, nil
}

// Delete removes an update.
func (s *UpdateService) Delete(ctx context.Context, projectID, updateID string) error {
	if err := s.p.client.Delete(ctx, itemPath(updatesPath(projectID), updateID), nil); err != nil {
		return s.p.fail(ctx, err, "Failed to delete update")
	}
	s.p.cache.Invalidate(querycache.UpdatesKey(projectID))
	s.p.succeed(ctx, "Update deleted successfully")
	return nil
}

// Subscribe polls the project's updates and passes every full list to fn.
func (s *UpdateService) Subscribe(ctx context.Context, projectID string, fn func([]Update)) *poll.Subscription {
	return poll.Subscribe(ctx, s.p.polls, querycache.UpdatesKey(projectID), s.p.intervals.Updates,
		func(ctx context.Context) ([]Update, error) { return s.List(ctx, projectID, nil) },
		fn)
}
