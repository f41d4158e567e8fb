package portal

import (
	"context"
	"fmt"
	"io"

	"github.com/khgapparov/flipApp/internal/api"
	"github.com/khgapparov/flipApp/internal/poll"
	"github.com/khgapparov/flipApp/internal/querycache"
)

// GalleryService manages a project's photos.
type GalleryService struct {
	p *Portal
}

func galleryPath(projectID string) string { return projectPath(projectID) + "/gallery" }

// List returns a project's images.
func (s *GalleryService) List(ctx context.Context, projectID string, filters api.Params) ([]GalleryImage, error) {
	var out []GalleryImage
	if err := s.p.client.Get(ctx, galleryPath(projectID), filters, &out); err != nil {
		return nil, err
	}
	s.p.cache.Set(querycache.WithQuery(querycache.GalleryKey(projectID), filters.Encode()), out)
	return out, nil
}

// Upload sends one image as multipart form data: the file followed by caption, room
// and stage.
func (s *GalleryService) Upload(ctx context.Context, projectID, fileName string, file io.Reader, meta ImageMeta) (*GalleryImage, error) {
	room, stage := meta.Room, meta.Stage
	if room == "" {
		room = DefaultRoom
	}
	if stage == "" {
		stage = DefaultStage
	}
	form := api.Multipart{
		FileField: "file",
		FileName:  fileName,
		File:      file,
		Fields: []api.Field{
			{Name: "caption", Value: meta.Caption},
			{Name: "room", Value: room},
			{Name: "stage", Value: stage},
		},
	}
	var out GalleryImage
	if err := s.p.client.Upload(ctx, galleryPath(projectID), form, &out); err != nil {
		return nil, s.p.fail(ctx, err, "Failed to upload image")
	}
	s.p.cache.Invalidate(querycache.GalleryKey(projectID))
	s.p.succeed(ctx, "Image uploaded successfully")
	return &out, nil
}

// UpdateImage changes an image's metadata.
func (s *GalleryService) UpdateImage(ctx context.Context, projectID, imageID string, in ImageUpdate) (*GalleryImage, error) {
	var out GalleryImage
	if err := s.p.client.Put(ctx, itemPath(galleryPath(projectID), imageID), nil, in, &out); err != nil {
		return nil, s.p.fail(ctx, err, "Failed to update image")
	}
	s.p.cache.Invalidate(querycache.GalleryKey(projectID))
	s.p.succeed(ctx, "Image updated successfully")
	return &out, nil
}

// DeleteImage removes an image.
func (s *GalleryService) DeleteImage(ctx context.Context, projectID, imageID string) error {
	if err := s.p.client.Delete(ctx, itemPath(galleryPath(projectID), imageID), nil); err != nil {
		return s.p.fail(ctx, err, "Failed to delete image")
	}
	s.p.cache.Invalidate(querycache.GalleryKey(projectID))
	s.p.succeed(ctx, "Image deleted successfully")
	return nil
}

// BulkDelete removes several images in one call with a single summary notice.
func (s *GalleryService) BulkDelete(ctx context.Context, projectID string, imageIDs []string) (*BulkResult, error) {
	var out BulkResult
	body := map[string][]string{"imageIds": imageIDs}
	if err := s.p.client.Post(ctx, galleryPath(projectID)+"/bulk-delete", body, &out); err != nil {
		return nil, s.p.fail(ctx, err, "Failed to delete images")
	}
	s.p.cache.Invalidate(querycache.GalleryKey(projectID))
	s.p.succeed(ctx, fmt.Sprintf("%d images deleted successfully", len(imageIDs)))
	return &out, nil
}

// Subscribe polls the project's gallery and passes every full list to fn.
func (s *GalleryService) Subscribe(ctx context.Context, projectID string, fn func([]GalleryImage)) *poll.Subscription {
	return poll.Subscribe(ctx, s.p.polls, querycache.GalleryKey(projectID), s.p.intervals.Gallery,
		func(ctx context.Context) ([]GalleryImage, error) { return s.List(ctx, projectID, nil) },
		fn)
}
