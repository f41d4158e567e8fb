package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TimestampLayout is the server's local-time format for client-stamped creation times.
const TimestampLayout = "2006-01-02T15:04:05.000"

// ID is an identifier the backend may send as a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// AuthResponse is returned by login, registration and anonymous login.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	UserID      ID     `json:"user_id"`
	TokenType   string `json:"token_type,omitempty"`
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User is the authenticated user's profile.
type User struct {
	ID          ID     `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	IsActive    bool   `json:"isActive"`
	IsAnonymous bool   `json:"isAnonymous"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// ProfileUpdate changes profile fields; empty fields are left as they are.
type ProfileUpdate struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Project is a renovation project.
type Project struct {
	ID                    ID     `json:"id"`
	Name                  string `json:"name"`
	Status                string `json:"status,omitempty"`
	Address               string `json:"address,omitempty"`
	StartDate             string `json:"startDate,omitempty"`
	EstimatedEndDate      string `json:"estimatedEndDate,omitempty"`
	ProjectedProfitStatus string `json:"projectedProfitStatus,omitempty"`
	OwnerID               ID     `json:"ownerId,omitempty"`
	CreatedAt             string `json:"createdAt,omitempty"`
	Version               string `json:"version,omitempty"`
}

// ProjectInput is the body of a project create or update. Empty fields are omitted.
type ProjectInput struct {
	Name                  string `json:"name,omitempty"`
	Status                string `json:"status,omitempty"`
	Address               string `json:"address,omitempty"`
	StartDate             string `json:"startDate,omitempty"`
	EstimatedEndDate      string `json:"estimatedEndDate,omitempty"`
	ProjectedProfitStatus string `json:"projectedProfitStatus,omitempty"`
	CreatedAt             string `json:"createdAt,omitempty"`
}

// Update is a progress entry on a project.
type Update struct {
	ID          ID     `json:"id"`
	ProjectID   ID     `json:"projectId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// UpdateInput is the body of an update create or modify.
type UpdateInput struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// GalleryImage is an uploaded project photo.
type GalleryImage struct {
	ID          ID     `json:"id"`
	ProjectID   ID     `json:"projectId"`
	ImageURL    string `json:"imageUrl"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Room        string `json:"room,omitempty"`
	Stage       string `json:"stage,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// Upload defaults applied when ImageMeta leaves a field empty.
const (
	DefaultRoom  = "General"
	DefaultStage = "During"
)

// ImageMeta describes an upload. Room and Stage fall back to DefaultRoom and DefaultStage.
type ImageMeta struct {
	Caption string
	Room    string
	Stage   string
}

// ImageUpdate changes an image's metadata.
type ImageUpdate struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Room        string `json:"room,omitempty"`
	Stage       string `json:"stage,omitempty"`
}

// ChatMessage is one message in a project's chat.
type ChatMessage struct {
	ID           ID     `json:"id"`
	ProjectID    ID     `json:"projectId"`
	UserID       ID     `json:"userId,omitempty"`
	Message      string `json:"message"`
	IsFromClient bool   `json:"isFromClient"`
	IsRead       bool   `json:"isRead,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

// MessageInput is the body of a chat send or edit.
type MessageInput struct {
	Message      string `json:"message"`
	IsFromClient bool   `json:"isFromClient"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

// BulkResult is returned by bulk deletes.
type BulkResult struct {
	Deleted int `json:"deleted"`
}
