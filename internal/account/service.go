// Package account covers the principal's own profile: explicit saves and
// avatar uploads. Profiles are created lazily, so saves upsert.
package account

import (
	"context"
	"fmt"
	"path"

	"studiodesk.app/internal/ids"
	"studiodesk.app/internal/remote"
)

const (
	profilesTable = "profiles"
	avatarsBucket = "avatars"
)

// Service mutates the signed-in principal's profile. Profile rows are only
// ever written by their owning principal.
type Service struct {
	data  remote.Data
	files remote.Files
}

// NewService creates the account service.
func NewService(data remote.Data, files remote.Files) *Service {
	return &Service{data: data, files: files}
}

// SaveProfile writes the given fields to userID's profile row, creating it
// when it does not exist yet.
func (s *Service) SaveProfile(ctx context.Context, userID string, fields remote.Row) error {
	var existing []remote.Row
	err := s.data.Select(ctx, remote.Query{Table: profilesTable, Filter: remote.Filter{"id": userID}}, &existing)
	if err != nil {
		return fmt.Errorf("account: load profile: %w", err)
	}
	if len(existing) == 0 {
		row := remote.Row{"id": userID}
		for k, v := range fields {
			row[k] = v
		}
		if err := s.data.Insert(ctx, profilesTable, row, nil); err != nil {
			return fmt.Errorf("account: create profile: %w", err)
		}
		return nil
	}
	if err := s.data.Update(ctx, profilesTable, fields, remote.Filter{"id": userID}); err != nil {
		return fmt.Errorf("account: save profile: %w", err)
	}
	return nil
}

// UploadAvatar stores the image and points the profile at its public URL.
// The object key is randomized so a replaced avatar never collides with a
// cached predecessor.
func (s *Service) UploadAvatar(ctx context.Context, userID, filename string, data []byte, contentType string) (string, error) {
	key := userID + "/" + ids.New() + path.Ext(filename)
	url, err := s.files.Upload(ctx, avatarsBucket, key, data, contentType)
	if err != nil {
		return "", fmt.Errorf("account: upload avatar: %w", err)
	}
	if err := s.SaveProfile(ctx, userID, remote.Row{"avatar_url": url}); err != nil {
		return "", err
	}
	return url, nil
}
