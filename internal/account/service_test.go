package account

import (
	"context"
	"errors"
	"strings"
	"testing"

	"studiodesk.app/internal/remote"
)

func TestSaveProfileCreatesLazily(t *testing.T) {
	svc := remote.NewInMemory()
	s := NewService(svc, svc)

	if err := s.SaveProfile(context.Background(), "u1", remote.Row{"full_name": "Alex"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rows := svc.Rows("profiles")
	if len(rows) != 1 || rows[0]["id"] != "u1" || rows[0]["full_name"] != "Alex" {
		t.Fatalf("profile not created: %v", rows)
	}

	if err := s.SaveProfile(context.Background(), "u1", remote.Row{"bio": "hi"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rows = svc.Rows("profiles")
	if len(rows) != 1 {
		t.Fatalf("second save inserted another row: %v", rows)
	}
	if rows[0]["full_name"] != "Alex" || rows[0]["bio"] != "hi" {
		t.Fatalf("update lost fields: %v", rows[0])
	}
}

func TestUploadAvatarStoresAndLinks(t *testing.T) {
	svc := remote.NewInMemory()
	s := NewService(svc, svc)

	url, err := s.UploadAvatar(context.Background(), "u1", "me.png", []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(url, "memory://avatars/u1/") || !strings.HasSuffix(url, ".png") {
		t.Fatalf("unexpected avatar url: %q", url)
	}

	rows := svc.Rows("profiles")
	if len(rows) != 1 || rows[0]["avatar_url"] != url {
		t.Fatalf("profile not linked to upload: %v", rows)
	}

	// A replacement must land under a fresh key.
	again, err := s.UploadAvatar(context.Background(), "u1", "me.png", []byte("img2"), "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if again == url {
		t.Fatalf("avatar key reused: %q", again)
	}
}

func TestUploadAvatarFailureLeavesProfileUntouched(t *testing.T) {
	svc := remote.NewInMemory()
	s := NewService(svc, svc)
	svc.Seed("profiles", remote.Row{"id": "u1", "avatar_url": "old"})

	svc.FailNext("upload:avatars", errors.New("storage down"))
	if _, err := s.UploadAvatar(context.Background(), "u1", "me.png", []byte("img"), "image/png"); err == nil {
		t.Fatalf("expected error")
	}
	rows := svc.Rows("profiles")
	if rows[0]["avatar_url"] != "old" {
		t.Fatalf("profile mutated despite upload failure: %v", rows[0])
	}
}
