package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	repoIface "github.com/quipper/poc/lti/tool/pkg/repositories/tools"
)

func newTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := NewSQLiteRepo(filepath.Join(t.TempDir(), "tools.db"))
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	t.Cleanup(repo.Disconnect)
	return repo
}

func TestRegisterListGetDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tool := &repoIface.Tool{
		Name:               "Quiz Tool",
		ClientID:           "client-1",
		LoginInitiationURL: "https://tool.example.com/login",
		TargetLinkURL:      "https://tool.example.com/launch",
		KeySetURL:          "https://tool.example.com/keys",
	}
	id, err := repo.RegisterTool(ctx, tool)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id == 0 || tool.ID != id {
		t.Fatalf("id = %d, tool.ID = %d", id, tool.ID)
	}

	items, err := repo.ListTools(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Quiz Tool" {
		t.Fatalf("items = %+v", items)
	}

	got, err := repo.GetToolByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ClientID != "client-1" || got.KeySetURL != "https://tool.example.com/keys" {
		t.Fatalf("got = %+v", got)
	}

	if err := repo.DeleteToolByID(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = repo.GetToolByID(ctx, id)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("tool still present: %+v", got)
	}
}
