package mailfiler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/infodancer/mailfiler"
	mferrors "github.com/infodancer/mailfiler/errors"
	"github.com/infodancer/mailfiler/maildir"
	"github.com/infodancer/mailfiler/mbox"
)

const testMessage = "From: alice@example.com\r\nSubject: Test\r\n\r\nTest message body\r\n"

func TestResolveFolderPath(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}

	tests := []struct {
		name   string
		folder string
		want   string
		err    error
	}{
		{"relative to root", "spam", "/mail/spam", nil},
		{"nested", "lists/golang", "/mail/lists/golang", nil},
		{"trailing slash kept", "archive/", "/mail/archive/", nil},
		{"source", ".", "/mail/inbox", nil},
		{"absolute", "/var/mail/me", "/var/mail/me", nil},
		{"working dir", "./out", filepath.Join(wd, "out"), nil},
		{"parent of working dir", "../out", filepath.Join(filepath.Dir(wd), "out"), nil},
		{"escape", "a/../../etc", "", mferrors.ErrPathTraversal},
		{"empty", "", "", mferrors.ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mailfiler.ResolveFolderPath(tt.folder, "/mail", "/mail/inbox")
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveFolderPath failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveFolderPath(%q) = %q, want %q", tt.folder, got, tt.want)
			}
		})
	}

	if _, err := mailfiler.ResolveFolderPath("spam", "", ""); !errors.Is(err, mferrors.ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath without a mail root, got %v", err)
	}
}

func TestFolderKind(t *testing.T) {
	root := t.TempDir()

	box := filepath.Join(root, "saved")
	if err := os.WriteFile(box, nil, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if got := mailfiler.FolderKind(box); got != mailfiler.KindMbox {
		t.Errorf("FolderKind(file) = %s, want mbox", got)
	}
	if got := mailfiler.FolderKind(filepath.Join(root, "new-folder")); got != mailfiler.KindMaildir {
		t.Errorf("FolderKind(missing) = %s, want maildir", got)
	}
	if got := mailfiler.FolderKind(box + "/"); got != mailfiler.KindMaildir {
		t.Errorf("FolderKind(trailing slash) = %s, want maildir", got)
	}
}

func TestFolderResolver_FilesIntoEachKind(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "saved.mbox"), nil, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	r := mailfiler.NewFolderResolver(nil)
	ctx := context.Background()

	for _, name := range []string{"spam", "saved.mbox"} {
		store, err := r.Folder(name, root, "")
		if err != nil {
			t.Fatalf("Folder(%s) failed: %v", name, err)
		}
		if err := store.Append(ctx, []byte(testMessage), 0); err != nil {
			t.Fatalf("Append(%s) failed: %v", name, err)
		}
	}

	if !maildir.IsMaildir(filepath.Join(root, "spam")) {
		t.Error("expected spam to be created as a maildir")
	}
	if !mbox.IsMbox(filepath.Join(root, "saved.mbox")) {
		t.Fatal("expected saved.mbox to remain an mbox")
	}
	data, err := os.ReadFile(filepath.Join(root, "saved.mbox"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.HasPrefix(string(data), "From alice@example.com ") {
		t.Errorf("mbox does not start with a From line: %q", data)
	}
}

func TestFolderResolver_Caches(t *testing.T) {
	root := t.TempDir()
	r := mailfiler.NewFolderResolver(nil)

	a, err := r.Folder("spam", root, "")
	if err != nil {
		t.Fatalf("Folder failed: %v", err)
	}
	b, err := r.Folder("spam/", root, "")
	if err != nil {
		t.Fatalf("Folder failed: %v", err)
	}
	if a != b {
		t.Error("expected the same store for spam and spam/")
	}

	r.Forget()
	c, err := r.Folder("spam", root, "")
	if err != nil {
		t.Fatalf("Folder failed: %v", err)
	}
	if c == a {
		t.Error("expected a fresh store after Forget")
	}
}

func TestFolderResolver_SourceFolder(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "inbox")
	r := mailfiler.NewFolderResolver(nil)

	store, err := r.Folder(".", root, source)
	if err != nil {
		t.Fatalf("Folder failed: %v", err)
	}
	if store.Path() != source {
		t.Errorf("Path = %q, want %q", store.Path(), source)
	}
}
