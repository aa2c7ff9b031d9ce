package filetransfer

import (
	"testing"

	"github.com/spf13/afero"
)

func newTestStore() *Store {
	return NewStore(afero.NewMemMapFs(), "/var/tedge")
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore()
	if err := s.Put("/tedge/file-transfer/new/dir/file", []byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content, err := s.Get("/tedge/file-transfer/new/dir/file")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(content) != "hello" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s := newTestStore()
	if _, err := s.LocalPath("/tedge/file-transfer/../../../bin/sh"); err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
}

func TestPathTraversalWithinBoundsAccepted(t *testing.T) {
	s := newTestStore()
	if _, err := s.LocalPath("/tedge/file-transfer/../file-transfer/new/dir/file"); err != nil {
		t.Fatalf("expected in-bounds traversal to be accepted, got %v", err)
	}
}

func TestDeleteAbsentFileIsNotAnError(t *testing.T) {
	s := newTestStore()
	if err := s.Delete("/tedge/file-transfer/missing"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}
