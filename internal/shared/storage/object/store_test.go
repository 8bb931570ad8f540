package object

import (
	"strings"
	"testing"
)

func TestNewKeyIsUniqueAndSanitized(t *testing.T) {
	a, err := NewKey("uploads/abc", "passport photo.jpg")
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	b, err := NewKey("uploads/abc", "passport photo.jpg")
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	if a == b {
		t.Fatalf("expected unique keys, got %s twice", a)
	}
	if !strings.HasPrefix(a, "uploads/abc/") || !strings.HasSuffix(a, "_passport_photo.jpg") {
		t.Fatalf("unexpected key %s", a)
	}
	if _, err := NewKey("uploads", "../../etc/passwd"); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
}
