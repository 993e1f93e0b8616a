package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	got := String()
	if !strings.Contains(got, Version) || !strings.Contains(got, Commit) {
		t.Fatalf("版本信息不完整: %q", got)
	}
	if UserAgent() != "cropadvisor/"+Version {
		t.Fatalf("UserAgent 不符合预期: %q", UserAgent())
	}
}
