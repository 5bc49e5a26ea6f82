package defang

import (
	"strings"
	"testing"
)

func TestURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://evil.onion/x", "hxxp[:]//evil[.]onion/x"},
		{"https://leaks.example.com/post?id=1", "hxxps[:]//leaks[.]example[.]com/post?id=1"},
		{"ftp://files.example.net", "ftp[:]//files[.]example[.]net"},
		{"evil.onion", "evil[.]onion"},
		{"http://abc123.onion", "hxxp[:]//abc123[.]onion"},
	}
	for _, c := range cases {
		got := URL(c.in)
		if got != c.want {
			t.Errorf("URL(%q) = %q, want %q", c.in, got, c.want)
		}
		if strings.Contains(got, "://") {
			t.Errorf("URL(%q) still contains a live scheme separator: %q", c.in, got)
		}
	}
}

func TestText(t *testing.T) {
	in := "new victim posted at http://evil.onion/acme see details"
	got := Text(in)
	if strings.Contains(got, "://") {
		t.Fatalf("Text left a live scheme separator: %q", got)
	}
	if !strings.Contains(got, "hxxp[:]//evil[.]onion/acme") {
		t.Fatalf("Text did not defang the embedded link: %q", got)
	}
	if !strings.HasPrefix(got, "new victim posted at ") {
		t.Fatalf("Text altered surrounding prose: %q", got)
	}
}

func TestTextWithoutLinks(t *testing.T) {
	in := "plain text. nothing to rewrite"
	if got := Text(in); got != in {
		t.Fatalf("Text(%q) = %q, want unchanged", in, got)
	}
}
