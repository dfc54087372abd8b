package urlnorm

import "testing"

func TestNormalizeStripsCDNSignature(t *testing.T) {
	// WHAT: Signed expiry params disappear on CDN hosts.
	// WHY: The same attachment must key to one download row across sessions.
	in := "https://cdn.discordapp.com/attachments/1/2/File.PNG?ex=aaa&is=bbb&hm=ccc"
	got, err := Normalize(in)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := "https://cdn.discordapp.com/attachments/1/2/File.PNG"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	// WHAT: Two spellings of the same URL normalize identically.
	// WHY: normalized_url is a primary key; instability would duplicate rows.
	a, err := Normalize("HTTPS://CDN.DiscordApp.com/attachments/1/2/a.png?ex=1")
	if err != nil {
		t.Fatalf("normalize a: %v", err)
	}
	b, err := Normalize("https://cdn.discordapp.com/attachments/1/2/a.png?ex=2&hm=9")
	if err != nil {
		t.Fatalf("normalize b: %v", err)
	}
	if a != b {
		t.Errorf("mismatch: %q vs %q", a, b)
	}
}

func TestNormalizePreservesPathCase(t *testing.T) {
	// WHAT: Path casing survives while the host is lowercased.
	// WHY: CDN object paths are case-sensitive.
	got, err := Normalize("https://Example.COM/Files/Image.PNG")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "https://example.com/Files/Image.PNG" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeSortsForeignQuery(t *testing.T) {
	// WHAT: Non-CDN hosts keep their query with sorted keys, minus volatile params.
	// WHY: Off-platform media may encode identity in the query string.
	got, err := Normalize("https://host.example/img?b=2&a=1&ex=zz")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "https://host.example/img?a=1&b=2" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	// WHAT: Empty input, odd schemes, and missing hosts are rejected.
	// WHY: Garbage keys would poison the download queue.
	for _, in := range []string{"", "ftp://host/x", "https://", "notaurl"} {
		if _, err := Normalize(in); err == nil {
			t.Errorf("Normalize(%q): expected error", in)
		}
	}
}
