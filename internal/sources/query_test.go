package sources

import "testing"

func TestStraightenQuotes(t *testing.T) {
	t.Parallel()

	got := straightenQuotes(" “gender violence” AND ‘femicide’ ")
	want := `"gender violence" AND 'femicide'`
	if got != want {
		t.Fatalf("straightenQuotes = %q, want %q", got, want)
	}
}

func TestBuildDomainQuery(t *testing.T) {
	t.Parallel()

	got := buildDomainQuery("“violencia”", "es", []string{"example.com", "news.example.org"})
	want := `("violencia") AND (language:es) AND (domain:(example.com OR news.example.org))`
	if got != want {
		t.Fatalf("buildDomainQuery = %q, want %q", got, want)
	}
}

func TestBuildDomainQueryWithoutDomains(t *testing.T) {
	t.Parallel()

	got := buildDomainQuery("femicide", "en", nil)
	want := `(femicide) AND (language:en)`
	if got != want {
		t.Fatalf("buildDomainQuery = %q, want %q", got, want)
	}
}
