package resolve

import (
	"testing"
	"time"

	"github.com/emily3403/isisdl-go/catalog"
)

func pf(url, checksum string, createdAt time.Time) *pendingFile {
	return &pendingFile{
		Temp:      &catalog.TempFile{URL: url, DownloadURL: url},
		Checksum:  checksum,
		CreatedAt: createdAt,
	}
}

func TestDedupeByChecksumCollapsesEqualChecksums(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket := []*pendingFile{
		pf("https://b", "abc", base.Add(time.Minute)),
		pf("https://a", "abc", base),
		pf("https://c", "xyz", base.Add(2*time.Minute)),
	}

	winners := dedupeByChecksum(bucket)
	if len(winners) != 2 {
		t.Fatalf("expected 2 winners, got %d", len(winners))
	}
	if winners[0].Temp.URL != "https://a" {
		t.Errorf("expected the earliest (created_at asc) duplicate to win, got %s", winners[0].Temp.URL)
	}
	if winners[1].Checksum != "xyz" {
		t.Errorf("expected the unique checksum to survive, got %s", winners[1].Checksum)
	}
}

func TestDedupeByChecksumPreservesAllDistinctChecksums(t *testing.T) {
	base := time.Now()
	bucket := []*pendingFile{
		pf("https://a", "1", base),
		pf("https://b", "2", base.Add(time.Minute)),
		pf("https://c", "3", base.Add(2*time.Minute)),
	}
	winners := dedupeByChecksum(bucket)
	if len(winners) != 3 {
		t.Errorf("expected all 3 distinct checksums to survive, got %d", len(winners))
	}
}

func TestDisambiguateSingleWinnerKeepsName(t *testing.T) {
	winners := []*pendingFile{pf("https://a", "1", time.Now())}
	names := disambiguate(winners, "slides.pdf")
	if len(names) != 1 || names[0] != "slides.pdf" {
		t.Errorf("expected unchanged name, got %v", names)
	}
}

func TestDisambiguateMultipleWinnersAppendIndexSuffix(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	winners := []*pendingFile{
		pf("https://b", "2", base.Add(time.Minute)),
		pf("https://a", "1", base),
	}
	names := disambiguate(winners, "slides.pdf")
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(names))
	}
	if names[0] != "slides(0/1).pdf" {
		t.Errorf("expected earliest winner to get index 0, got %q", names[0])
	}
	if names[1] != "slides(1/1).pdf" {
		t.Errorf("expected later winner to get index 1, got %q", names[1])
	}
}
