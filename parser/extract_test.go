package parser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-ranks/models"
	"github.com/aluiziolira/go-scrape-ranks/useragent"
)

type fakeSession struct {
	redirects  map[string]string
	resolveErr error
	rotateErr  error
	resolved   []string
	rotations  int
}

func (f *fakeSession) ResolveRedirect(_ context.Context, relativeURL string) (string, error) {
	f.resolved = append(f.resolved, relativeURL)
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	final, ok := f.redirects[relativeURL]
	if !ok {
		return "", fmt.Errorf("no redirect for %s", relativeURL)
	}
	return final, nil
}

func (f *fakeSession) RotateIdentity() error {
	f.rotations++
	return f.rotateErr
}

type node struct {
	sponsored bool
	href      string
	badge     string
}

func buildResultsPage(nodes []node) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="s-main-slot s-result-list sg-row">`)
	for i, n := range nodes {
		class := "s-result-item s-asin sg-col"
		if n.sponsored {
			class += " AdHolder"
		}
		fmt.Fprintf(&b, `<div class="%s" data-index="%d"><div class="inner"><div class="link">`, class, i)
		if n.href != "" {
			fmt.Fprintf(&b, `<a class="a-link-normal s-no-outline" href="%s">item</a>`, n.href)
		}
		b.WriteString(`</div></div>`)
		if n.badge != "" {
			fmt.Fprintf(&b, `<span data-component-type="s-status-badge-component" data-component-props='%s'></span>`, n.badge)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func newTestExtractor(session Session) *Extractor {
	base, _ := url.Parse("https://www.example.test")
	e := NewExtractor(base, session)
	e.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return e
}

func TestExtractInterleavesRankGroups(t *testing.T) {
	page := buildResultsPage([]node{
		{sponsored: true, href: "/dp/S1/ref=sr_1"},
		{sponsored: true, href: "/dp/S2/ref=sr_2"},
		{href: "/dp/O1/ref=sr_3"},
		{href: "/dp/O2/ref=sr_4"},
		{href: "/dp/O3/ref=sr_5"},
	})

	listings, err := newTestExtractor(&fakeSession{}).Extract(context.Background(), page, "shoes", 2)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	want := []struct {
		id       string
		rankType models.RankType
		rank     int
	}{
		{"S1", models.RankSponsored, 1},
		{"S2", models.RankSponsored, 2},
		{"O1", models.RankOrganic, 1},
		{"O2", models.RankOrganic, 2},
		{"O3", models.RankOrganic, 3},
	}
	if len(listings) != len(want) {
		t.Fatalf("listings = %d, want %d", len(listings), len(want))
	}
	for i, w := range want {
		got := listings[i]
		if got.ItemIDOrEmpty() != w.id || got.RankType != w.rankType || got.Rank != w.rank {
			t.Fatalf("listing %d = %s/%s/%d, want %s/%s/%d", i, got.ItemIDOrEmpty(), got.RankType, got.Rank, w.id, w.rankType, w.rank)
		}
		if got.Keyword != "shoes" || got.PageNumber != 2 {
			t.Fatalf("listing %d keyword/page = %q/%d", i, got.Keyword, got.PageNumber)
		}
		if got.Timestamp.IsZero() {
			t.Fatalf("listing %d missing timestamp", i)
		}
	}
}

func TestExtractMixedOrderKeepsDocumentOrder(t *testing.T) {
	page := buildResultsPage([]node{
		{href: "/dp/O1/x"},
		{sponsored: true, href: "/dp/S1/x"},
		{href: "/dp/O2/x"},
		{sponsored: true, href: "/dp/S2/x"},
		{href: "/dp/O3/x"},
		{href: "/dp/O4/x"},
	})

	listings, err := newTestExtractor(nil).Extract(context.Background(), page, "socks", 1)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(listings) != 6 {
		t.Fatalf("listings = %d, want 6", len(listings))
	}

	wantIDs := []string{"O1", "S1", "O2", "S2", "O3", "O4"}
	next := map[models.RankType]int{models.RankSponsored: 1, models.RankOrganic: 1}
	for i, l := range listings {
		if l.ItemIDOrEmpty() != wantIDs[i] {
			t.Fatalf("listing %d id = %q, want %q", i, l.ItemIDOrEmpty(), wantIDs[i])
		}
		isSponsored := strings.HasPrefix(wantIDs[i], "S")
		if isSponsored != (l.RankType == models.RankSponsored) {
			t.Fatalf("listing %d rank type = %s", i, l.RankType)
		}
		if l.Rank != next[l.RankType] {
			t.Fatalf("listing %d rank = %d, want %d", i, l.Rank, next[l.RankType])
		}
		next[l.RankType]++
	}
}

func TestExtractEmptyPageRotatesIdentity(t *testing.T) {
	session := &fakeSession{}
	listings, err := newTestExtractor(session).Extract(context.Background(), "<html><body><p>nothing</p></body></html>", "shoes", 1)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(listings) != 0 {
		t.Fatalf("listings = %d, want 0", len(listings))
	}
	if session.rotations != 1 {
		t.Fatalf("rotations = %d, want 1", session.rotations)
	}
}

func TestExtractEmptyPagePoolExhausted(t *testing.T) {
	session := &fakeSession{rotateErr: useragent.ErrPoolExhausted}
	_, err := newTestExtractor(session).Extract(context.Background(), "<html></html>", "shoes", 1)
	if !errors.Is(err, useragent.ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted", err)
	}
}

func TestExtractMissingAnchorKeepsListing(t *testing.T) {
	page := buildResultsPage([]node{{}, {href: "/dp/O2/x"}})

	listings, err := newTestExtractor(nil).Extract(context.Background(), page, "shoes", 1)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("listings = %d, want 2", len(listings))
	}
	if listings[0].ItemID != nil {
		t.Fatalf("item id = %q, want nil", *listings[0].ItemID)
	}
	if listings[0].Rank != 1 || listings[1].Rank != 2 {
		t.Fatalf("ranks = %d,%d, want 1,2", listings[0].Rank, listings[1].Rank)
	}
}

func TestExtractResolvesRedirectWrapper(t *testing.T) {
	session := &fakeSession{redirects: map[string]string{
		"https://www.example.test/gp/slredirect/picassoRedirect.html?url=x": "https://www.example.test/dp/B000123456/ref=sr_1_1_sspa",
	}}
	page := buildResultsPage([]node{{sponsored: true, href: "/gp/slredirect/picassoRedirect.html?url=x"}})

	listings, err := newTestExtractor(session).Extract(context.Background(), page, "shoes", 1)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := listings[0].ItemIDOrEmpty(); got != "B000123456" {
		t.Fatalf("item id = %q, want B000123456", got)
	}
	if len(session.resolved) != 1 {
		t.Fatalf("resolved %d urls, want 1", len(session.resolved))
	}
}

func TestExtractRedirectFailureDegradesToNil(t *testing.T) {
	session := &fakeSession{resolveErr: errors.New("attempts exhausted")}
	page := buildResultsPage([]node{{sponsored: true, href: "/gp/slredirect/x"}})

	listings, err := newTestExtractor(session).Extract(context.Background(), page, "shoes", 1)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if listings[0].ItemID != nil {
		t.Fatalf("item id = %q, want nil", *listings[0].ItemID)
	}
}

func TestExtractRedirectPoolExhaustedIsFatal(t *testing.T) {
	session := &fakeSession{resolveErr: fmt.Errorf("rotate identity: %w", useragent.ErrPoolExhausted)}
	page := buildResultsPage([]node{{sponsored: true, href: "/gp/slredirect/x"}})

	if _, err := newTestExtractor(session).Extract(context.Background(), page, "shoes", 1); !errors.Is(err, useragent.ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted", err)
	}
}

func TestExtractBadges(t *testing.T) {
	page := buildResultsPage([]node{
		{href: "/dp/A/x", badge: `{"badgeType":"best-seller","asin":"A"}`},
		{href: "/dp/B/x", badge: `{"badgeType":"amazons-choice"}`},
		{href: "/dp/C/x", badge: `{not json`},
		{href: "/dp/D/x"},
	})

	listings, err := newTestExtractor(nil).Extract(context.Background(), page, "shoes", 1)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	want := [][2]bool{{true, false}, {false, true}, {false, false}, {false, false}}
	for i, w := range want {
		if listings[i].BestsellerBadge != w[0] || listings[i].AmazonChoiceBadge != w[1] {
			t.Fatalf("listing %d badges = %v/%v, want %v/%v", i, listings[i].BestsellerBadge, listings[i].AmazonChoiceBadge, w[0], w[1])
		}
	}
}

func TestItemIDFromURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "relative product path", input: "/dp/B000123456/ref=sr_1_1", want: "B000123456"},
		{name: "absolute with query", input: "https://www.example.test/Some-Shoe/dp/B0AAA/ref=sr_1_2?keywords=shoes&qid=1", want: "B0AAA"},
		{name: "trailing slash", input: "/dp/B0BBB/", want: "B0BBB"},
		{name: "single segment", input: "B0CCC", want: ""},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ItemIDFromURL(tt.input)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("ItemIDFromURL(%q) = %q, want nil", tt.input, *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Fatalf("ItemIDFromURL(%q) = %v, want %q", tt.input, got, tt.want)
			}
		})
	}
}
