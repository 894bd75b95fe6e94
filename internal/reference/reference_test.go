package reference

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prorroga-chain-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func defaultSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := Compile(DefaultDocument())
	require.NoError(t, err)
	return snap
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
		valid    bool
	}{
		{"M54.5", "M54", true},
		{"m54.5", "M54", true},
		{" M54 5 ", "M54", true},
		{"M545", "M54", true},
		{"A09", "A09", true},
		{"a09.0", "A09", true},
		{"J-00", "J00", true},
		{"", "", false},
		{"54M", "54M", false},
		{"XX1", "XX1", false},
		{"M5", "M5", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := Normalize(tt.raw)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.valid, ok)
		})
	}
}

func TestCompile_DefaultDocument(t *testing.T) {
	snap := defaultSnapshot(t)

	stats := snap.Stats()
	assert.Equal(t, DefaultVersion, stats.Version)
	assert.Greater(t, stats.Groups, 5)
	assert.Equal(t, domain.DefaultLegalThresholds(), snap.Thresholds())
}

func TestCompile_RejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(doc *Document)
	}{
		{"thresholds out of order", func(doc *Document) {
			doc.Thresholds = &domain.LegalThresholds{Informational: 180, High: 170, Critical: 150}
		}},
		{"group confidence above 100", func(doc *Document) {
			doc.Groups[0].Confidence = 120
		}},
		{"duplicate group id", func(doc *Document) {
			doc.Groups = append(doc.Groups, doc.Groups[0])
		}},
		{"unknown decay table", func(doc *Document) {
			doc.Groups[0].DecayTable = "missing"
		}},
		{"invalid group code", func(doc *Document) {
			doc.Groups[0].Codes = append(doc.Groups[0].Codes, "??")
		}},
		{"decay table not starting at zero", func(doc *Document) {
			doc.DecayTables = append(doc.DecayTables, DecayTable{ID: "bad", Ranges: []DecayRange{{From: 1, Factor: 1}}})
		}},
		{"decay table without unbounded tail", func(doc *Document) {
			doc.DecayTables = append(doc.DecayTables, DecayTable{ID: "bad", Ranges: []DecayRange{{From: 0, To: upTo(10), Factor: 1}}})
		}},
		{"decay factor increasing", func(doc *Document) {
			doc.DecayTables = append(doc.DecayTables, DecayTable{ID: "bad", Ranges: []DecayRange{
				{From: 0, To: upTo(10), Factor: 0.5},
				{From: 11, Factor: 0.9},
			}})
		}},
		{"directional self rule", func(doc *Document) {
			doc.Directional = append(doc.Directional, DirectionalRule{Origin: "A09", Destination: "A09.1"})
		}},
		{"invalid severity", func(doc *Document) {
			doc.Codes["A09"] = CodeInfo{Severity: "catastrophic"}
		}},
		{"inverted typical days", func(doc *Document) {
			doc.Codes["A09"] = CodeInfo{TypicalDays: []int{9, 2}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := DefaultDocument()
			tt.mutate(doc)

			_, err := Compile(doc)

			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidReference))
		})
	}
}

func TestSnapshot_Resolve(t *testing.T) {
	snap := defaultSnapshot(t)

	t.Run("known code", func(t *testing.T) {
		dc := snap.Resolve("A09")
		assert.True(t, dc.Valid)
		assert.Equal(t, "A", dc.Chapter)
		assert.Equal(t, "I", dc.ChapterID)
		assert.Equal(t, "A00-A09", dc.Block)
		assert.Equal(t, "digestive", dc.System)
		assert.Equal(t, domain.SEVERITY_LOW, dc.Severity)
		assert.True(t, dc.ExtensionEligible)
		assert.False(t, dc.CausalExternal)
		assert.NotEmpty(t, dc.Description)
	})

	t.Run("code severity overrides block", func(t *testing.T) {
		dc := snap.Resolve("M51")
		assert.Equal(t, "M50-M54", dc.Block)
		assert.Equal(t, domain.SEVERITY_SEVERE, dc.Severity)
	})

	t.Run("injury is causal external", func(t *testing.T) {
		dc := snap.Resolve("S82")
		assert.Equal(t, "S", dc.Chapter)
		assert.Equal(t, "XIX", dc.ChapterID)
		assert.True(t, dc.CausalExternal)
		assert.Equal(t, "musculoskeletal", dc.System)
	})

	t.Run("factor codes are not extension eligible", func(t *testing.T) {
		dc := snap.Resolve("Z76")
		assert.False(t, dc.ExtensionEligible)
	})

	t.Run("code without block keeps chapter system", func(t *testing.T) {
		dc := snap.Resolve("L40")
		assert.Equal(t, "L", dc.Chapter)
		assert.Equal(t, "XII", dc.ChapterID)
		assert.Equal(t, domain.Unknown, dc.Block)
		assert.Equal(t, "skin", dc.System)
		assert.Equal(t, domain.SEVERITY_INDETERMINATE, dc.Severity)
	})

	t.Run("invalid code", func(t *testing.T) {
		dc := snap.Resolve("??")
		assert.False(t, dc.Valid)
		assert.Equal(t, domain.Unknown, dc.Chapter)
		assert.Empty(t, dc.ChapterID)
		assert.Equal(t, domain.Unknown, dc.System)
	})

	t.Run("chapter is the category letter", func(t *testing.T) {
		// Act
		s43, t14 := snap.Resolve("S43"), snap.Resolve("T14")
		h10, h65 := snap.Resolve("H10"), snap.Resolve("H65")

		// Assert
		assert.NotEqual(t, s43.Chapter, t14.Chapter)
		assert.Equal(t, s43.ChapterID, t14.ChapterID)
		assert.Equal(t, h10.Chapter, h65.Chapter)
		assert.NotEqual(t, h10.ChapterID, h65.ChapterID)
	})
}

func TestSnapshot_BestCommonGroup(t *testing.T) {
	snap := defaultSnapshot(t)

	g, ok := snap.BestCommonGroup("A09", "K52")
	require.True(t, ok)
	assert.Equal(t, "gastrointestinal_infectious", g.ID)
	assert.Equal(t, 85.0, g.Confidence)

	_, ok = snap.BestCommonGroup("A09", "J00")
	assert.False(t, ok)
}

func TestSnapshot_RulesAreOrderInsensitive(t *testing.T) {
	snap := defaultSnapshot(t)

	r1, ok1 := snap.Exclusion("A09", "K35")
	r2, ok2 := snap.Exclusion("K35", "A09")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, r1, r2)

	d, ok := snap.Directional("I50", "I21")
	require.True(t, ok)
	assert.Equal(t, "I21", d.Origin)

	l, ok := snap.SystemLink("nervous", "Musculoskeletal")
	require.True(t, ok)
	assert.Equal(t, 75.0, l.Confidence)
}

func TestDecayTable_Factor(t *testing.T) {
	snap := defaultSnapshot(t)
	table := snap.DecayTable("acute")

	assert.Equal(t, 1.0, table.Factor(-3))
	assert.Equal(t, 1.0, table.Factor(3))
	assert.Equal(t, 0.9, table.Factor(4))
	assert.Equal(t, 0.5, table.Factor(30))
	assert.Equal(t, 0.3, table.Factor(365))

	fallback := snap.DecayTable("does-not-exist")
	assert.Equal(t, DefaultDecayTable, fallback.ID)
}

func TestSnapshot_RelatedCodes(t *testing.T) {
	snap := defaultSnapshot(t)

	related := snap.RelatedCodes("M25")
	assert.Contains(t, related, "M75")
	assert.Contains(t, related, "M17")
	assert.NotContains(t, related, "M25")
	assert.IsIncreasing(t, related)

	assert.Empty(t, snap.RelatedCodes("L40"))
}

func TestResolver_CachesPerGeneration(t *testing.T) {
	resolver, err := NewResolver(16)
	require.NoError(t, err)
	repo, err := NewRepository("", testLogger())
	require.NoError(t, err)

	first := resolver.Resolve(repo.Snapshot(), "k52.9")
	second := resolver.Resolve(repo.Snapshot(), "K52")

	assert.Equal(t, "K52", first.Canonical)
	assert.Equal(t, "k52.9", first.Raw)
	assert.Equal(t, "K52", second.Raw)
	stats := resolver.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)

	_, err = repo.Reload()
	require.NoError(t, err)
	resolver.Resolve(repo.Snapshot(), "K52")
	assert.Equal(t, int64(2), resolver.Stats().Misses)

	invalid := resolver.Resolve(repo.Snapshot(), "not-a-code")
	assert.False(t, invalid.Valid)
	assert.Equal(t, int64(1), resolver.Stats().Invalid)
}

func TestRepository_ReloadSwapsAtomically(t *testing.T) {
	dir, err := os.MkdirTemp("", "reference-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "reference.json")
	writeDocument(t, path, DefaultDocument())

	repo, err := NewRepository(path, testLogger())
	require.NoError(t, err)
	before := repo.Snapshot()

	var notified []*Snapshot
	repo.OnReload(func(s *Snapshot) { notified = append(notified, s) })

	doc := DefaultDocument()
	doc.Version = "v2"
	writeDocument(t, path, doc)

	after, err := repo.Reload()
	require.NoError(t, err)
	assert.Equal(t, "v2", repo.Snapshot().Version())
	assert.Equal(t, before.Generation()+1, after.Generation())
	assert.Len(t, notified, 1)
	// Readers holding the old snapshot are unaffected.
	assert.Equal(t, DefaultVersion, before.Version())

	require.NoError(t, os.WriteFile(path, []byte(`{"version": `), 0644))
	_, err = repo.Reload()
	assert.Error(t, err)
	assert.Equal(t, "v2", repo.Snapshot().Version())
}

func TestRepository_ConcurrentReadsDuringReload(t *testing.T) {
	repo, err := NewRepository("", testLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := repo.Snapshot()
				_, ok := snap.BestCommonGroup("A09", "K52")
				assert.True(t, ok)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		_, err := repo.Reload()
		require.NoError(t, err)
	}
	wg.Wait()
}

func TestRepository_ReplaceRejectsInvalid(t *testing.T) {
	repo, err := NewRepository("", testLogger())
	require.NoError(t, err)

	doc := DefaultDocument()
	doc.Groups[0].Confidence = -1
	_, err = repo.Replace(doc)

	assert.Error(t, err)
	assert.Equal(t, DefaultVersion, repo.Snapshot().Version())
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := Decode(bytes.NewBufferString(`{"version":"x","surprise":true}`))
	assert.Error(t, err)
}

func TestRepository_Watch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file watcher test in short mode")
	}

	dir, err := os.MkdirTemp("", "reference-watch-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "reference.json")
	writeDocument(t, path, DefaultDocument())

	repo, err := NewRepository(path, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- repo.Watch(ctx) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	doc := DefaultDocument()
	doc.Version = "watched"
	writeDocument(t, path, doc)

	require.Eventually(t, func() bool {
		return repo.Snapshot().Version() == "watched"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func writeDocument(t *testing.T, path string, doc *Document) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, doc))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}
