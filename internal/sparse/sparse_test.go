package sparse

import (
	"math"
	"path/filepath"
	"testing"
)

var sampleDocs = []string{
	"수강신청 기간 안내 수강신청",
	"장학금 신청 안내",
	"수강신청 변경 및 취소",
	"도서관 이용 안내",
}

func TestFitVocabulary(t *testing.T) {
	v := Fit(sampleDocs, 0)
	if _, ok := v.Vocabulary["수강신청"]; !ok {
		t.Error("frequent term missing from vocabulary")
	}
	if len(v.IDF) != len(v.Vocabulary) {
		t.Fatalf("idf length %d != vocab size %d", len(v.IDF), len(v.Vocabulary))
	}
	// 수강신청 appears in 3 of 4 docs, 도서관 in 1; rarer term weighs more.
	if v.IDF[v.Vocabulary["수강신청"]] >= v.IDF[v.Vocabulary["도서관"]] {
		t.Error("idf does not favor the rarer term")
	}
	// Single-rune tokens are below the length threshold.
	if _, ok := v.Vocabulary["및"]; ok {
		t.Error("single-rune token entered the vocabulary")
	}
}

func TestFitFeatureCap(t *testing.T) {
	v := Fit(sampleDocs, 3)
	if len(v.Vocabulary) != 3 {
		t.Fatalf("vocab size = %d, want 3", len(v.Vocabulary))
	}
	// The most frequent term always survives the cap.
	if _, ok := v.Vocabulary["수강신청"]; !ok {
		t.Error("top term dropped by feature cap")
	}
}

func TestTransformNormalized(t *testing.T) {
	v := Fit(sampleDocs, 0)
	vec := v.Transform("수강신청 기간 안내")
	if len(vec) == 0 {
		t.Fatal("empty vector for in-vocabulary document")
	}
	var norm float64
	for _, e := range vec {
		norm += e.Value * e.Value
	}
	if math.Abs(norm-1) > 1e-9 {
		t.Errorf("squared norm = %f, want 1", norm)
	}
	if v.Transform("zzzz qqqq") != nil {
		t.Error("out-of-vocabulary document produced entries")
	}
}

func TestScoresRowAlignment(t *testing.T) {
	m := FitModel(sampleDocs, 0)
	if m.Matrix.Len() != len(sampleDocs) {
		t.Fatalf("rows = %d, want %d", m.Matrix.Len(), len(sampleDocs))
	}
	q := m.Vectorizer.Transform("수강신청 기간")
	scores := m.Matrix.Scores(q)
	if len(scores) != len(sampleDocs) {
		t.Fatalf("scores = %d, want %d", len(scores), len(sampleDocs))
	}
	best := 0
	for i, s := range scores {
		if s < 0 || s > 1+1e-9 {
			t.Errorf("score %d = %f out of [0,1]", i, s)
		}
		if s > scores[best] {
			best = i
		}
	}
	if best != 0 {
		t.Errorf("best row = %d (%q), want 0", best, sampleDocs[best])
	}
	// Doc 3 shares no term with the query, its score must be exactly zero.
	if scores[3] != 0 {
		t.Errorf("unrelated row scored %f", scores[3])
	}
}

func TestAppendDocKeepsVocabularyFixed(t *testing.T) {
	m := FitModel(sampleDocs, 0)
	before := len(m.Vectorizer.Vocabulary)
	m.AppendDoc("기숙사 입사 안내")
	if len(m.Vectorizer.Vocabulary) != before {
		t.Error("append changed the vocabulary")
	}
	if m.Matrix.Len() != len(sampleDocs)+1 {
		t.Fatalf("rows = %d after append", m.Matrix.Len())
	}
	// The appended row scores through the shared term 안내.
	scores := m.Matrix.Scores(m.Vectorizer.Transform("안내"))
	if scores[len(scores)-1] <= 0 {
		t.Error("appended row unreachable through existing vocabulary")
	}
}

func TestCloneIsolation(t *testing.T) {
	m := FitModel(sampleDocs, 0)
	c := m.Clone()
	c.AppendDoc("새 문서 안내")
	if m.Matrix.Len() != len(sampleDocs) {
		t.Error("append on clone mutated the original")
	}
	if c.Matrix.Len() != len(sampleDocs)+1 {
		t.Error("clone did not receive the appended row")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tfidf.gob")
	m := FitModel(sampleDocs, 0)
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadModel(path)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if got.Matrix.Len() != m.Matrix.Len() {
		t.Fatalf("rows = %d, want %d", got.Matrix.Len(), m.Matrix.Len())
	}
	q := "수강신청 기간"
	want := m.Matrix.Scores(m.Vectorizer.Transform(q))
	have := got.Matrix.Scores(got.Vectorizer.Transform(q))
	for i := range want {
		if math.Abs(want[i]-have[i]) > 1e-12 {
			t.Errorf("score %d drifted: %f vs %f", i, want[i], have[i])
		}
	}
}
