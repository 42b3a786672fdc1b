// Package corpus defines the fixed registry of searchable corpora and the
// per-corpus parameters the ingestion and retrieval layers depend on.
package corpus

import "fmt"

// Key identifies a corpus.
type Key string

const (
	Notices  Key = "notices"
	Rules    Key = "rules"
	Schedule Key = "schedule"
	Courses  Key = "courses"
	Staff    Key = "staff"
)

// Spec carries everything that differs between corpora: source files, the
// vector collection name, chunk window shape and the metadata capabilities
// the search layer may rely on.
type Spec struct {
	Key         Key
	Collection  string
	SourceFiles []string
	ChunkFile   string
	SparseFile  string

	// WindowDivisor selects the chunk window: 0 keeps each document as a
	// single chunk, 1 uses the configured size/overlap, 2 halves both.
	WindowDivisor int
	IncludeTitle  bool

	// HasDateField marks corpora whose chunks carry a published_at usable
	// for recency scoring and date filtering.
	HasDateField bool
	// HasMajorField marks corpora filterable by major.
	HasMajorField bool

	// Description is the one-line summary shown to the routing model.
	Description string
}

var registry = []Spec{
	{
		Key:           Notices,
		Collection:    "dongguk_notices",
		SourceFiles:   []string{"dongguk_notices.csv"},
		ChunkFile:     "notices_chunks.gob",
		SparseFile:    "notices_tfidf.gob",
		WindowDivisor: 1,
		IncludeTitle:  true,
		HasDateField:  true,
		Description:   "대학 공지사항(장학, 학사, 행사, 모집 등)과 자주 묻는 질문",
	},
	{
		Key:           Rules,
		Collection:    "dongguk_rules",
		SourceFiles:   []string{"dongguk_rule_texts.csv"},
		ChunkFile:     "rules_chunks.gob",
		SparseFile:    "rules_tfidf.gob",
		WindowDivisor: 1,
		IncludeTitle:  true,
		HasDateField:  true,
		Description:   "학칙, 규정, 세칙 등 교내 규정 문서",
	},
	{
		Key:           Schedule,
		Collection:    "dongguk_schedule",
		SourceFiles:   []string{"dongguk_schedule.csv"},
		ChunkFile:     "schedule_chunks.gob",
		SparseFile:    "schedule_tfidf.gob",
		WindowDivisor: 2,
		IncludeTitle:  false,
		HasDateField:  true,
		Description:   "학사일정(수강신청, 등록, 시험, 방학 등 기간 정보)",
	},
	{
		Key:           Courses,
		Collection:    "dongguk_courses",
		SourceFiles:   []string{"dongguk_statistics_course_descriptions.csv", "dongguk_major_course.csv"},
		ChunkFile:     "courses_chunks.gob",
		SparseFile:    "courses_tfidf.gob",
		WindowDivisor: 0,
		HasMajorField: true,
		Description:   "개설 교과목 설명과 전공별 교육과정",
	},
	{
		Key:           Staff,
		Collection:    "dongguk_staff",
		SourceFiles:   []string{"dongguk_staff_contacts.csv"},
		ChunkFile:     "staff_chunks.gob",
		SparseFile:    "staff_tfidf.gob",
		WindowDivisor: 0,
		Description:   "부서별 교직원 연락처와 담당 업무",
	},
}

// All returns every corpus spec in registry order.
func All() []Spec {
	out := make([]Spec, len(registry))
	copy(out, registry)
	return out
}

// Keys returns every corpus key in registry order.
func Keys() []Key {
	keys := make([]Key, len(registry))
	for i, s := range registry {
		keys[i] = s.Key
	}
	return keys
}

// Get looks up the spec for a key.
func Get(key Key) (Spec, error) {
	for _, s := range registry {
		if s.Key == key {
			return s, nil
		}
	}
	return Spec{}, fmt.Errorf("unknown corpus %q", key)
}

// Valid reports whether key names a registered corpus.
func Valid(key Key) bool {
	_, err := Get(key)
	return err == nil
}

// Window resolves the chunk window for this corpus from the configured base
// size and overlap. A zero size means single-chunk documents.
func (s Spec) Window(size, overlap int) (int, int) {
	switch s.WindowDivisor {
	case 0:
		return 0, 0
	case 2:
		return size / 2, overlap / 2
	default:
		return size, overlap
	}
}
