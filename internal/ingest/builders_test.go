package ingest

import (
	"strings"
	"testing"

	"github.com/renux/dongrag/internal/preprocess"
)

func TestBuildNotices(t *testing.T) {
	rows := []map[string]string{
		{
			"게시판":   "일반공지",
			"제목":    "수강신청 안내",
			"카테고리":  "학사",
			"게시일":   "2024.05.15",
			"상단고정":  "1",
			"상세URL": "https://example.ac.kr/1",
			"본문":    "<p>수강신청은 <b>5월</b>에 진행됩니다.</p>",
			"첨부파일":  "일정표.pdf",
		},
		{"제목": ""},
	}
	notices, docs := buildNotices(rows)
	if len(notices) != 1 || len(docs) != 1 {
		t.Fatalf("rows = %d/%d, want 1/1 (untitled row skipped)", len(notices), len(docs))
	}
	n := notices[0]
	if n.PublishedAt != "2024-05-15" {
		t.Errorf("published = %q, want canonical form", n.PublishedAt)
	}
	if !n.Pinned {
		t.Error("상단고정=1 not parsed as pinned")
	}
	if strings.Contains(n.Content, "<") {
		t.Errorf("content keeps html: %q", n.Content)
	}
	d := docs[0]
	if !strings.HasPrefix(d.Text, "[게시판: 일반공지]") {
		t.Errorf("doc text missing board prefix: %q", d.Text)
	}
	if d.DocID != preprocess.MakeDocID("수강신청 안내", "일반공지", "2024-05-15") {
		t.Error("doc id not derived from title, board and date")
	}
}

func TestBuildSchedule(t *testing.T) {
	rows := []map[string]string{
		{"구분": "학사", "내용": "1학기 기말고사", "주관부서": "학사지원팀", "start": "2024-06-17", "end": "2024-06-21"},
		{"구분": "학사", "내용": "수강신청 (주관부서: 교무팀)", "start": "2024-08-01", "end": "2024-08-05"},
	}
	entries, docs := buildSchedule(rows)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[1].Department != "교무팀" {
		t.Errorf("inline department = %q, want 교무팀", entries[1].Department)
	}
	if docs[0].PublishedAt != "2024-06-17" {
		t.Errorf("published_at = %q, want start date", docs[0].PublishedAt)
	}
	if !strings.Contains(docs[0].Text, "기간: 2024-06-17 ~ 2024-06-21") {
		t.Errorf("doc text missing period line: %q", docs[0].Text)
	}
	if !strings.HasPrefix(docs[0].Text, "학사일정: 1학기 기말고사") {
		t.Errorf("doc text missing calendar prefix: %q", docs[0].Text)
	}
}

func TestBuildRules(t *testing.T) {
	rows := []map[string]string{
		{"filename": "학칙.txt", "relative_dir": "규정/학사", "text": "제1조 (목적) 이 학칙은"},
		{"filename": "빈문서.txt", "text": ""},
	}
	rules, docs := buildRules(rows)
	if len(rules) != 1 {
		t.Fatalf("rules = %d, want 1 (empty text skipped)", len(rules))
	}
	if docs[0].Title != "학칙" {
		t.Errorf("title = %q, want extension stripped", docs[0].Title)
	}
	if docs[0].DocID != preprocess.MakeDocID("학칙.txt", "규정/학사") {
		t.Error("doc id not derived from filename and dir")
	}
}

func TestBuildCourses(t *testing.T) {
	rows := []map[string]string{
		{"교과목명": "회귀분석", "설명": "선형모형의 기초를 다룬다", "전공": "통계학과"},
		{"name": "Machine Learning", "description": "지도학습 개론", "major": "통계학과"},
	}
	courses, docs := buildCourses(rows)
	if len(courses) != 2 {
		t.Fatalf("courses = %d, want 2 (alias headers accepted)", len(courses))
	}
	if docs[0].Major != "통계학과" {
		t.Errorf("major = %q", docs[0].Major)
	}
	if !strings.HasPrefix(docs[0].Text, "회귀분석 (통계학과)") {
		t.Errorf("doc text = %q", docs[0].Text)
	}
}

func TestBuildStaff(t *testing.T) {
	rows := []map[string]string{
		{"부서": "학사지원팀", "이름": "김철수", "직위": "팀장", "담당업무": "수강신청 총괄", "전화번호": "02-1234-5678", "이메일": "kim@example.ac.kr"},
	}
	members, docs := buildStaff(rows)
	if len(members) != 1 {
		t.Fatalf("members = %d, want 1", len(members))
	}
	text := docs[0].Text
	for _, want := range []string{"부서: 학사지원팀", "이름: 김철수", "담당업무: 수강신청 총괄", "전화번호: 02-1234-5678"} {
		if !strings.Contains(text, want) {
			t.Errorf("doc text missing %q: %q", want, text)
		}
	}
}
