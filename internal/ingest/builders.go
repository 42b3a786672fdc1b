package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/renux/dongrag/internal/preprocess"
	"github.com/renux/dongrag/internal/repository"
)

// field returns the first non-empty value among the aliases a column may be
// named under in the source CSVs.
func field(row map[string]string, aliases ...string) string {
	for _, a := range aliases {
		if v := strings.TrimSpace(row[a]); v != "" {
			return v
		}
	}
	return ""
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "y", "yes", "o":
		return true
	}
	return false
}

func buildNotices(rows []map[string]string) ([]repository.Notice, []preprocess.Document) {
	var (
		notices []repository.Notice
		docs    []preprocess.Document
	)
	for _, row := range rows {
		title := field(row, "제목", "title")
		if title == "" {
			continue
		}
		board := field(row, "게시판", "board")
		published := preprocess.StandardizeDate(field(row, "게시일", "published_at", "date"))
		body := preprocess.NormalizeWhitespace(preprocess.StripHTML(field(row, "본문", "content", "body")))
		text := body
		if board != "" {
			text = fmt.Sprintf("[게시판: %s]\n\n%s", board, body)
		}
		notices = append(notices, repository.Notice{
			Board:       board,
			Title:       title,
			Category:    field(row, "카테고리", "category"),
			PublishedAt: published,
			Pinned:      isTruthy(field(row, "상단고정", "pinned")),
			URL:         field(row, "상세URL", "url"),
			Content:     body,
			Attachments: field(row, "첨부파일", "attachments"),
			Origin:      repository.OriginAuto,
		})
		docs = append(docs, preprocess.Document{
			DocID:       preprocess.MakeDocID(title, board, published),
			Title:       title,
			Text:        text,
			Topics:      field(row, "카테고리", "category"),
			PublishedAt: published,
			URL:         field(row, "상세URL", "url"),
			Attachments: field(row, "첨부파일", "attachments"),
			Source:      "notices",
		})
	}
	return notices, docs
}

func buildRules(rows []map[string]string) ([]repository.Rule, []preprocess.Document) {
	var (
		rules []repository.Rule
		docs  []preprocess.Document
	)
	for _, row := range rows {
		filename := field(row, "filename", "파일명")
		text := field(row, "text", "본문", "내용")
		if filename == "" || text == "" {
			continue
		}
		dir := field(row, "relative_dir", "경로")
		title := strings.TrimSuffix(filename, ".txt")
		rules = append(rules, repository.Rule{
			Filename:    filename,
			RelativeDir: dir,
			Text:        text,
		})
		docs = append(docs, preprocess.Document{
			DocID:  preprocess.MakeDocID(filename, dir),
			Title:  title,
			Text:   preprocess.NormalizeWhitespace(text),
			Topics: dir,
			Source: "rules",
		})
	}
	return rules, docs
}

// scheduleDeptPattern extracts the organizing department when the source row
// only carries it inline in the content column.
var scheduleDeptPattern = regexp.MustCompile(`\(주관부서[:：]\s*([^)]+)\)`)

func buildSchedule(rows []map[string]string) ([]repository.ScheduleEntry, []preprocess.Document) {
	var (
		entries []repository.ScheduleEntry
		docs    []preprocess.Document
	)
	for _, row := range rows {
		title := field(row, "내용", "title")
		if title == "" {
			continue
		}
		start := preprocess.StandardizeDate(field(row, "start", "시작일"))
		end := preprocess.StandardizeDate(field(row, "end", "종료일"))
		dept := field(row, "주관부서", "department")
		if dept == "" {
			if m := scheduleDeptPattern.FindStringSubmatch(title); m != nil {
				dept = strings.TrimSpace(m[1])
			}
		}

		var b strings.Builder
		fmt.Fprintf(&b, "학사일정: %s", title)
		if dept != "" {
			fmt.Fprintf(&b, "\n주관부서: %s", dept)
		}
		if start != "" || end != "" {
			fmt.Fprintf(&b, "\n기간: %s ~ %s", start, end)
		}

		entries = append(entries, repository.ScheduleEntry{
			Category:   field(row, "구분", "category"),
			Title:      title,
			Department: dept,
			StartDate:  start,
			EndDate:    end,
		})
		docs = append(docs, preprocess.Document{
			DocID:       preprocess.MakeDocID(title, start),
			Title:       title,
			Text:        b.String(),
			Topics:      field(row, "구분", "category"),
			PublishedAt: start,
			UpdatedAt:   end,
			Source:      "schedule",
		})
	}
	return entries, docs
}

func buildCourses(rows []map[string]string) ([]repository.Course, []preprocess.Document) {
	var (
		courses []repository.Course
		docs    []preprocess.Document
	)
	for _, row := range rows {
		name := field(row, "교과목명", "과목명", "name", "course_name")
		if name == "" {
			continue
		}
		desc := field(row, "설명", "개요", "description")
		major := field(row, "전공", "학과", "major")

		var b strings.Builder
		b.WriteString(name)
		if major != "" {
			fmt.Fprintf(&b, " (%s)", major)
		}
		if desc != "" {
			b.WriteString("\n")
			b.WriteString(preprocess.NormalizeWhitespace(desc))
		}

		courses = append(courses, repository.Course{
			Name:        name,
			Description: desc,
			Major:       major,
		})
		docs = append(docs, preprocess.Document{
			DocID:  preprocess.MakeDocID(name, major),
			Title:  name,
			Text:   b.String(),
			Topics: major,
			Source: "courses",
			Major:  major,
		})
	}
	return courses, docs
}

func buildStaff(rows []map[string]string) ([]repository.StaffMember, []preprocess.Document) {
	var (
		members []repository.StaffMember
		docs    []preprocess.Document
	)
	for _, row := range rows {
		name := field(row, "이름", "성명", "name")
		if name == "" {
			continue
		}
		dept := field(row, "부서", "소속", "department")
		position := field(row, "직위", "직급", "position")
		duties := field(row, "담당업무", "업무", "duties")
		phone := field(row, "전화번호", "연락처", "phone")
		email := field(row, "이메일", "email")

		var b strings.Builder
		fmt.Fprintf(&b, "부서: %s\n이름: %s", dept, name)
		if position != "" {
			fmt.Fprintf(&b, "\n직위: %s", position)
		}
		if duties != "" {
			fmt.Fprintf(&b, "\n담당업무: %s", duties)
		}
		if phone != "" {
			fmt.Fprintf(&b, "\n전화번호: %s", phone)
		}
		if email != "" {
			fmt.Fprintf(&b, "\n이메일: %s", email)
		}

		members = append(members, repository.StaffMember{
			Department: dept,
			Name:       name,
			Position:   position,
			Duties:     duties,
			Phone:      phone,
			Email:      email,
		})
		docs = append(docs, preprocess.Document{
			DocID:  preprocess.MakeDocID(dept, name, phone),
			Title:  fmt.Sprintf("%s %s", dept, name),
			Text:   b.String(),
			Topics: dept,
			Source: "staff",
		})
	}
	return members, docs
}
