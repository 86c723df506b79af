package nameparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCourseFilename(t *testing.T) {
	md := Parse("CS101_Lecture_Notes_2023-09-12.pdf")

	assert.Equal(t, "CS101", md.CourseCode)
	assert.Equal(t, "2023-09-12", md.Date)
	assert.Equal(t, "lecture", md.DocType)
	assert.Contains(t, md.Keywords, "notes")
}

func TestParseDateShapes(t *testing.T) {
	cases := map[string]string{
		"report_2024-01-05.txt": "2024-01-05",
		"report_2024.1.5.txt":   "2024-01-05",
		"scan_05-01-2024.pdf":   "2024-05-01", // month-first when plausible
		"scan_25-12-2024.pdf":   "2024-12-25", // day-first when 25 cannot be a month
		"photos_2019.zip":       "2019",
	}
	for name, want := range cases {
		assert.Equal(t, want, Parse(name).Date, name)
	}
}

func TestParseDocTypes(t *testing.T) {
	cases := map[string]string{
		"hw3_solutions.py":          "assignment",
		"midterm_review.md":         "exam",
		"invoice_march.pdf":         "invoice",
		"resume_final.docx":         "resume", // "resume" token seen before "final"
		"screenshot 2024-05-01.png": "screenshot",
		"random_thing.bin":          "",
	}
	for name, want := range cases {
		assert.Equal(t, want, Parse(name).DocType, name)
	}
}

func TestParseKeywords(t *testing.T) {
	md := Parse("The_Quarterly_Budget_draft_v2.xlsx")
	assert.Contains(t, md.Keywords, "quarterly")
	assert.Contains(t, md.Keywords, "budget")
	assert.NotContains(t, md.Keywords, "the")
	assert.NotContains(t, md.Keywords, "draft")
	assert.NotContains(t, md.Keywords, "v2")
}

func TestParseNoCourseCodeInPlainYear(t *testing.T) {
	md := Parse("file2023.txt")
	assert.Empty(t, md.CourseCode)
}

func TestParseFullPathUsesBase(t *testing.T) {
	md := Parse("/home/u/SortMe/MATH221_hw1.pdf")
	assert.Equal(t, "MATH221", md.CourseCode)
	assert.Equal(t, "assignment", md.DocType)
}
