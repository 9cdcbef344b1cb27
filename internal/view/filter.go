// Package view derives what a thread view shows: search and lecture filters
// and the deep-link focus target.
package view

import (
	"sort"
	"strings"

	"github.com/UkralStul/lesson-qa-sync/internal/qa"
)

// AllLectures disables the lecture filter.
const AllLectures = "All lectures"

// MatchesQuery reports whether the question's title, excerpt or body contains
// query, ignoring case. An empty query matches everything.
func MatchesQuery(q qa.Question, query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return true
	}
	haystack := strings.ToLower(q.Title + " " + q.Excerpt + " " + q.Body)
	return strings.Contains(haystack, strings.ToLower(query))
}

// MatchesLecture reports whether the question belongs to the selected lecture.
func MatchesLecture(q qa.Question, lecture string) bool {
	return lecture == "" || lecture == AllLectures || q.Lecture == lecture
}

// Filter returns the questions matching both filters, in their original order.
// The input is not modified.
func Filter(questions []qa.Question, query, lecture string) []qa.Question {
	out := make([]qa.Question, 0, len(questions))
	for _, q := range questions {
		if MatchesLecture(q, lecture) && MatchesQuery(q, query) {
			out = append(out, q)
		}
	}
	return out
}

// Lectures lists the distinct lecture labels, sorted, preceded by AllLectures.
func Lectures(questions []qa.Question) []string {
	seen := make(map[string]struct{})
	var labels []string
	for _, q := range questions {
		if q.Lecture == "" {
			continue
		}
		if _, ok := seen[q.Lecture]; ok {
			continue
		}
		seen[q.Lecture] = struct{}{}
		labels = append(labels, q.Lecture)
	}
	sort.Strings(labels)
	return append([]string{AllLectures}, labels...)
}
