package portal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gabs/internal/models"

	"golang.org/x/net/html"
)

// BookingForm holds the fields needed to replay one class's action form.
type BookingForm struct {
	Handler   string // data-request value, e.g. onBook
	ClassID   string
	Timestamp string
	Action    string // book or cancel
	Waitlist  bool   // the book action joins the waiting list
}

// ClassEntry is one class as scraped for a date: the candidate the matcher
// sees plus whatever actionable form the page offered for it.
type ClassEntry struct {
	Candidate  models.ClassCandidate
	Form       *BookingForm
	CancelForm *BookingForm
	Registered bool   // page says the user is already registered or wait-listed
	Note       string // the raw registered/wait-list message, for logs
}

// BookingSnapshot is one entry from the members-page list of currently held
// bookings.
type BookingSnapshot struct {
	ClassName  string
	Date       string // YYYY-MM-DD
	TimeOfDay  string // HH:MM
	Waitlisted bool
}

var registeredRe = regexp.MustCompile(`(?i)you are already registered|you are on the waiting list`)

func parseClassEntries(partial, date string) ([]ClassEntry, error) {
	if strings.TrimSpace(partial) == "" {
		return nil, nil
	}
	root, err := html.Parse(strings.NewReader(partial))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var entries []ClassEntry
	for _, node := range findAll(root, elemWithClass("div", "class", "grid")) {
		entry := ClassEntry{
			Candidate: models.ClassCandidate{Date: date, Remaining: -1},
		}

		if title := findFirst(node, elemWithClass("h2", "title")); title != nil {
			entry.Candidate.Name = strings.TrimSpace(text(title))
		}
		if start := findFirst(node, elemWithAttr("span", "itemprop", "startDate")); start != nil {
			entry.Candidate.StartTime = normalizeTime(strings.TrimSpace(text(start)))
		}
		for _, p := range findAll(node, elem("p")) {
			t := strings.TrimSpace(text(p))
			if strings.HasPrefix(strings.ToLower(t), "with ") {
				entry.Candidate.Instructor = strings.ReplaceAll(strings.TrimSpace(t[5:]), ".", "")
				break
			}
		}
		if rem := findFirst(node, elemWithClass("span", "remaining")); rem != nil {
			if n, err := strconv.Atoi(strings.TrimSpace(text(rem))); err == nil {
				entry.Candidate.Remaining = n
			}
		}
		if m := registeredRe.FindString(text(node)); m != "" {
			entry.Registered = true
			entry.Note = strings.TrimSpace(m)
		}

		if form := findFirst(node, hasAttrPred("form", "data-request")); form != nil {
			handler := attr(form, "data-request")
			id := inputValue(form, "id")
			ts := inputValue(form, "timestamp")
			if handler != "" && id != "" && ts != "" {
				if btn := findFirst(form, func(n *html.Node) bool {
					return n.Data == "button" && hasClass(n, "cancel")
				}); btn != nil {
					entry.CancelForm = &BookingForm{
						Handler: handler, ClassID: id, Timestamp: ts, Action: models.ActionCancel,
					}
				}
				if btn := findFirst(form, func(n *html.Node) bool {
					return n.Data == "button" && attr(n, "type") == "submit" &&
						(hasClass(n, "signup") || hasClass(n, "waitinglist"))
				}); btn != nil {
					entry.Form = &BookingForm{
						Handler: handler, ClassID: id, Timestamp: ts, Action: models.ActionBook,
						Waitlist: hasClass(btn, "waitinglist"),
					}
				}
			}
		}

		entries = append(entries, entry)
	}
	return entries, nil
}

func parseCSRFToken(page string) string {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}
	meta := findFirst(root, elemWithAttr("meta", "name", "csrf-token"))
	if meta == nil {
		return ""
	}
	return attr(meta, "content")
}

// bookingLineRe matches e.g. "Vinyasa Yoga - Monday 6th October 19:45".
var bookingLineRe = regexp.MustCompile(`(.*?)\s*-\s*(.*?)\s*(\d{2}:\d{2})`)

func parseCurrentBookings(page string, now time.Time) ([]BookingSnapshot, error) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse members page: %w", err)
	}

	container := findFirst(root, elemWithAttr("div", "id", "upcoming_bookings"))
	if container == nil {
		return nil, nil
	}

	var snapshots []BookingSnapshot
	for _, item := range findAll(container, elem("li")) {
		waitlisted := false
		full := collectText(item, func(n *html.Node) bool {
			if n.Data == "strong" && strings.Contains(text(n), "WAITINGLIST") {
				waitlisted = true
				return false
			}
			return true
		})
		full = strings.TrimSpace(full)

		m := bookingLineRe.FindStringSubmatch(full)
		if m == nil {
			continue
		}
		date, err := resolveDateText(strings.TrimSpace(m[2]), now)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, BookingSnapshot{
			ClassName:  strings.TrimSpace(m[1]),
			Date:       date,
			TimeOfDay:  m[3],
			Waitlisted: waitlisted,
		})
	}
	return snapshots, nil
}

var ordinalRe = regexp.MustCompile(`(\d+)(st|nd|rd|th)`)

// resolveDateText turns "Monday 6th October" into a concrete YYYY-MM-DD.
// The members page never shows a year; bookings are always upcoming, so a
// month that already passed rolls into next year.
func resolveDateText(s string, now time.Time) (string, error) {
	cleaned := ordinalRe.ReplaceAllString(s, "$1")
	fields := strings.Fields(cleaned)
	if len(fields) < 2 {
		return "", fmt.Errorf("unparseable date text: %q", s)
	}
	// Drop the leading weekday when present.
	if _, err := models.ParseWeekday(fields[0]); err == nil {
		fields = fields[1:]
	}
	if len(fields) < 2 {
		return "", fmt.Errorf("unparseable date text: %q", s)
	}

	parsed, err := time.Parse("2 January", fields[0]+" "+fields[1])
	if err != nil {
		return "", fmt.Errorf("unparseable date text %q: %w", s, err)
	}

	candidate := time.Date(now.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, now.Location())
	if candidate.Before(now.AddDate(0, 0, -1)) {
		candidate = candidate.AddDate(1, 0, 0)
	}
	return candidate.Format(models.DateLayout), nil
}

// normalizeTime trims "19:45:00" or " 7:45" style values down to HH:MM.
func normalizeTime(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 5 && s[2] == ':' {
		return s[:5]
	}
	if t, err := time.Parse("15:04", s); err == nil {
		return t.Format(models.TimeLayout)
	}
	if t, err := time.Parse("3:04", s); err == nil {
		return t.Format(models.TimeLayout)
	}
	return s
}

// --- small x/net/html traversal helpers ---

type nodePred func(*html.Node) bool

func elem(tag string) nodePred {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == tag }
}

func elemWithClass(tag string, classes ...string) nodePred {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != tag {
			return false
		}
		for _, c := range classes {
			if !hasClass(n, c) {
				return false
			}
		}
		return true
	}
}

func elemWithAttr(tag, key, value string) nodePred {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag && attr(n, key) == value
	}
}

func hasAttrPred(tag, key string) nodePred {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag && attr(n, key) != ""
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func findFirst(root *html.Node, pred nodePred) *html.Node {
	if pred(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func findAll(root *html.Node, pred nodePred) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if pred(n) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func text(n *html.Node) string {
	return collectText(n, func(*html.Node) bool { return true })
}

// collectText concatenates text nodes, skipping subtrees the filter rejects.
func collectText(n *html.Node, include nodePred) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode && !include(n) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func inputValue(form *html.Node, name string) string {
	input := findFirst(form, elemWithAttr("input", "name", name))
	if input == nil {
		return ""
	}
	return attr(input, "value")
}
