package references

import (
	"regexp"
	"sort"
	"strings"
)

var (
	linkPattern     = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|([^\[\]]+))?\]\]`)
	templatePattern = regexp.MustCompile(`\{\{([^{}|]+)(?:\|([^{}]*))?\}\}`)
)

// Match is one reference found in a text. Offset and Length are byte
// positions in the text the match was scanned from.
type Match struct {
	Offset int
	Length int
	Target string
	// Label is the text after the pipe: the display label of a link or the
	// unused parameter of a template.
	Label string
}

// ScanLinks finds every [[target]] and [[target|label]] in text.
func ScanLinks(text string) []Match {
	return scan(linkPattern, text)
}

// ScanTemplates finds every {{name}} and {{name|param}} in text.
func ScanTemplates(text string) []Match {
	return scan(templatePattern, text)
}

func scan(re *regexp.Regexp, text string) []Match {
	var out []Match
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		m := Match{
			Offset: loc[0],
			Length: loc[1] - loc[0],
			Target: strings.TrimSpace(text[loc[2]:loc[3]]),
		}
		if loc[4] >= 0 {
			m.Label = strings.TrimSpace(text[loc[4]:loc[5]])
		}
		out = append(out, m)
	}
	return out
}

type replacement struct {
	offset int
	length int
	text   string
}

// splice applies replacements from the highest offset down so that offsets
// of the ones still pending stay valid.
func splice(text string, reps []replacement) string {
	sort.SliceStable(reps, func(i, j int) bool { return reps[i].offset > reps[j].offset })
	for _, r := range reps {
		text = text[:r.offset] + r.text + text[r.offset+r.length:]
	}
	return text
}

// Request is a single page request found in a chat message.
type Request struct {
	// Prefix selects a wiki explicitly. Empty means the caller decides.
	Prefix string
	// Name is the page name, optionally with a "#Section" suffix.
	Name string
	// Template is true for {{...}} requests and false for [[...]] ones.
	Template bool
}

// ParseRequest finds the first {{[prefix:]Page}} or [[[prefix:]Page]] request
// in text. A leading "prefix:" is only split off when it is one of prefixes;
// otherwise it stays part of the page name.
func ParseRequest(text string, prefixes []string) (Request, bool) {
	re := requestPattern(prefixes)
	m := re.FindStringSubmatchIndex(text)
	if m == nil {
		return Request{}, false
	}
	group := func(name string) string {
		i := re.SubexpIndex(name)
		if i < 0 || m[2*i] < 0 {
			return ""
		}
		return text[m[2*i]:m[2*i+1]]
	}
	req := Request{Prefix: group("tprefix"), Name: group("template")}
	if idx := re.SubexpIndex("template"); m[2*idx] >= 0 {
		req.Template = true
	} else {
		req.Prefix = group("lprefix")
		req.Name = group("link")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return Request{}, false
	}
	return req, true
}

func requestPattern(prefixes []string) *regexp.Regexp {
	quoted := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p != "" {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
	}
	prefix := func(name string) string {
		if len(quoted) == 0 {
			return ""
		}
		return `(?:(?P<` + name + `>` + strings.Join(quoted, "|") + `):)?`
	}
	return regexp.MustCompile(
		`\{\{` + prefix("tprefix") + `(?P<template>[^{}|]+)(?:\|[^{}]*)?\}\}` +
			`|\[\[` + prefix("lprefix") + `(?P<link>[^\[\]|]+)(?:\|[^\[\]]*)?\]\]`,
	)
}
