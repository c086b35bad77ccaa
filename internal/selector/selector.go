// Package selector derives durable CSS locators from DOM elements at capture time.
// A locator never references the element it came from; it is re-resolved against
// the live page during replay.
package selector

import (
	"fmt"
	"sort"
	"strings"
)

// Fallback is emitted when an element cannot be described.
const Fallback = ":root"

// Element is the read-only view of a DOM node the synthesizer needs.
type Element interface {
	Tag() string
	Attr(name string) (string, bool)
	Classes() []string
	// Parent returns nil at the document root.
	Parent() Element
	// SameTagSiblings returns the class lists of all element siblings sharing this
	// element's tag, in document order and including the element itself, plus the
	// element's index in that list.
	SameTagSiblings() (classLists [][]string, self int)
	// CountID returns how many elements of the document carry the given id.
	CountID(id string) int
}

type Synthesizer struct {
	TestIDAttributes []string
	VolatilePrefixes []string
	StateClasses     []string
}

var (
	DefaultTestIDAttributes = []string{"data-testid", "data-test-id", "data-test", "data-cy", "data-qa"}

	// Framework generated or state toggling class prefixes.
	DefaultVolatilePrefixes = []string{
		"is-", "has-", "ng-", "css-", "sc-", "jsx-", "svelte-", "emotion-", "styled-", "tw-",
	}

	DefaultStateClasses = []string{
		"active", "focus", "focused", "focus-visible", "hover", "selected", "disabled",
		"open", "opened", "show", "showing", "hidden", "visible", "checked",
		"expanded", "collapsed", "loading", "current",
	}
)

func Default() *Synthesizer {
	return &Synthesizer{
		TestIDAttributes: DefaultTestIDAttributes,
		VolatilePrefixes: DefaultVolatilePrefixes,
		StateClasses:     DefaultStateClasses,
	}
}

var defaultSynthesizer = Default()

// Synthesize builds a locator with the default synthesizer.
func Synthesize(el Element) string {
	return defaultSynthesizer.Synthesize(el)
}

// Synthesize returns a locator for el. It never panics; anything it cannot describe
// degrades to Fallback.
func (s *Synthesizer) Synthesize(el Element) (locator string) {
	defer func() {
		if recover() != nil {
			locator = Fallback
		}
	}()

	if el == nil {
		return Fallback
	}
	tag := strings.ToLower(el.Tag())
	if tag == "" || tag == "html" {
		return Fallback
	}

	for _, attr := range s.TestIDAttributes {
		if value, ok := el.Attr(attr); ok && value != "" {
			return "[" + attr + "=" + EscapeString(value) + "]"
		}
	}

	if id := uniqueID(el); id != "" {
		return "#" + EscapeIdent(id)
	}

	var steps []string
	first := true
	for current := el; current != nil; current = current.Parent() {
		currentTag := strings.ToLower(current.Tag())
		if currentTag == "" || currentTag == "html" {
			break
		}
		if !first {
			if id := uniqueID(current); id != "" {
				steps = append(steps, "#"+EscapeIdent(id))
				break
			}
		}
		steps = append(steps, s.step(current, currentTag))
		first = false
	}
	if len(steps) == 0 {
		return Fallback
	}

	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return strings.Join(steps, " ")
}

func uniqueID(el Element) string {
	id, ok := el.Attr("id")
	if !ok || strings.TrimSpace(id) == "" {
		return ""
	}
	if el.CountID(id) != 1 {
		return ""
	}
	return id
}

func (s *Synthesizer) step(el Element, tag string) string {
	kept := s.retained(el.Classes())

	var b strings.Builder
	b.WriteString(EscapeIdent(tag))
	for _, class := range kept {
		b.WriteByte('.')
		b.WriteString(EscapeIdent(class))
	}

	siblings, self := el.SameTagSiblings()
	if len(siblings) > 1 && self >= 0 && self < len(siblings) {
		key := classKey(kept)
		matching := 0
		for _, classes := range siblings {
			if classKey(s.retained(classes)) == key {
				matching++
			}
		}
		if matching > 1 {
			fmt.Fprintf(&b, ":nth-of-type(%d)", self+1)
		}
	}
	return b.String()
}

// retained drops volatile classes and duplicates, keeping document order.
func (s *Synthesizer) retained(classes []string) []string {
	kept := make([]string, 0, len(classes))
	seen := make(map[string]bool, len(classes))
	for _, class := range classes {
		if class == "" || seen[class] || s.volatile(class) {
			continue
		}
		seen[class] = true
		kept = append(kept, class)
	}
	return kept
}

func (s *Synthesizer) volatile(class string) bool {
	// utility variants (hover:bg-red-500, w-1/2, top-[3px])
	if strings.ContainsAny(class, ":/[") {
		return true
	}
	for _, prefix := range s.VolatilePrefixes {
		if strings.HasPrefix(class, prefix) {
			return true
		}
	}
	for _, state := range s.StateClasses {
		if class == state {
			return true
		}
	}
	return false
}

func classKey(classes []string) string {
	sorted := append([]string(nil), classes...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}
