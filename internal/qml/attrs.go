package qml

import (
	"strconv"
	"strings"

	"github.com/pavelanni/mdquiz/internal/model"
)

type attrItem struct {
	key   string
	value string
	bare  bool
	trait bool
	col   int
}

// splitAttrs tokenizes the inside of a {...} segment. col is the column of
// the first byte of inner. Items after a "traits:" prefix are trait deltas
// unless their key is one of known.
func splitAttrs(inner string, line, col int, known map[string]bool) ([]attrItem, *ParseError) {
	var items []attrItem
	traitMode := false
	offset := 0
	for _, part := range strings.Split(inner, ",") {
		partCol := col + offset + (len(part) - len(strings.TrimLeft(part, " \t")))
		offset += len(part) + 1
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(item, "traits:"); ok {
			traitMode = true
			item = strings.TrimSpace(rest)
			partCol += len("traits:")
			if item == "" {
				return nil, errorAt(ErrMalformedAttr, line, partCol, "empty traits list")
			}
		}
		k, v, hasEq := strings.Cut(item, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		switch {
		case !hasEq:
			items = append(items, attrItem{key: k, bare: true, col: partCol})
		case k == "":
			return nil, errorAt(ErrMalformedAttr, line, partCol, "attribute %q has no name", item)
		case traitMode && !known[k]:
			items = append(items, attrItem{key: k, value: v, trait: true, col: partCol})
		default:
			items = append(items, attrItem{key: k, value: v, col: partCol})
		}
	}
	return items, nil
}

func traitValue(it attrItem, line int) (int, *ParseError) {
	n, err := strconv.Atoi(it.value)
	if err != nil {
		return 0, errorAt(ErrMalformedAttr, line, it.col, "trait %q needs an integer delta, got %q", it.key, it.value)
	}
	return n, nil
}

type headingAttrs struct {
	partial *bool
	media   string
	max     *int
	traits  model.Traits
}

var headingKeys = map[string]bool{"partial": true, "media": true, "max": true}

func parseHeadingAttrs(inner string, line, col int) (headingAttrs, *ParseError) {
	var out headingAttrs
	items, perr := splitAttrs(inner, line, col, headingKeys)
	if perr != nil {
		return out, perr
	}
	seen := map[string]bool{}
	for _, it := range items {
		if it.trait {
			n, perr := traitValue(it, line)
			if perr != nil {
				return out, perr
			}
			if out.traits == nil {
				out.traits = model.Traits{}
			}
			out.traits[it.key] = n
			continue
		}
		if seen[it.key] {
			return out, errorAt(ErrMalformedAttr, line, it.col, "duplicate attribute %q", it.key)
		}
		seen[it.key] = true
		switch {
		case it.key == "partial" && it.bare:
			v := true
			out.partial = &v
		case it.key == "partial":
			v, err := strconv.ParseBool(it.value)
			if err != nil {
				return out, errorAt(ErrMalformedAttr, line, it.col, "partial must be true or false, got %q", it.value)
			}
			out.partial = &v
		case it.key == "media" && !it.bare && it.value != "":
			out.media = it.value
		case it.key == "max" && !it.bare:
			n, err := strconv.Atoi(it.value)
			if err != nil || n <= 0 {
				return out, errorAt(ErrMalformedAttr, line, it.col, "max must be a positive integer, got %q", it.value)
			}
			out.max = &n
		default:
			return out, errorAt(ErrMalformedAttr, line, it.col, "unknown heading attribute %q", it.key)
		}
	}
	return out, nil
}

type optionAttrs struct {
	traits model.Traits
	points *int
}

var optionKeys = map[string]bool{"points": true}

func parseOptionAttrs(inner string, line, col int) (optionAttrs, *ParseError) {
	var out optionAttrs
	items, perr := splitAttrs(inner, line, col, optionKeys)
	if perr != nil {
		return out, perr
	}
	for _, it := range items {
		switch {
		case it.trait:
			n, perr := traitValue(it, line)
			if perr != nil {
				return out, perr
			}
			if out.traits == nil {
				out.traits = model.Traits{}
			}
			out.traits[it.key] = n
		case it.key == "points" && !it.bare:
			if out.points != nil {
				return out, errorAt(ErrMalformedAttr, line, it.col, "duplicate attribute %q", it.key)
			}
			n, err := strconv.Atoi(it.value)
			if err != nil {
				return out, errorAt(ErrMalformedAttr, line, it.col, "points must be an integer, got %q", it.value)
			}
			out.points = &n
		default:
			return out, errorAt(ErrMalformedAttr, line, it.col, "unknown option attribute %q", it.key)
		}
	}
	return out, nil
}

// trailingAttrs splits "text {traits:...}" into text and the segment inside
// the braces. Only segments starting with traits or points are attributes;
// any other trailing braces stay part of the text. col is the 1-based column
// where s starts. attrCol is the column of the segment's first inner byte.
func trailingAttrs(s string, col int) (text, inner string, attrCol int, ok bool) {
	trimmed := strings.TrimRight(s, " \t")
	if !strings.HasSuffix(trimmed, "}") {
		return s, "", 0, false
	}
	open := strings.LastIndex(trimmed, "{")
	if open < 0 {
		return s, "", 0, false
	}
	inner = trimmed[open+1 : len(trimmed)-1]
	head := strings.TrimSpace(inner)
	if !strings.HasPrefix(head, "traits") && !strings.HasPrefix(head, "points") {
		return s, "", 0, false
	}
	return strings.TrimRight(trimmed[:open], " \t"), inner, col + open + 1, true
}
