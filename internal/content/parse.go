package content

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/model"
)

var (
	markerRe      = regexp.MustCompile(`\[\[PROVIDER:([^\]\s]+)\]\]`)
	placeholderRe = regexp.MustCompile(`\{\{[^}]*\}\}`)
)

// parseBatch splits a generator response into one content block per expected
// provider id, matched by the echoed [[PROVIDER:<id>]] markers. Any deviation
// from the expected shape, a missing id, a duplicate marker, an unknown id,
// or the wrong block count, fails the whole batch rather than guessing
// alignment.
func parseBatch(raw string, expected []string) (map[string]model.ContentFields, error) {
	matches := markerRe.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) != len(expected) {
		return nil, eris.Errorf("content: expected %d blocks, response has %d markers", len(expected), len(matches))
	}

	want := make(map[string]bool, len(expected))
	for _, id := range expected {
		want[id] = true
	}

	blocks := make(map[string]model.ContentFields, len(expected))
	for i, m := range matches {
		id := raw[m[2]:m[3]]
		if !want[id] {
			return nil, eris.Errorf("content: response echoed unknown provider id %s", id)
		}
		if _, dup := blocks[id]; dup {
			return nil, eris.Errorf("content: response echoed provider id %s twice", id)
		}

		end := len(raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		blocks[id] = parseFields(raw[m[1]:end])
	}
	return blocks, nil
}

// parseFields reads the labeled lines of one block. Unlabeled continuation
// lines accumulate onto the current field so multi-line descriptions survive.
func parseFields(block string) model.ContentFields {
	var fields model.ContentFields
	var current *string

	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Title:"):
			fields.Title = strings.TrimSpace(strings.TrimPrefix(trimmed, "Title:"))
			current = &fields.Title
		case strings.HasPrefix(trimmed, "Description:"):
			fields.Description = strings.TrimSpace(strings.TrimPrefix(trimmed, "Description:"))
			current = &fields.Description
		case strings.HasPrefix(trimmed, "Highlights:"):
			fields.Highlights = strings.TrimSpace(strings.TrimPrefix(trimmed, "Highlights:"))
			current = &fields.Highlights
		case trimmed == "" || current == nil:
			// skip blank lines and any preamble before the first label
		default:
			*current = strings.TrimSpace(*current + " " + trimmed)
		}
	}
	return fields
}

// checkFields applies the per-block sanity checks: content must be present,
// free of template placeholder residue, and the prose fields must be in the
// working language. A non-nil error is the member's retry (or failure) reason.
func checkFields(fields model.ContentFields) error {
	if fields.Title == "" || fields.Description == "" {
		return eris.New("content: empty required field")
	}
	for _, text := range []string{fields.Title, fields.Description, fields.Highlights} {
		if placeholderRe.MatchString(text) {
			return eris.New("content: template placeholder residue")
		}
	}
	// Titles may carry the provider's own name; only the prose fields must
	// be in the working language.
	for _, text := range []string{fields.Description, fields.Highlights} {
		if hasForeignScript(text) {
			return eris.New("content: foreign-script text in prose field")
		}
	}
	return nil
}

// hasForeignScript reports whether s contains a run of two or more
// consecutive non-Latin letters. A single stray character is tolerated;
// a run means the generator drifted out of the working language.
func hasForeignScript(s string) bool {
	run := 0
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			run++
			if run >= 2 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}
