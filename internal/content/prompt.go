package content

import (
	"fmt"
	"strings"

	"github.com/sells-group/intake-cli/internal/model"
)

const systemPrompt = `You write listing content for a healthcare provider directory.

For EACH provider below, output exactly one block in this shape:

[[PROVIDER:<id>]]
Title: <concise listing title, at most 80 characters>
Description: <two to four sentences describing the provider for patients>
Highlights: <comma-separated list of three to five notable strengths>

Rules:
- Echo each [[PROVIDER:<id>]] marker exactly as given, one block per provider, in the order given.
- Write in English only.
- Use only the facts provided. Never invent addresses, phone numbers, or credentials.
- No text before the first marker and no text after the last block.`

// buildBatchPrompt renders the user prompt for one batch. Each member's
// identifying context sits under its own marker so the generator can echo
// the markers back for attribution.
func buildBatchPrompt(providers []model.Provider) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate listing content for the following %d providers.\n", len(providers))
	for i := range providers {
		b.WriteString("\n")
		b.WriteString(providerContext(&providers[i]))
	}
	return b.String()
}

func providerContext(p *model.Provider) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[[PROVIDER:%s]]\n", p.ID)
	fmt.Fprintf(&b, "Name: %s\n", p.Name)
	if p.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", p.Address)
	}
	if p.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", p.Phone)
	}
	if p.Website != "" {
		fmt.Fprintf(&b, "Website: %s\n", p.Website)
	}
	if p.Rating > 0 {
		fmt.Fprintf(&b, "Rating: %.1f (%d reviews)\n", p.Rating, p.ReviewCount)
	}
	if p.Hours != "" {
		fmt.Fprintf(&b, "Hours: %s\n", p.Hours)
	}
	return b.String()
}
