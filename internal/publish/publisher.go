package publish

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/store"
)

// Config holds publisher settings.
type Config struct {
	Token      string  `yaml:"token" mapstructure:"token"`
	DatabaseID string  `yaml:"database_id" mapstructure:"database_id"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Limit      int     `yaml:"limit" mapstructure:"limit"`
}

// Report summarizes one publish pass.
type Report struct {
	Published int `json:"published"`
	Failed    int `json:"failed"`
}

// Describe returns a short human summary for CLI output.
func (r *Report) Describe() string {
	return fmt.Sprintf("%d published, %d failed", r.Published, r.Failed)
}

// Publisher creates one Notion page per provider with generated content and
// records the external page id on success.
type Publisher struct {
	store  store.Store
	client Client
	cfg    Config
}

// NewPublisher creates a Publisher with the given collaborators.
func NewPublisher(st store.Store, client Client, cfg Config) *Publisher {
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	return &Publisher{store: st, client: client, cfg: cfg}
}

// Publish pushes providers in content_generated status. A provider only
// advances to published after its page exists, so a failed create leaves it
// eligible for the next pass; one provider's failure never aborts the pass.
func (p *Publisher) Publish(ctx context.Context) (*Report, error) {
	providers, err := p.store.ListProviders(ctx, store.ProviderFilter{
		Status: model.StatusContentGenerated,
		Limit:  p.cfg.Limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "publish: list providers")
	}

	report := &Report{}
	log := zap.L().With(zap.String("database_id", p.cfg.DatabaseID))
	log.Info("publish pass starting", zap.Int("pending", len(providers)))

	for i := range providers {
		if ctx.Err() != nil {
			break
		}
		prov := &providers[i]

		page, err := p.client.CreatePage(ctx, p.pageRequest(prov))
		if err != nil {
			report.Failed++
			log.Warn("page create failed",
				zap.String("provider_id", prov.ID),
				zap.Error(err),
			)
			continue
		}
		if err := p.store.MarkPublished(ctx, prov.ID, string(page.ID)); err != nil {
			return report, eris.Wrap(err, "publish: mark published")
		}
		report.Published++
	}

	log.Info("publish pass finished",
		zap.Int("published", report.Published),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// pageRequest maps a provider to a Notion page: identity fields as database
// properties, generated prose as page body blocks.
func (p *Publisher) pageRequest(prov *model.Provider) *notionapi.PageCreateRequest {
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(prov.Name),
		},
	}
	if prov.Address != "" {
		props["Address"] = notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(prov.Address),
		}
	}
	if prov.Phone != "" {
		props["Phone"] = notionapi.PhoneNumberProperty{
			Type:        notionapi.PropertyTypePhoneNumber,
			PhoneNumber: prov.Phone,
		}
	}
	if prov.Website != "" {
		props["Website"] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  prov.Website,
		}
	}
	if prov.Rating > 0 {
		props["Rating"] = notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: prov.Rating,
		}
	}

	var children []notionapi.Block
	if prov.Content.Title != "" {
		children = append(children, headingBlock(prov.Content.Title))
	}
	if prov.Content.Description != "" {
		children = append(children, paragraphBlock(prov.Content.Description))
	}
	if prov.Content.Highlights != "" {
		children = append(children, paragraphBlock("Highlights: "+prov.Content.Highlights))
	}

	return &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(p.cfg.DatabaseID),
		},
		Properties: props,
		Children:   children,
	}
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
	}
}

func paragraphBlock(s string) notionapi.Block {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{RichText: richText(s)},
	}
}

func headingBlock(s string) notionapi.Block {
	return &notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeHeading2,
		},
		Heading2: notionapi.Heading{RichText: richText(s)},
	}
}
