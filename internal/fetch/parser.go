package fetch

import (
	"bytes"
	"fmt"

	"github.com/mmcdole/gofeed"

	"feedsync/internal/domain"
)

// ParsedFeed is the format-agnostic result of parsing a feed body. RSS, Atom
// and JSON Feed all unify into this one shape before reconciliation.
type ParsedFeed struct {
	Title string
	Items []domain.Item
}

// Parser normalizes feed bodies into domain items.
type Parser struct {
	parser *gofeed.Parser
}

// NewParser creates a new Parser instance
func NewParser() *Parser {
	return &Parser{
		parser: gofeed.NewParser(),
	}
}

// Parse normalizes a fetched body. Items without any usable dedup key
// (no guid and no link) are dropped; everything else passes through.
func (p *Parser) Parse(body []byte) (*ParsedFeed, error) {
	parsed, err := p.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	result := &ParsedFeed{
		Title: parsed.Title,
		Items: make([]domain.Item, 0, len(parsed.Items)),
	}

	for _, item := range parsed.Items {
		if item.GUID == "" && item.Link == "" {
			continue
		}

		content := item.Content
		if content == "" {
			content = item.Description
		}

		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}

		result.Items = append(result.Items, domain.Item{
			GUID:        item.GUID,
			Title:       item.Title,
			URL:         item.Link,
			Content:     content,
			PublishedAt: published,
		})
	}

	return result, nil
}
