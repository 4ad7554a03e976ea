package headless

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/mentionwatch/mentionwatch/internal/hash/sha256"
	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

type extractSpec struct {
	itemSelector    string
	contentSelector string
	authorSelector  string
	engagementAttr  string
	pageURL         string
	maxResults      int
	logger          *zap.Logger
}

// extractItems parses rendered HTML with the configured selectors. A page
// that renders but matches no items signals selector drift; individual
// malformed items are skipped so one bad node never drops the batch.
func extractItems(spec extractSpec, html string) ([]monitor.CandidateRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse rendered html: %w", err)
	}
	if spec.logger == nil {
		spec.logger = zap.NewNop()
	}

	selection := doc.Find(spec.itemSelector)
	if selection.Length() == 0 {
		return nil, fmt.Errorf("item selector %q matched nothing in rendered page: %w",
			spec.itemSelector, monitor.ErrSelectorMismatch)
	}

	hasher := sha256.New()
	var records []monitor.CandidateRecord
	selection.Each(func(i int, item *goquery.Selection) {
		if spec.maxResults > 0 && len(records) >= spec.maxResults {
			return
		}

		content := strings.TrimSpace(item.Text())
		if spec.contentSelector != "" {
			if sel := item.Find(spec.contentSelector); sel.Length() > 0 {
				content = strings.TrimSpace(sel.First().Text())
			}
		}
		if content == "" {
			spec.logger.Debug("skip rendered item without content", zap.Int("index", i))
			return
		}

		author := "unknown"
		if spec.authorSelector != "" {
			if sel := item.Find(spec.authorSelector); sel.Length() > 0 {
				if name := strings.TrimSpace(sel.First().Text()); name != "" {
					author = name
				}
			}
		}

		itemURL := spec.pageURL
		if href, ok := item.Find("a[href]").First().Attr("href"); ok && href != "" {
			itemURL = href
		}

		externalID, ok := item.Attr("data-id")
		if !ok || externalID == "" {
			externalID = hasher.Hash([]byte(itemURL + "|" + content))
		}

		records = append(records, monitor.CandidateRecord{
			Source:     monitor.SourceBrowser,
			ExternalID: externalID,
			Author:     author,
			Content:    content,
			URL:        itemURL,
			Engagement: parseEngagement(item, spec.engagementAttr),
		})
	})
	return records, nil
}

// parseEngagement reads a compact interaction count off the item when the
// target exposes one. Parsed values are still estimates: a "1.2K" label is
// not an exact number, and absent labels default to zero.
func parseEngagement(item *goquery.Selection, attr string) monitor.EngagementCounts {
	counts := monitor.EngagementCounts{Estimated: true}
	if attr == "" {
		return counts
	}
	sel := item.Find(attr)
	if sel.Length() == 0 {
		return counts
	}
	counts.Likes = parseCompactCount(strings.TrimSpace(sel.First().Text()))
	return counts
}

// parseCompactCount converts labels like "824", "1.2K" or "3M" to integers.
// Unparseable labels collapse to zero rather than fabricated values.
func parseCompactCount(label string) int64 {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return 0
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(label, "K"):
		multiplier = 1_000
		label = strings.TrimSuffix(label, "K")
	case strings.HasSuffix(label, "M"):
		multiplier = 1_000_000
		label = strings.TrimSuffix(label, "M")
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(label), 64)
	if err != nil {
		return 0
	}
	return int64(value * float64(multiplier))
}
