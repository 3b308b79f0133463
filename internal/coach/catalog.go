package coach

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultFindThreshold = 0.80

	// minTokenLen keeps short filler words ("a", "of", "the") from matching
	// a title on their own.
	minTokenLen = 4
)

// CatalogOption configures a [Catalog].
type CatalogOption func(*Catalog)

// WithFindThreshold sets the minimum Jaro-Winkler score [Catalog.Find]
// accepts for a fuzzy title match. Default: 0.80.
func WithFindThreshold(threshold float64) CatalogOption {
	return func(c *Catalog) {
		c.threshold = threshold
	}
}

// Catalog is an ordered, read-only set of topics. It is safe for concurrent
// use; replace the whole catalog to change the topic set.
type Catalog struct {
	topics    []Topic
	threshold float64
}

// NewCatalog returns a catalog over a copy of topics. When two topics share an
// ID the first one wins in [Catalog.Get].
func NewCatalog(topics []Topic, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		topics:    append([]Topic(nil), topics...),
		threshold: defaultFindThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Topics returns a copy of the topics in catalog order.
func (c *Catalog) Topics() []Topic {
	return append([]Topic(nil), c.topics...)
}

// Len returns the number of topics.
func (c *Catalog) Len() int { return len(c.topics) }

// Get returns the topic with the given ID.
func (c *Catalog) Get(id string) (Topic, bool) {
	for _, t := range c.topics {
		if t.ID == id {
			return t, true
		}
	}
	return Topic{}, false
}

// Find resolves a free-form query to a topic. It tries, in order: an exact ID
// match, a case-insensitive title match, then the title with the best
// Jaro-Winkler similarity at or above the catalog threshold. Ties go to the
// topic listed first.
func (c *Catalog) Find(query string) (Topic, bool) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Topic{}, false
	}
	if t, ok := c.Get(q); ok {
		return t, true
	}
	for _, t := range c.topics {
		if strings.EqualFold(t.Title, q) {
			return t, true
		}
	}

	qLower := strings.ToLower(q)
	qTokens := strings.Fields(qLower)

	var (
		best      Topic
		bestScore float64
	)
	for _, t := range c.topics {
		title := strings.ToLower(strings.TrimSpace(t.Title))
		if title == "" {
			continue
		}
		score := titleScore(qTokens, strings.Fields(title), qLower, title)
		if score >= c.threshold && score > bestScore {
			best, bestScore = t, score
		}
	}
	return best, bestScore > 0
}

// titleScore is the highest Jaro-Winkler similarity between the query and a
// title, comparing the full strings, the strings with spaces removed, and
// every pair of significant words.
func titleScore(queryTokens, titleTokens []string, query, title string) float64 {
	score := matchr.JaroWinkler(query, title, false)

	if len(queryTokens) > 1 || len(titleTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(queryTokens, ""), strings.Join(titleTokens, ""), false); s > score {
			score = s
		}
	}

	for _, qt := range queryTokens {
		if len(qt) < minTokenLen {
			continue
		}
		for _, tt := range titleTokens {
			if len(tt) < minTokenLen {
				continue
			}
			if s := matchr.JaroWinkler(qt, tt, false); s > score {
				score = s
			}
		}
	}
	return score
}
