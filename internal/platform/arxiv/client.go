package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

const defaultBaseURL = "https://export.arxiv.org/api/query"

// Paper is one result from the arXiv Atom feed, reduced to the fields the
// crawl pipeline stores.
type Paper struct {
	ArxivID  string
	Title    string
	Abstract string
	Authors  []string
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

func NewClient(baseURL string, baseLog *logger.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     baseLog.With("client", "ArxivClient"),
	}
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID      string       `xml:"id"`
	Title   string       `xml:"title"`
	Summary string       `xml:"summary"`
	Authors []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

// Search queries the arXiv API. Transport and 5xx failures come back as
// retryable; the crawl job requeues with backoff instead of failing a run
// because arXiv rate-limited it.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Paper, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Fatalf("arxiv: empty search query")
	}
	if maxResults < 1 || maxResults > 500 {
		maxResults = 100
	}

	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", "0")
	params.Set("max_results", fmt.Sprint(maxResults))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, apperr.Fatalf("arxiv: build request: %v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Retryablef("arxiv: request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.Retryablef("arxiv: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Fatalf("arxiv: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, apperr.Retryablef("arxiv: read body: %v", err)
	}
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, apperr.Fatalf("arxiv: parse feed: %v", err)
	}

	out := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		id := e.ID
		if i := strings.LastIndex(id, "/abs/"); i >= 0 {
			id = id[i+len("/abs/"):]
		}
		authors := make([]string, 0, len(e.Authors))
		for _, a := range e.Authors {
			if name := strings.TrimSpace(a.Name); name != "" {
				authors = append(authors, name)
			}
		}
		out = append(out, Paper{
			ArxivID:  strings.TrimSpace(id),
			Title:    strings.Join(strings.Fields(e.Title), " "),
			Abstract: strings.TrimSpace(e.Summary),
			Authors:  authors,
		})
	}
	c.log.Info("arXiv search complete", "query", query, "results", len(out))
	return out, nil
}
