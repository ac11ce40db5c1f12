package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
)

// Config contains the information required to talk to the search cluster.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
}

// Client upserts documents into one Elasticsearch index. Document ids map
// 1:1 to catalog record ids, so replaying an upsert is harmless.
type Client struct {
	es    *elasticsearch.Client
	index string
}

// New creates a search client from the given configuration.
func New(cfg Config) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("init search client: %w", err)
	}
	return &Client{es: es, index: cfg.Index}, nil
}

// Upsert indexes doc under the given id, replacing any previous version.
func (c *Client) Upsert(ctx context.Context, id string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal search document %s: %w", id, err)
	}

	res, err := c.es.Index(
		c.index,
		bytes.NewReader(payload),
		c.es.Index.WithDocumentID(id),
		c.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index document %s: %w", id, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index document %s: %s", id, res.String())
	}
	return nil
}
