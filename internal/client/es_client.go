package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"travel-auth/internal/config"
	"travel-auth/internal/util"
)

type ESClient struct {
	Client *elasticsearch.Client
	index  string
}

func NewElasticsearchClient(cfg *config.Config) (*ESClient, error) {
	ec := cfg.Elasticsearch
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{ec.URL},
		Username:  ec.Username,
		Password:  ec.Password,
		Transport: &http.Transport{ResponseHeaderTimeout: 5 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	c := &ESClient{Client: es, index: ec.Index}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.HealthCheck(ctx); err != nil {
		return nil, err
	}
	util.Info("Elasticsearch client initialized", util.String("url", ec.URL), util.String("index", ec.Index))
	return c, nil
}

func (e *ESClient) Index() string { return e.index }

func (e *ESClient) HealthCheck(ctx context.Context) error {
	res, err := e.Client.Info(e.Client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch info: %s", res.Status())
	}
	return nil
}

// IndexDocument stores doc under id, replacing an existing document.
func (e *ESClient) IndexDocument(ctx context.Context, index, id string, doc interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	res, err := e.Client.Index(index, &buf,
		e.Client.Index.WithContext(ctx),
		e.Client.Index.WithDocumentID(id),
	)
	if err != nil {
		return fmt.Errorf("index document: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("index document: %s: %s", res.Status(), body)
	}
	return nil
}
