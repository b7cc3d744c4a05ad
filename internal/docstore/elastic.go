package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/alekslucenko/planit-analytics/internal/domain"
	"github.com/alekslucenko/planit-analytics/internal/logger"
	"github.com/alekslucenko/planit-analytics/internal/retry"
)

// Elastic adapter defaults.
const (
	defaultPollInterval = 5 * time.Second
	defaultFetchSize    = 1000
	pingTimeout         = 5 * time.Second
)

// ElasticConfig holds Elasticsearch adapter configuration.
type ElasticConfig struct {
	Addresses    []string      `env:"ELASTICSEARCH_ADDRESSES" yaml:"addresses"`
	Username     string        `env:"ELASTICSEARCH_USERNAME"  yaml:"username"`
	Password     string        `env:"ELASTICSEARCH_PASSWORD"  yaml:"password"`
	IndexPrefix  string        `yaml:"index_prefix"`
	PollInterval time.Duration `yaml:"poll_interval"`
	FetchSize    int           `yaml:"fetch_size"`
}

// SetDefaults applies default values to the config if not set.
func (c *ElasticConfig) SetDefaults() {
	if len(c.Addresses) == 0 {
		c.Addresses = []string{"http://localhost:9200"}
	}
	if c.IndexPrefix == "" {
		c.IndexPrefix = "planit"
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.FetchSize == 0 {
		c.FetchSize = defaultFetchSize
	}
}

// ElasticStore implements Store on top of Elasticsearch. Collections map
// to indices (<prefix>-<collection>). Subscriptions are polling watchers:
// the result set is re-fetched on an interval and redelivered whenever
// its digest changes, matching the full-snapshot-on-change contract.
type ElasticStore struct {
	client   *es.Client
	log      logger.Logger
	cfg      ElasticConfig
	retryCfg retry.Config
}

// NewElasticStore creates an ElasticStore and verifies connectivity.
func NewElasticStore(ctx context.Context, cfg ElasticConfig, log logger.Logger) (*ElasticStore, error) {
	cfg.SetDefaults()

	client, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	res, err := client.Ping(client.Ping.WithContext(pingCtx))
	if err != nil {
		return nil, fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch ping failed [%s]: %s", res.Status(), string(body))
	}

	log.Info("Elasticsearch connected",
		logger.Strings("addresses", cfg.Addresses),
		logger.String("index_prefix", cfg.IndexPrefix),
	)

	retryCfg := retry.DefaultConfig()
	retryCfg.IsRetryable = IsTransient

	return &ElasticStore{client: client, log: log, cfg: cfg, retryCfg: retryCfg}, nil
}

// FetchOnce performs a one-shot filtered search. Transient failures are
// retried with exponential backoff before surfacing.
func (s *ElasticStore) FetchOnce(ctx context.Context, q Query) ([]domain.RawDocument, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var docs []domain.RawDocument
	err := retry.Do(ctx, s.retryCfg, func() error {
		fetched, fetchErr := s.search(ctx, q)
		if fetchErr != nil {
			return fetchErr
		}
		docs = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Subscribe starts a polling watcher for q. The initial fetch happens
// synchronously so that index and permission failures surface from
// Subscribe itself; afterwards a goroutine re-fetches on the poll
// interval and delivers whenever the result set changes.
func (s *ElasticStore) Subscribe(ctx context.Context, q Query, h Handler) (Subscription, error) {
	initial, err := s.FetchOnce(ctx, q)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &elasticSub{cancel: cancel}

	go s.watch(subCtx, q, h, initial)

	return sub, nil
}

// watch is the polling loop behind one subscription. Handler calls are
// serial because they all happen on this goroutine.
func (s *ElasticStore) watch(ctx context.Context, q Query, h Handler, initial []domain.RawDocument) {
	h(initial, nil)
	lastDigest := digest(initial)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		docs, err := s.FetchOnce(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h(nil, err)
			continue
		}

		d := digest(docs)
		if d != lastDigest {
			lastDigest = d
			h(docs, nil)
		}
	}
}

// search executes one filtered search against the collection's index.
func (s *ElasticStore) search(ctx context.Context, q Query) ([]domain.RawDocument, error) {
	body, err := json.Marshal(buildSearchBody(q, s.cfg.FetchSize))
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	index := s.cfg.IndexPrefix + "-" + q.Collection
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(index),
		s.client.Search.WithBody(bytes.NewReader(body)),
		s.client.Search.WithTrackTotalHits(false),
	)
	if err != nil {
		return nil, NewQueryError(KindTransient, q.Collection, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return nil, classifyResponse(q.Collection, res.StatusCode, string(raw))
	}

	return decodeHits(q.Collection, res.Body)
}

// buildSearchBody translates a Query into an Elasticsearch bool filter.
func buildSearchBody(q Query, size int) map[string]any {
	clauses := make([]map[string]any, 0, len(q.Filters))
	for _, f := range q.Filters {
		switch f.Op {
		case OpEqual:
			clauses = append(clauses, map[string]any{"term": map[string]any{f.Field: f.Value}})
		case OpGreaterOrEqual:
			clauses = append(clauses, map[string]any{"range": map[string]any{f.Field: map[string]any{"gte": f.Value}}})
		case OpLessOrEqual:
			clauses = append(clauses, map[string]any{"range": map[string]any{f.Field: map[string]any{"lte": f.Value}}})
		case OpIn:
			clauses = append(clauses, map[string]any{"terms": map[string]any{f.Field: f.Values}})
		}
	}

	query := map[string]any{"match_all": map[string]any{}}
	if len(clauses) > 0 {
		query = map[string]any{"bool": map[string]any{"filter": clauses}}
	}

	return map[string]any{
		"query": query,
		"size":  size,
		"sort":  []map[string]any{{"_doc": map[string]any{"order": "asc"}}},
	}
}

// classifyResponse maps an Elasticsearch error response to the query
// error taxonomy: 401/403 -> permission_denied, 400 mapping failures ->
// missing_index, everything else -> transient.
func classifyResponse(collection string, status int, body string) *QueryError {
	err := fmt.Errorf("elasticsearch [%d]: %s", status, body)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewQueryError(KindPermissionDenied, collection, err)
	case status == http.StatusBadRequest && strings.Contains(body, "mapping"):
		return NewQueryError(KindMissingIndex, collection, err)
	default:
		return NewQueryError(KindTransient, collection, err)
	}
}

// searchResponse is the subset of the search response we decode.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func decodeHits(collection string, r io.Reader) ([]domain.RawDocument, error) {
	var sr searchResponse
	if err := json.NewDecoder(r).Decode(&sr); err != nil {
		return nil, NewQueryError(KindTransient, collection, fmt.Errorf("decode response: %w", err))
	}

	docs := make([]domain.RawDocument, 0, len(sr.Hits.Hits))
	for _, hit := range sr.Hits.Hits {
		fields := make(map[string]any)
		if len(hit.Source) > 0 {
			if err := json.Unmarshal(hit.Source, &fields); err != nil {
				// An unparsable source still identifies a document; the
				// normalization stage decides whether to drop it.
				fields = map[string]any{}
			}
		}
		docs = append(docs, domain.RawDocument{ID: hit.ID, Fields: fields})
	}
	return docs, nil
}

// digest fingerprints a result set for change detection.
func digest(docs []domain.RawDocument) uint64 {
	sorted := make([]domain.RawDocument, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := fnv.New64a()
	for _, doc := range sorted {
		_, _ = h.Write([]byte(doc.ID))
		if payload, err := json.Marshal(doc.Fields); err == nil {
			_, _ = h.Write(payload)
		}
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// elasticSub is a handle on one polling watcher.
type elasticSub struct {
	cancel context.CancelFunc
	once   sync.Once
}

// Cancel stops the watcher. Safe to call multiple times.
func (s *elasticSub) Cancel() {
	s.once.Do(s.cancel)
}
