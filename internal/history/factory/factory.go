package factory

import (
	"errors"
	"net/url"
	"strings"

	"github.com/kael-dev/sentryd/internal/history"
	"github.com/kael-dev/sentryd/internal/history/clickhouse"
	"github.com/kael-dev/sentryd/internal/history/opensearch"
)

// NewSinkFromDSN creates a history sink based on DSN format. History sinks
// are external analytics destinations, independent of the internal/store
// process-history table that the supervisor writes alongside them.
// Supported formats:
//   - "clickhouse://host:port?table=table" (the sink always uses the
//     "default" database; a database parameter is not read)
//   - "opensearch://host:port/index"
func NewSinkFromDSN(dsn string) (history.Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}

	lower := strings.ToLower(dsn)

	// ClickHouse
	if strings.HasPrefix(lower, "clickhouse://") {
		return parseClickHouseDSN(dsn)
	}

	// OpenSearch / Elasticsearch
	if strings.HasPrefix(lower, "opensearch://") || strings.HasPrefix(lower, "elasticsearch://") {
		return parseOpenSearchDSN(dsn)
	}

	return nil, errors.New("unsupported DSN format: " + dsn)
}

func parseClickHouseDSN(dsn string) (history.Sink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}

	// Extract host:port
	host := u.Host
	if host == "" {
		host = "localhost:9000" // default ClickHouse native port
	}

	// Get table from query params
	table := u.Query().Get("table")
	if table == "" {
		table = "process_history" // default table name
	}

	return clickhouse.New(host, table)
}

func parseOpenSearchDSN(dsn string) (history.Sink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}

	// Extract base URL (scheme + host + port)
	baseURL := u.Scheme + "://" + u.Host

	// Extract index from path
	index := strings.Trim(u.Path, "/")
	if index == "" {
		index = "process-history" // default index name
	}

	return opensearch.New(baseURL, index), nil
}
