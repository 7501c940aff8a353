package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/cambrianlabs/cambrian-mcp/internal/common"
)

// maxSchemaSize is the maximum allowed size for a schema document (4MB).
const maxSchemaSize = 4 << 20

// methodOrder fixes the per-path method iteration order so a load pass is
// deterministic. kin-openapi exposes operations as a map.
var methodOrder = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
	http.MethodDelete, http.MethodHead, http.MethodOptions,
}

// Source indicates which path a load took.
type Source int

const (
	// SourceSchema means the catalog was built from the fetched schema.
	SourceSchema Source = iota
	// SourceFallback means the schema could not be fetched or parsed and the
	// fixed built-in catalog was used instead.
	SourceFallback
)

func (s Source) String() string {
	if s == SourceFallback {
		return "fallback"
	}
	return "schema"
}

// LoadResult carries the built catalog together with which path produced it.
// Cause is the error that forced the fallback, nil when Source is SourceSchema.
type LoadResult struct {
	Catalog *Catalog
	Source  Source
	Cause   error
}

// Loader fetches an OpenAPI document and normalizes it into a Catalog.
type Loader struct {
	schemaURL  string
	httpClient *http.Client
	logger     *common.Logger
}

// NewLoader creates a loader for the given schema document URL.
func NewLoader(schemaURL string, logger *common.Logger) *Loader {
	return &Loader{
		schemaURL: schemaURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Load fetches and normalizes the schema. It never fails: any fetch or parse
// error discards partial results and yields the fixed fallback catalog, so
// the process always starts with a non-empty catalog.
func (l *Loader) Load(ctx context.Context) LoadResult {
	ops, err := l.fetchOperations(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Str("url", l.schemaURL).Msg("schema load failed, using fallback catalog")
		return LoadResult{Catalog: FallbackCatalog(), Source: SourceFallback, Cause: err}
	}
	l.logger.Info().Int("operations", len(ops)).Str("url", l.schemaURL).Msg("catalog loaded from schema")
	return LoadResult{Catalog: New(ops), Source: SourceSchema}
}

func (l *Loader) fetchOperations(ctx context.Context) ([]Operation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.schemaURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("schema fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("schema fetch returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSchemaSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	if len(body) > maxSchemaSize {
		return nil, fmt.Errorf("schema document too large: over %d bytes", maxSchemaSize)
	}

	doc, err := openapi3.NewLoader().LoadFromData(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	ops := normalize(doc)
	if len(ops) == 0 {
		return nil, fmt.Errorf("schema contains no operations")
	}
	return ops, nil
}

// normalize flattens the document's path/method tree into operations. The
// synthesized-id counter is scoped to this one pass: a reload starts over at 1.
func normalize(doc *openapi3.T) []Operation {
	if doc.Paths == nil {
		return nil
	}

	pathItems := doc.Paths.Map()
	paths := make([]string, 0, len(pathItems))
	for p := range pathItems {
		paths = append(paths, p)
	}
	// Go map iteration is randomized; sort so load order is stable.
	sort.Strings(paths)

	var ops []Operation
	seen := make(map[string]bool, len(pathItems))
	counter := 1

	for _, path := range paths {
		item := pathItems[path]
		if item == nil {
			continue
		}
		for _, method := range methodOrder {
			op := item.GetOperation(method)
			if op == nil {
				continue
			}

			// Duplicate declared ids get a synthesized one too — id uniqueness
			// is enforced at load time.
			id := op.OperationID
			if id == "" || seen[id] {
				id = fmt.Sprintf("endpoint-%d", counter)
				counter++
			}
			seen[id] = true

			name := op.Summary
			if name == "" {
				name = method + " " + path
			}
			description := op.Description
			if description == "" {
				description = "Access " + path
			}

			var params Params
			for _, ref := range op.Parameters {
				if ref.Value == nil || ref.Value.Name == "" {
					continue
				}
				desc := ref.Value.Description
				if desc == "" {
					desc = ref.Value.Name
				}
				params = append(params, Param{Name: ref.Value.Name, Description: desc})
			}

			ops = append(ops, Operation{
				ID:          id,
				Name:        name,
				Description: description,
				Path:        path,
				Method:      method,
				Params:      params,
			})
		}
	}
	return ops
}

// FallbackCatalog returns the fixed built-in catalog of known-good operations.
// It is not configurable and is never a cache of a previous successful load.
func FallbackCatalog() *Catalog {
	return New([]Operation{
		{
			ID:          "evm-chains",
			Name:        "Get EVM Chains",
			Description: "List all supported EVM chains",
			Path:        "/api/v1/evm/chains",
			Method:      http.MethodGet,
		},
		{
			ID:          "uniswap-v3-pools",
			Name:        "Get Uniswap V3 Pools",
			Description: "Get all pools for a token on Uniswap V3",
			Path:        "/api/v1/evm/uniswap/v3/pools",
			Method:      http.MethodGet,
			Params: Params{
				{Name: "chain", Description: "Chain ID (e.g., 8453 for Base)"},
				{Name: "token", Description: "Token address"},
			},
		},
	})
}
