package evmrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	// unverifiedSentinel is what Etherscan-compatible services return in the
	// result field for contracts without verified source code.
	unverifiedSentinel = "Contract source code not verified"

	zeroAddress = "0x0000000000000000000000000000000000000000"

	// DefaultPrefetchWorkers bounds concurrent metadata fetches when the
	// config does not set a worker count.
	DefaultPrefetchWorkers = 4
)

// ContractMetadata is the decoded identity of one verified contract, keyed in
// the cache by its lower-cased address. Immutable once cached.
type ContractMetadata struct {
	Name                  string
	ABI                   []ABIEntry
	FunctionsBySelector   map[string]ABIEntry
	EventsByTopic         map[string]ABIEntry
	ImplementationAddress string
}

// ContractMetadataResolver fetches verified ABIs from a Blockscout-style
// metadata service and caches them for the lifetime of the cache it was
// built with. All failures degrade to nil metadata, it never returns errors.
type ContractMetadataResolver struct {
	baseURL         string
	httpClient      *http.Client
	cache           *LFUMetadataCache
	codec           *ParameterCodec
	names           ContractMap
	prefetchWorkers int
}

func NewContractMetadataResolver(cfg *MetadataConfig, cache *LFUMetadataCache, codec *ParameterCodec, names ContractMap) *ContractMetadataResolver {
	if cache == nil {
		cache = NewLFUMetadataCache(cfg.CacheCapacity)
	}
	if codec == nil {
		codec = NewParameterCodec(nil)
	}
	if names == nil {
		names = make(ContractMap)
	}
	workers := cfg.PrefetchWorkers
	if workers <= 0 {
		// errgroup treats limit 0 as "admit nothing", which would hang Prefetch
		workers = DefaultPrefetchWorkers
	}
	return &ContractMetadataResolver{
		baseURL:         normalizeMetadataBaseURL(cfg.APIURL),
		httpClient:      &http.Client{Timeout: cfg.RequestTimeout.Duration()},
		cache:           cache,
		codec:           codec,
		names:           names,
		prefetchWorkers: workers,
	}
}

// normalizeMetadataBaseURL strips trailing slashes and a trailing /v2 segment,
// so configured bases like "https://host/v2/" and "https://host" join to the
// same smart-contracts endpoint.
func normalizeMetadataBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	base = strings.TrimSuffix(base, "/v2")
	return base
}

// Fetch returns cached or freshly fetched metadata for an address, nil when
// the contract is unknown to the metadata service. At most one outbound
// request is made per distinct address per cache lifetime.
func (r *ContractMetadataResolver) Fetch(ctx context.Context, address string) *ContractMetadata {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" || address == "0x" || address == zeroAddress {
		return nil
	}
	if meta, found := r.cache.Get(address); found {
		return meta
	}
	if r.baseURL == "" {
		r.cache.Set(address, nil)
		return nil
	}

	meta := r.fetchRemote(ctx, address)
	r.cache.Set(address, meta)
	return meta
}

// ResolveImplementation returns the implementation address behind a proxy, or
// an empty string when the metadata service knows of none.
func (r *ContractMetadataResolver) ResolveImplementation(ctx context.Context, proxyAddress string) string {
	meta := r.Fetch(ctx, proxyAddress)
	if meta == nil {
		return ""
	}
	return meta.ImplementationAddress
}

// Prefetch warms the cache for a set of addresses with a bounded number of
// concurrent fetches. The render pass that follows is strictly sequential and
// cache-only, so report line order stays depth-first preorder regardless of
// how the fetches complete.
func (r *ContractMetadataResolver) Prefetch(ctx context.Context, addresses []string) {
	seen := make(map[string]struct{}, len(addresses))
	unique := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" || addr == "0x" || addr == zeroAddress {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		unique = append(unique, addr)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.prefetchWorkers)
	for _, addr := range unique {
		addr := addr
		eg.Go(func() error {
			r.Fetch(egCtx, addr)
			return nil
		})
	}
	// fetches never return errors, Wait only joins the workers
	_ = eg.Wait()
}

// DisplayName resolves the identifier used for an address in reports: the
// contract-map override first, then the verified name, then the address.
func (r *ContractMetadataResolver) DisplayName(ctx context.Context, address string) string {
	address = strings.ToLower(address)
	if name, ok := r.names.NameOf(address); ok {
		return name
	}
	if meta := r.Fetch(ctx, address); meta != nil && meta.Name != "" {
		return meta.Name
	}
	return address
}

// metadataEnvelope covers both Blockscout v2 and Etherscan-style responses.
type metadataEnvelope struct {
	Name            string          `json:"name"`
	ContractName    string          `json:"ContractName"`
	ABI             json.RawMessage `json:"abi"`
	ABIString       string          `json:"ABI"`
	Result          json.RawMessage `json:"result"`
	Implementations json.RawMessage `json:"implementations"`
}

func (r *ContractMetadataResolver) fetchRemote(ctx context.Context, address string) *ContractMetadata {
	url := fmt.Sprintf("%s/v2/smart-contracts/%s", r.baseURL, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		L.Debug().Err(err).Str("Address", address).Msg("Failed to build metadata request")
		return nil
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		L.Debug().Err(err).Str("Address", address).Msg("Metadata fetch failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		L.Debug().Int("Status", resp.StatusCode).Str("Address", address).Msg("Metadata service returned non-success status")
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		L.Debug().Err(err).Str("Address", address).Msg("Failed to read metadata response")
		return nil
	}

	var envelope metadataEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		L.Debug().Err(err).Str("Address", address).Msg("Malformed metadata response")
		return nil
	}

	abiEntries, ok := extractABI(envelope)
	if !ok {
		L.Debug().Str("Address", address).Msg("Contract has no verified ABI")
		return nil
	}

	meta := &ContractMetadata{
		Name:                  contractName(envelope),
		ABI:                   abiEntries,
		FunctionsBySelector:   make(map[string]ABIEntry),
		EventsByTopic:         make(map[string]ABIEntry),
		ImplementationAddress: firstImplementation(envelope.Implementations),
	}
	for _, entry := range abiEntries {
		switch entry.Type {
		case "function":
			meta.FunctionsBySelector[r.codec.Selector(entry)] = entry
		case "event":
			meta.EventsByTopic[r.codec.EventTopic(entry)] = entry
		}
	}

	L.Debug().
		Str("Address", address).
		Str("Name", meta.Name).
		Int("Functions", len(meta.FunctionsBySelector)).
		Int("Events", len(meta.EventsByTopic)).
		Msg("Resolved contract metadata")
	return meta
}

// extractABI accepts a structured abi array or a stringified result/ABI field.
func extractABI(envelope metadataEnvelope) ([]ABIEntry, bool) {
	if len(envelope.ABI) > 0 {
		var entries []ABIEntry
		if err := json.Unmarshal(envelope.ABI, &entries); err == nil && len(entries) > 0 {
			return entries, true
		}
	}
	for _, raw := range []string{stringifiedField(envelope.Result), envelope.ABIString} {
		if raw == "" || raw == unverifiedSentinel {
			continue
		}
		var entries []ABIEntry
		if err := json.Unmarshal([]byte(raw), &entries); err == nil && len(entries) > 0 {
			return entries, true
		}
	}
	return nil, false
}

// stringifiedField unwraps a JSON field that may itself be a JSON string.
func stringifiedField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func contractName(envelope metadataEnvelope) string {
	if envelope.Name != "" {
		return envelope.Name
	}
	return envelope.ContractName
}

// firstImplementation reads the first entry of an implementations list that
// may hold plain address strings or {address: ...} objects.
func firstImplementation(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asStrings []string
	if err := json.Unmarshal(raw, &asStrings); err == nil && len(asStrings) > 0 {
		return strings.ToLower(asStrings[0])
	}
	var asObjects []struct {
		Address     string `json:"address"`
		AddressHash string `json:"address_hash"`
	}
	if err := json.Unmarshal(raw, &asObjects); err == nil && len(asObjects) > 0 {
		if asObjects[0].Address != "" {
			return strings.ToLower(asObjects[0].Address)
		}
		return strings.ToLower(asObjects[0].AddressHash)
	}
	return ""
}
