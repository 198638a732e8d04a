package evmrpc_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	evmrpc "github.com/karacurt/evm-rpc-mcp-server"
	"github.com/stretchr/testify/require"
)

const (
	tokenAddress = "0xaaaa00000000000000000000000000000000aaaa"
	proxyAddress = "0xcccc00000000000000000000000000000000cccc"
	implAddress  = "0xbbbb00000000000000000000000000000000bbbb"
)

const tokenABI = `[
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"holders","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}]}
]`

const implABI = `[
	{"type":"function","name":"setValue","inputs":[{"name":"value","type":"uint256"}],"outputs":[]}
]`

// newTestMetadataService serves Blockscout-style contract metadata and counts
// requests per address.
func newTestMetadataService(t *testing.T, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/smart-contracts/", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		address := strings.TrimPrefix(r.URL.Path, "/v2/smart-contracts/")
		w.Header().Set("Content-Type", "application/json")
		switch address {
		case tokenAddress:
			fmt.Fprintf(w, `{"name":"TestToken","abi":%s}`, tokenABI)
		case proxyAddress:
			fmt.Fprintf(w, `{"name":"TestProxy","abi":[],"result":%q,"implementations":[{"address":%q}]}`, implABI, implAddress)
		case implAddress:
			fmt.Fprintf(w, `{"ContractName":"TestImplementation","result":%q}`, implABI)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestResolver(t *testing.T, baseURL string) *evmrpc.ContractMetadataResolver {
	t.Helper()
	cfg := &evmrpc.MetadataConfig{
		APIURL:          baseURL,
		RequestTimeout:  evmrpc.MustMakeDuration(5 * time.Second),
		PrefetchWorkers: 2,
	}
	return evmrpc.NewContractMetadataResolver(cfg, nil, nil, nil)
}

func TestResolverFetchesVerifiedABI(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	resolver := newTestResolver(t, srv.URL)

	meta := resolver.Fetch(context.Background(), tokenAddress)
	require.NotNil(t, meta)
	require.Equal(t, "TestToken", meta.Name)
	require.Contains(t, meta.FunctionsBySelector, "0xa9059cbb")
	require.Contains(t, meta.EventsByTopic, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
}

func TestResolverFetchesAtMostOncePerAddress(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	resolver := newTestResolver(t, srv.URL)

	first := resolver.Fetch(context.Background(), tokenAddress)
	require.NotNil(t, first)

	// mixed-case lookups normalize to the same cache key
	second := resolver.Fetch(context.Background(), "0x"+strings.ToUpper(tokenAddress[2:]))
	require.Same(t, first, second)

	require.EqualValues(t, 1, requests.Load())
}

func TestResolverCachesNegativeResults(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	resolver := newTestResolver(t, srv.URL)

	unknown := "0x1234000000000000000000000000000000001234"
	require.Nil(t, resolver.Fetch(context.Background(), unknown))
	require.Nil(t, resolver.Fetch(context.Background(), unknown))
	require.EqualValues(t, 1, requests.Load())
}

func TestResolverRejectsZeroAddressWithoutFetching(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	resolver := newTestResolver(t, srv.URL)

	require.Nil(t, resolver.Fetch(context.Background(), "0x0000000000000000000000000000000000000000"))
	require.Nil(t, resolver.Fetch(context.Background(), ""))
	require.EqualValues(t, 0, requests.Load())
}

func TestResolverNormalizesBaseURLVariants(t *testing.T) {
	for _, suffix := range []string{"", "/", "/v2", "/v2/"} {
		suffix := suffix
		t.Run("base"+suffix, func(t *testing.T) {
			var requests atomic.Int64
			srv := newTestMetadataService(t, &requests)
			resolver := newTestResolver(t, srv.URL+suffix)

			meta := resolver.Fetch(context.Background(), tokenAddress)
			require.NotNil(t, meta)
			require.EqualValues(t, 1, requests.Load())
		})
	}
}

func TestResolverParsesStringifiedABIAndImplementations(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	resolver := newTestResolver(t, srv.URL)

	meta := resolver.Fetch(context.Background(), implAddress)
	require.NotNil(t, meta)
	require.Equal(t, "TestImplementation", meta.Name)
	require.Len(t, meta.FunctionsBySelector, 1)

	impl := resolver.ResolveImplementation(context.Background(), proxyAddress)
	require.Equal(t, implAddress, impl)
}

func TestResolverRejectsUnverifiedSentinel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/smart-contracts/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"Contract source code not verified"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	resolver := newTestResolver(t, srv.URL)

	require.Nil(t, resolver.Fetch(context.Background(), tokenAddress))
}

func TestResolverSurvivesMalformedResponses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/smart-contracts/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	resolver := newTestResolver(t, srv.URL)

	require.Nil(t, resolver.Fetch(context.Background(), tokenAddress))
}

func TestResolverPrefetchWarmsCacheOnce(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	resolver := newTestResolver(t, srv.URL)

	resolver.Prefetch(context.Background(), []string{
		tokenAddress, tokenAddress, implAddress,
		"0x0000000000000000000000000000000000000000", "",
	})
	require.EqualValues(t, 2, requests.Load())

	// the render pass that follows is cache-only
	require.NotNil(t, resolver.Fetch(context.Background(), tokenAddress))
	require.EqualValues(t, 2, requests.Load())
}

func TestResolverPrefetchWithUnsetWorkerCount(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)

	// no prefetch_workers configured, the constructor must supply a bound
	cfg := &evmrpc.MetadataConfig{
		APIURL:         srv.URL,
		RequestTimeout: evmrpc.MustMakeDuration(5 * time.Second),
	}
	resolver := evmrpc.NewContractMetadataResolver(cfg, nil, nil, nil)

	done := make(chan struct{})
	go func() {
		resolver.Prefetch(context.Background(), []string{tokenAddress, implAddress})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Prefetch did not return with an unset worker count")
	}
	require.EqualValues(t, 2, requests.Load())
}

func TestResolverDisplayNamePrefersContractMapOverride(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)

	names := evmrpc.ContractMap{}
	names.AddContract(tokenAddress, "MyToken")
	cfg := &evmrpc.MetadataConfig{
		APIURL:          srv.URL,
		RequestTimeout:  evmrpc.MustMakeDuration(5 * time.Second),
		PrefetchWorkers: 2,
	}
	resolver := evmrpc.NewContractMetadataResolver(cfg, nil, nil, names)

	require.Equal(t, "MyToken", resolver.DisplayName(context.Background(), tokenAddress))
	require.Equal(t, "TestImplementation", resolver.DisplayName(context.Background(), implAddress))

	unknown := "0x9999000000000000000000000000000000009999"
	require.Equal(t, unknown, resolver.DisplayName(context.Background(), unknown))
}

func TestMetadataCacheEvictsLeastFrequentlyUsed(t *testing.T) {
	cache := evmrpc.NewLFUMetadataCache(2)

	cache.Set("0xaa", &evmrpc.ContractMetadata{Name: "A"})
	cache.Set("0xbb", &evmrpc.ContractMetadata{Name: "B"})
	cache.Get("0xaa")
	cache.Get("0xaa")

	cache.Set("0xcc", &evmrpc.ContractMetadata{Name: "C"})
	require.Equal(t, 2, cache.Len())

	_, found := cache.Get("0xbb")
	require.False(t, found)
	meta, found := cache.Get("0xaa")
	require.True(t, found)
	require.Equal(t, "A", meta.Name)
}
