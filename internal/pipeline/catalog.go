package pipeline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/evmtx/txpipeline/internal/pkg/apperrors"
)

// Contract is the opaque binding ContractCatalog returns: an address, its
// ABI, and the ability to encode a call. Smart-contract artifact loading
// and ABI provenance are deliberately out of core scope (spec §1) — this
// is the contract the core consumes, not a full artifact manager.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

// EncodeCall ABI-encodes a method call, the one operation the core relies
// on (spec §4.5, §9's "call-style contract invocations").
func (c *Contract) EncodeCall(method string, args ...any) ([]byte, error) {
	return c.ABI.Pack(method, args...)
}

// ContractCatalog resolves a named contract binding, memoizing by name so
// repeated resolutions are compute-once (spec §5's thread-safe memo
// requirement).
type ContractCatalog interface {
	Get(name string) (*Contract, error)
	// Preload forces resolution of every known contract, surfacing
	// misconfiguration at startup rather than on first use.
	Preload() error
}

// artifact is the on-disk/over-the-wire shape of one contract binding.
type artifact struct {
	Name    string          `json:"name"`
	Address string          `json:"address"`
	ABI     json.RawMessage `json:"abi"`
	// Networks maps a chain ID (as a string key) to a deployed address,
	// for artifacts shared across networks (spec §3's NoNetworkInContract
	// error kind).
	Networks map[string]string `json:"networks,omitempty"`
}

// FileCatalog loads artifacts from a directory of "<name>.json" files or a
// single JSON document fetched from a URL, then memoizes the parsed
// bindings by name.
type FileCatalog struct {
	dir     string
	url     string
	chainID int64
	client  *http.Client

	mu    sync.RWMutex
	cache map[string]*Contract
	names []string
}

// NewFileCatalog constructs a catalog backed by dir (if non-empty) or url.
// Exactly one source is consulted per Get call the first time a name is
// requested; results are cached thereafter.
func NewFileCatalog(dir, url string, chainID int64) *FileCatalog {
	return &FileCatalog{
		dir:     dir,
		url:     url,
		chainID: chainID,
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   make(map[string]*Contract),
	}
}

func (c *FileCatalog) Get(name string) (*Contract, error) {
	c.mu.RLock()
	if cached, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	raw, err := c.load(name)
	if err != nil {
		return nil, err
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(raw.ABI)))
	if err != nil {
		return nil, fmt.Errorf("parsing abi for %s: %w", name, err)
	}

	addr := raw.Address
	if raw.Networks != nil {
		networkAddr, ok := raw.Networks[fmt.Sprintf("%d", c.chainID)]
		if !ok {
			return nil, apperrors.New(apperrors.ErrNoNetworkInContract, fmt.Sprintf("contract %s has no binding for network %d", name, c.chainID), nil)
		}
		addr = networkAddr
	}
	if addr == "" {
		return nil, apperrors.New(apperrors.ErrNoNetworkInContract, fmt.Sprintf("contract %s has no binding for network %d", name, c.chainID), nil)
	}

	contract := &Contract{
		Name:    name,
		Address: common.HexToAddress(addr),
		ABI:     parsedABI,
	}

	c.mu.Lock()
	c.cache[name] = contract
	if !containsString(c.names, name) {
		c.names = append(c.names, name)
	}
	c.mu.Unlock()

	return contract, nil
}

func (c *FileCatalog) load(name string) (*artifact, error) {
	if c.dir != "" {
		path := filepath.Join(c.dir, name+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading contract artifact %s: %w", path, err)
		}
		var out artifact
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parsing contract artifact %s: %w", path, err)
		}
		return &out, nil
	}

	if c.url != "" {
		reqURL := strings.TrimRight(c.url, "/") + "/" + name + ".json"
		resp, err := c.client.Get(reqURL)
		if err != nil {
			return nil, fmt.Errorf("fetching contract artifact %s: %w", reqURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetching contract artifact %s: status %d", reqURL, resp.StatusCode)
		}
		var out artifact
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("parsing contract artifact %s: %w", reqURL, err)
		}
		return &out, nil
	}

	return nil, fmt.Errorf("no contract source configured (dir or url)")
}

// Preload resolves every artifact already known to this catalog (i.e.
// previously Get'd, or pre-registered via RegisterNames), plus, when dir
// is set, every "<name>.json" file found there. It's meant to be called
// once at startup when PreloadContracts is enabled.
func (c *FileCatalog) Preload() error {
	if c.dir != "" {
		entries, err := os.ReadDir(c.dir)
		if err != nil {
			return fmt.Errorf("listing contracts dir %s: %w", c.dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			c.RegisterNames(strings.TrimSuffix(e.Name(), ".json"))
		}
	}

	c.mu.RLock()
	names := append([]string(nil), c.names...)
	c.mu.RUnlock()

	for _, name := range names {
		if _, err := c.Get(name); err != nil {
			return err
		}
	}
	return nil
}

// RegisterNames seeds the set of contract names Preload will resolve,
// without requiring a prior Get call.
func (c *FileCatalog) RegisterNames(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		if !containsString(c.names, n) {
			c.names = append(c.names, n)
		}
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
