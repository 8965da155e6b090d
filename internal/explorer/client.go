// Package explorer reads contract provenance from an Etherscan compatible
// block explorer API.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"

	"github.com/pendergraft/codeproof/internal/validation"
)

// DefaultBaseURL is the Etherscan multichain API endpoint.
const DefaultBaseURL = "https://api.etherscan.io/v2/api"

var (
	// ErrCreationNotFound is returned when the explorer has no creation record
	// for an address. Such contracts are treated as predeploys.
	ErrCreationNotFound = errors.New("no creation data found")
	// ErrSourceNotVerified is returned when the explorer has no verified
	// source for an address.
	ErrSourceNotVerified = errors.New("contract source not verified")
	ErrRateLimited       = errors.New("explorer rate limit reached")
	ErrInvalidKey        = errors.New("invalid explorer API key")
)

// CreationData identifies the transaction that created a contract.
type CreationData struct {
	ContractAddress common.Address
	Creator         common.Address
	TxHash          common.Hash
}

// SourceMetadata is the compilation metadata the explorer holds for a
// verified contract.
type SourceMetadata struct {
	ContractName         string
	CompilerVersion      string // without the leading "v"
	OptimizationUsed     bool
	Runs                 int
	EVMVersion           string // empty when the explorer reports the compiler default
	ViaIR                bool
	ConstructorArguments []byte
	ABI                  json.RawMessage
}

// Client is an Etherscan API client.
type Client struct {
	baseURL    string
	apiKey     string
	chainID    uint64
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRateLimit limits outgoing requests to rps per second. Zero disables
// limiting.
func WithRateLimit(rps float64) Option {
	return func(client *Client) {
		if rps <= 0 {
			client.limiter = nil
			return
		}
		client.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithChainID scopes requests to a chain on multichain endpoints.
func WithChainID(id uint64) Option {
	return func(client *Client) {
		client.chainID = id
	}
}

// New creates a client for the API at baseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// free tier allowance
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type creationItem struct {
	ContractAddress string `json:"contractAddress"`
	ContractCreator string `json:"contractCreator"`
	TxHash          string `json:"txHash"`
}

// ContractCreation returns the creation record of addr.
func (c *Client) ContractCreation(ctx context.Context, addr common.Address) (*CreationData, error) {
	var items []creationItem
	err := c.call(ctx, url.Values{
		"module":            {"contract"},
		"action":            {"getcontractcreation"},
		"contractaddresses": {addr.Hex()},
	}, &items)
	if errors.Is(err, errNoData) {
		return nil, fmt.Errorf("%w for %s", ErrCreationNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("getting contract creation of %s: %w", addr, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrCreationNotFound, addr)
	}

	item := items[0]
	if !common.IsHexAddress(item.ContractCreator) || validation.ValidateTxHash(item.TxHash) != nil {
		return nil, fmt.Errorf("malformed creation record for %s", addr)
	}
	return &CreationData{
		ContractAddress: common.HexToAddress(item.ContractAddress),
		Creator:         common.HexToAddress(item.ContractCreator),
		TxHash:          common.HexToHash(item.TxHash),
	}, nil
}

type sourceItem struct {
	SourceCode           string `json:"SourceCode"`
	ABI                  string `json:"ABI"`
	ContractName         string `json:"ContractName"`
	CompilerVersion      string `json:"CompilerVersion"`
	OptimizationUsed     string `json:"OptimizationUsed"`
	Runs                 string `json:"Runs"`
	ConstructorArguments string `json:"ConstructorArguments"`
	EVMVersion           string `json:"EVMVersion"`
}

const unverifiedABI = "Contract source code not verified"

// SourceMetadata returns the verified source metadata of addr.
func (c *Client) SourceMetadata(ctx context.Context, addr common.Address) (*SourceMetadata, error) {
	var items []sourceItem
	err := c.call(ctx, url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {addr.Hex()},
	}, &items)
	if err != nil {
		return nil, fmt.Errorf("getting source code of %s: %w", addr, err)
	}
	if len(items) == 0 || items[0].ABI == unverifiedABI {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotVerified, addr)
	}
	return items[0].metadata()
}

func (s sourceItem) metadata() (*SourceMetadata, error) {
	md := &SourceMetadata{
		ContractName:     s.ContractName,
		CompilerVersion:  strings.TrimPrefix(s.CompilerVersion, "v"),
		OptimizationUsed: s.OptimizationUsed == "1",
		EVMVersion:       s.EVMVersion,
		ViaIR:            strings.Contains(s.SourceCode, `"viaIR":true`) || strings.Contains(s.SourceCode, `"viaIR": true`),
	}
	if strings.EqualFold(md.EVMVersion, "default") {
		md.EVMVersion = ""
	}
	if s.Runs != "" {
		runs, err := strconv.Atoi(s.Runs)
		if err != nil {
			return nil, fmt.Errorf("invalid optimizer runs %q: %w", s.Runs, err)
		}
		md.Runs = runs
	}
	if s.ConstructorArguments != "" {
		args, err := decodeHex(s.ConstructorArguments)
		if err != nil {
			return nil, fmt.Errorf("invalid constructor arguments: %w", err)
		}
		md.ConstructorArguments = args
	}
	if json.Valid([]byte(s.ABI)) {
		md.ABI = json.RawMessage(s.ABI)
	}
	return md, nil
}

// errNoData is the explorer's answer for an unknown record.
var errNoData = errors.New("no data found")

func (c *Client) call(ctx context.Context, params url.Values, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	if c.chainID != 0 {
		params.Set("chainid", strconv.FormatUint(c.chainID, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if body.Status != "1" {
		return classify(body)
	}
	return json.Unmarshal(body.Result, result)
}

// classify maps a failed explorer response to an error.
func classify(body response) error {
	var detail string
	if err := json.Unmarshal(body.Result, &detail); err != nil {
		detail = string(body.Result)
	}
	text := strings.ToLower(body.Message + " " + detail)
	switch {
	case strings.Contains(text, "no data found"):
		return errNoData
	case strings.Contains(text, "rate limit"):
		return fmt.Errorf("%w: %s", ErrRateLimited, detail)
	case strings.Contains(text, "invalid api key"):
		return fmt.Errorf("%w: %s", ErrInvalidKey, detail)
	default:
		return fmt.Errorf("explorer error: %s: %s", body.Message, detail)
	}
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
