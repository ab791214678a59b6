package blockstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
)

// Daemon is an optional remote block service. The store uses it
// opportunistically: writes are mirrored to it and reads fall back to it
// when a block is missing locally.
type Daemon interface {
	BlockPut(ctx context.Context, data []byte, codec uint64) (cid.Cid, error)
	BlockGet(ctx context.Context, c cid.Cid) ([]byte, error)
}

// KuboClient talks to a Kubo node's HTTP RPC API.
type KuboClient struct {
	baseURL string
	hash    Hasher
	client  *http.Client
}

// NewKuboClient returns a client for the RPC endpoint at baseURL
// (e.g. "http://127.0.0.1:5001").
func NewKuboClient(baseURL string, hash Hasher, timeout time.Duration) *KuboClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KuboClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hash:    hash,
		client:  &http.Client{Timeout: timeout},
	}
}

type kuboBlockStat struct {
	Key  string `json:"Key"`
	Size int    `json:"Size"`
}

// BlockPut uploads data with the given codec and returns the daemon's CID.
func (k *KuboClient) BlockPut(ctx context.Context, data []byte, codec uint64) (cid.Cid, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "block")
	if err != nil {
		return cid.Undef, err
	}
	if _, err := part.Write(data); err != nil {
		return cid.Undef, err
	}
	if err := mw.Close(); err != nil {
		return cid.Undef, err
	}

	q := url.Values{}
	q.Set("cid-codec", multicodec.Code(codec).String())
	q.Set("mhtype", k.hash.Name())
	q.Set("pin", "false")
	resp, err := k.post(ctx, "/api/v0/block/put", q, &body, mw.FormDataContentType())
	if err != nil {
		return cid.Undef, err
	}
	defer resp.Body.Close()

	var stat kuboBlockStat
	if err := json.NewDecoder(resp.Body).Decode(&stat); err != nil {
		return cid.Undef, fmt.Errorf("%w: decode block/put response: %v", ErrDaemonFailed, err)
	}
	c, err := cid.Decode(stat.Key)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: daemon returned invalid CID %q", ErrDaemonFailed, stat.Key)
	}
	return c, nil
}

// BlockGet downloads the raw bytes of c.
func (k *KuboClient) BlockGet(ctx context.Context, c cid.Cid) ([]byte, error) {
	q := url.Values{}
	q.Set("arg", c.String())
	resp, err := k.post(ctx, "/api/v0/block/get", q, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read block/get body: %v", ErrDaemonFailed, err)
	}
	return data, nil
}

func (k *KuboClient) post(ctx context.Context, path string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+path+"?"+q.Encode(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrDaemonFailed, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDaemonFailed, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrDaemonFailed, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
