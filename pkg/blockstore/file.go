package blockstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	chunker "github.com/ipfs/boxo/chunker"
	"github.com/ipfs/go-cid"
)

// StoreReader splits r into fixed-size raw leaf blocks and stores a dag-pb
// root linking them in order. A stream that fits in one chunk is stored as
// a single raw block.
func (s *Store) StoreReader(ctx context.Context, r io.Reader) (cid.Cid, error) {
	splitter := chunker.NewSizeSplitter(r, int64(s.chunk))

	var links []Link
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return cid.Undef, err
		}
		chunk, err := splitter.NextBytes()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return cid.Undef, fmt.Errorf("read chunk %d: %w", i, err)
		}
		c, err := s.Put(ctx, chunk)
		if err != nil {
			return cid.Undef, err
		}
		links = append(links, Link{Name: leafName(i), CID: c, Size: uint64(len(chunk))})
	}

	switch len(links) {
	case 0:
		return s.Put(ctx, nil)
	case 1:
		return links[0].CID, nil
	}
	return s.Put(ctx, nil, links...)
}

// leafName keeps dag-pb's name ordering equal to chunk order.
func leafName(i int) string {
	return fmt.Sprintf("%08d", i)
}

// ReadFile reassembles content stored by StoreReader.
func (s *Store) ReadFile(ctx context.Context, root cid.Cid) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.WriteFile(ctx, root, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile streams content stored by StoreReader to w, following links
// depth-first.
func (s *Store) WriteFile(ctx context.Context, root cid.Cid, w io.Writer) error {
	blk, err := s.GetBlock(ctx, root)
	if err != nil {
		return err
	}
	payload, err := blk.Payload()
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	for _, l := range blk.Links {
		if err := s.WriteFile(ctx, l.CID, w); err != nil {
			return err
		}
	}
	return nil
}

// FetchResult is what a Fetcher returns for a URL.
type FetchResult struct {
	Status      int
	Content     []byte
	ContentType string
}

// Fetcher obtains raw bytes for a URL. Implementations live outside this
// module; the store only hashes and keeps what they return.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (*FetchResult, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	return f(ctx, url)
}

// StoreURL fetches url and stores its content with StoreReader.
func (s *Store) StoreURL(ctx context.Context, f Fetcher, url string) (cid.Cid, *FetchResult, error) {
	res, err := f.Fetch(ctx, url)
	if err != nil {
		return cid.Undef, nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if res.Status < 200 || res.Status > 299 {
		return cid.Undef, res, fmt.Errorf("%w: %s: %d", ErrBadFetchResponse, url, res.Status)
	}
	c, err := s.StoreReader(ctx, bytes.NewReader(res.Content))
	if err != nil {
		return cid.Undef, res, err
	}
	return c, res, nil
}
