package blockstore

import (
	"context"

	"github.com/ipfs/go-cid"
	"golang.org/x/sync/errgroup"
)

// PutBatch stores every payload as a raw block and returns CIDs in input
// order. Work is spread over at most Options.Workers goroutines; each worker
// writes only its own result slot. The first error cancels the rest.
func (s *Store) PutBatch(ctx context.Context, payloads [][]byte) ([]cid.Cid, error) {
	out := make([]cid.Cid, len(payloads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, p := range payloads {
		g.Go(func() error {
			c, err := s.Put(gctx, p)
			if err != nil {
				return err
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// PutJSONBatch stores the JSON encoding of each value, preserving order.
func (s *Store) PutJSONBatch(ctx context.Context, values []any) ([]cid.Cid, error) {
	out := make([]cid.Cid, len(values))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, v := range values {
		g.Go(func() error {
			c, err := s.PutJSON(gctx, v)
			if err != nil {
				return err
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBatch returns the payloads for cids in input order. Any missing or
// corrupt block fails the whole batch.
func (s *Store) GetBatch(ctx context.Context, cids []cid.Cid) ([][]byte, error) {
	out := make([][]byte, len(cids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, c := range cids {
		g.Go(func() error {
			data, err := s.Get(gctx, c)
			if err != nil {
				return err
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
