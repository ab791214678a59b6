package blockstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
)

// ExportCAR writes a CARv1 file at path and returns its root, which is the
// first of cids.
//
// Every listed block is written, together with every block reachable from
// them through links, each exactly once. All blocks must be available.
func (s *Store) ExportCAR(ctx context.Context, cids []cid.Cid, path string) (cid.Cid, error) {
	if len(cids) == 0 {
		return cid.Undef, fmt.Errorf("%w: no CIDs to export", ErrInvalidCID)
	}
	f, err := os.Create(path)
	if err != nil {
		return cid.Undef, fmt.Errorf("create car file: %w", err)
	}
	err = writeCARFile(f, path, func(w io.Writer) error {
		return s.WriteCAR(ctx, cids[:1], cids, w)
	})
	if err != nil {
		return cid.Undef, err
	}
	return cids[0], nil
}

// writeCARFile buffers write into f, flushes and closes it. On any failure
// f is closed and path is removed.
func writeCARFile(f io.WriteCloser, path string, write func(io.Writer) error) error {
	w := bufio.NewWriter(f)
	err := write(w)
	if err == nil {
		if err = w.Flush(); err != nil {
			err = fmt.Errorf("flush car file: %w", err)
		}
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close car file: %w", err)
	}
	return nil
}

// WriteCAR streams a CARv1 archive with the given header roots. The block
// set is the link closure of roots plus include, in depth-first order.
func (s *Store) WriteCAR(ctx context.Context, roots, include []cid.Cid, w io.Writer) error {
	if err := car.WriteHeader(&car.CarHeader{Roots: roots, Version: 1}, w); err != nil {
		return fmt.Errorf("write car header: %w", err)
	}

	seen := cid.NewSet()
	var walk func(c cid.Cid) error
	walk = func(c cid.Cid) error {
		if !seen.Visit(c) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		blk, err := s.GetBlock(ctx, c)
		if err != nil {
			return fmt.Errorf("export %s: %w", c, err)
		}
		if err := carutil.LdWrite(w, c.Bytes(), blk.Data); err != nil {
			return fmt.Errorf("write car block: %w", err)
		}
		for _, l := range blk.Links {
			if err := walk(l.CID); err != nil {
				return err
			}
		}
		return nil
	}

	for _, c := range roots {
		if err := walk(c); err != nil {
			return err
		}
	}
	for _, c := range include {
		if err := walk(c); err != nil {
			return err
		}
	}
	return nil
}

// ImportCAR loads every block of the CAR file at path into the store and
// returns the header roots. Blocks whose content does not match their CID
// fail the import with ErrCorruptBlock.
func (s *Store) ImportCAR(ctx context.Context, path string) ([]cid.Cid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open car file: %w", err)
	}
	defer f.Close()
	return s.ReadCAR(ctx, f)
}

// ReadCAR loads every block from a CARv1 stream and returns its roots.
func (s *Store) ReadCAR(ctx context.Context, r io.Reader) ([]cid.Cid, error) {
	cr, err := car.NewCarReaderWithOptions(r, car.WithErrorOnEmptyRoots(false))
	if err != nil {
		return nil, fmt.Errorf("%w: read car header: %v", ErrCorruptBlock, err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blk, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read car block: %v", ErrCorruptBlock, err)
		}
		if err := s.putBlock(ctx, Block{CID: blk.Cid(), Data: blk.RawData()}); err != nil {
			return nil, err
		}
	}
	return cr.Header.Roots, nil
}
