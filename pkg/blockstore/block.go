package blockstore

import (
	"fmt"

	"github.com/ipfs/boxo/ipld/merkledag"
	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"
)

// Link is a named, sized reference from one block to another.
type Link struct {
	Name string  `json:"name"`
	CID  cid.Cid `json:"cid"`
	Size uint64  `json:"size"`
}

// Block is an immutable payload with its identifier.
//
// Data is the bytes actually stored under CID. For a dag-pb block that is the
// protobuf node encoding; Payload returns the caller's original bytes.
type Block struct {
	CID   cid.Cid
	Data  []byte
	Links []Link
}

// Payload returns the user payload carried by the block.
func (b Block) Payload() ([]byte, error) {
	if b.CID.Type() != CodecDagPB {
		return b.Data, nil
	}
	nd, err := merkledag.DecodeProtobuf(b.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode dag-pb %s: %v", ErrCorruptBlock, b.CID, err)
	}
	return nd.Data(), nil
}

// encodeBlock builds the stored form of a payload. Without links it is the
// payload itself under codec; with links it is a dag-pb node whose data field
// is the payload. Links are ordered by name as dag-pb requires.
func encodeBlock(h Hasher, codec uint64, payload []byte, links []Link) (Block, error) {
	if len(links) == 0 {
		c, err := h.Sum(codec, payload)
		if err != nil {
			return Block{}, err
		}
		return Block{CID: c, Data: payload}, nil
	}

	nd := merkledag.NodeWithData(payload)
	if err := nd.SetCidBuilder(h.Builder(CodecDagPB)); err != nil {
		return Block{}, fmt.Errorf("set cid builder: %w", err)
	}
	for _, l := range links {
		if !l.CID.Defined() {
			return Block{}, fmt.Errorf("%w: link %q has undefined CID", ErrInvalidCID, l.Name)
		}
		if err := nd.AddRawLink(l.Name, &format.Link{Name: l.Name, Size: l.Size, Cid: l.CID}); err != nil {
			return Block{}, fmt.Errorf("add link %q: %w", l.Name, err)
		}
	}
	data, err := nd.EncodeProtobuf(false)
	if err != nil {
		return Block{}, fmt.Errorf("encode dag-pb: %w", err)
	}
	return Block{CID: nd.Cid(), Data: data, Links: decodeFormatLinks(nd.Links())}, nil
}

// decodeLinks extracts the links of a stored block. Only dag-pb blocks carry
// links; every other codec is a leaf.
func decodeLinks(c cid.Cid, data []byte) ([]Link, error) {
	if c.Type() != CodecDagPB {
		return nil, nil
	}
	nd, err := merkledag.DecodeProtobuf(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode dag-pb %s: %v", ErrCorruptBlock, c, err)
	}
	return decodeFormatLinks(nd.Links()), nil
}

func decodeFormatLinks(in []*format.Link) []Link {
	if len(in) == 0 {
		return nil
	}
	out := make([]Link, len(in))
	for i, l := range in {
		out[i] = Link{Name: l.Name, CID: l.Cid, Size: l.Size}
	}
	return out
}
