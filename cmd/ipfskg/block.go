package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"github.com/endomorphosis/ipfskg/pkg/blockstore"
)

func newBlockCmd() *cobra.Command {
	blockCmd := &cobra.Command{
		Use:   "block",
		Short: "Raw block operations",
	}

	putCmd := &cobra.Command{
		Use:   "put [file]",
		Short: "Store a file (or stdin) as a single block",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBlockPut,
	}
	putCmd.Flags().Bool("json", false, "Store as dag-json (input must be valid JSON)")
	blockCmd.AddCommand(putCmd)

	blockCmd.AddCommand(&cobra.Command{
		Use:   "get <cid>",
		Short: "Write a block's payload to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  runBlockGet,
	})
	blockCmd.AddCommand(&cobra.Command{
		Use:   "stat <cid>",
		Short: "Show a block's codec, size and links",
		Args:  cobra.ExactArgs(1),
		RunE:  runBlockStat,
	})
	return blockCmd
}

func newAddCmd() *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add <file|url>",
		Short: "Chunk a file (or fetch a URL) into linked blocks",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
	}
	addCmd.Flags().Bool("url", false, "Treat the argument as an http(s) URL")
	return addCmd
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <cid>",
		Short: "Reassemble a file added with 'add' to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  runCat,
	}
}

func newCARCmd() *cobra.Command {
	carCmd := &cobra.Command{
		Use:   "car",
		Short: "CAR archive import and export",
	}
	carCmd.AddCommand(&cobra.Command{
		Use:   "export <file> <cid>...",
		Short: "Export blocks and everything they link to",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runCARExport,
	})
	carCmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import a CAR archive and print its roots",
		Args:  cobra.ExactArgs(1),
		RunE:  runCARImport,
	})
	return carCmd
}

func readInput(args []string, stdin io.Reader) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(args[0])
}

func runBlockPut(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	data, err := readInput(args, cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	var codec uint64 = blockstore.CodecRaw
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		codec = blockstore.CodecDagJSON
	}
	c, err := e.store.PutWithCodec(cmd.Context(), codec, data)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), c)
	return nil
}

func runBlockGet(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	c, err := blockstore.ParseCID(args[0])
	if err != nil {
		return err
	}
	data, err := e.store.Get(cmd.Context(), c)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runBlockStat(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	c, err := blockstore.ParseCID(args[0])
	if err != nil {
		return err
	}
	blk, err := e.store.GetBlock(cmd.Context(), c)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "CID:    %s\n", blk.CID)
	fmt.Fprintf(out, "Codec:  %s\n", codecName(blk.CID))
	fmt.Fprintf(out, "Size:   %d\n", len(blk.Data))
	fmt.Fprintf(out, "Links:  %d\n", len(blk.Links))
	for _, l := range blk.Links {
		fmt.Fprintf(out, "  %-12s %s %d\n", l.Name, l.CID, l.Size)
	}
	return nil
}

func codecName(c cid.Cid) string {
	switch c.Type() {
	case blockstore.CodecRaw:
		return "raw"
	case blockstore.CodecDagPB:
		return "dag-pb"
	case blockstore.CodecDagJSON:
		return "dag-json"
	}
	return fmt.Sprintf("0x%x", c.Type())
}

func runAdd(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	if isURL, _ := cmd.Flags().GetBool("url"); isURL {
		c, res, err := e.store.StoreURL(ctx, blockstore.FetcherFunc(httpFetch), args[0])
		if err != nil {
			return err
		}
		e.logger.Info("url stored", "url", args[0], "content_type", res.ContentType, "bytes", len(res.Content))
		fmt.Fprintln(cmd.OutOrStdout(), c)
		return nil
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	c, err := e.store.StoreReader(ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), c)
	return nil
}

// httpFetch is the CLI's Fetcher. Response bodies are capped at 256 MiB.
func httpFetch(ctx context.Context, url string) (*blockstore.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, 256<<20)); err != nil {
		return nil, err
	}
	return &blockstore.FetchResult{
		Status:      resp.StatusCode,
		Content:     buf.Bytes(),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func runCat(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	c, err := blockstore.ParseCID(args[0])
	if err != nil {
		return err
	}
	return e.store.WriteFile(cmd.Context(), c, cmd.OutOrStdout())
}

func runCARExport(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	cids := make([]cid.Cid, 0, len(args)-1)
	for _, s := range args[1:] {
		c, err := blockstore.ParseCID(s)
		if err != nil {
			return err
		}
		cids = append(cids, c)
	}
	root, err := e.store.ExportCAR(cmd.Context(), cids, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", root, args[0])
	return nil
}

func runCARImport(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	roots, err := e.store.ImportCAR(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	for _, r := range roots {
		fmt.Fprintln(cmd.OutOrStdout(), r)
	}
	return nil
}
