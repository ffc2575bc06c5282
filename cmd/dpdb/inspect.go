package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dpdb/internal/index"
	"dpdb/internal/keylocator"
	"dpdb/internal/sector"
	"dpdb/internal/storage"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "print a dpdb file's header, freelist heads, root collection and live key count",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	st, err := storage.Open(path, storage.Config{ReadOnly: true})
	if err != nil {
		return err
	}
	defer st.Close()

	h := st.Header()
	fmt.Printf("File: %s\n", path)
	fmt.Printf("  format version:  %d\n", h.Version)
	fmt.Printf("  byte size:       %d\n", h.ByteSize)
	fmt.Printf("  digest size:     %d bytes\n", h.DigestSize)
	fmt.Printf("  max buckets:     %d\n", h.MaxBuckets)
	fmt.Printf("  fanout:          %d\n", h.Fanout())
	for c := sector.ClassIndex(0); c < sector.NumSizeClasses; c++ {
		fmt.Printf("  freelist[%d] head: %d\n", c, h.FreelistHead[c])
	}

	kl := keylocator.New(st, nil)
	base := st.BaseKeyLocatorOffset()
	rootDataOff, deleted, found, err := kl.ReadFor(base, 0)
	if err != nil {
		return err
	}
	fmt.Printf("\nBase key locator at %s (%d bytes into file):\n", humanize.Bytes(uint64(base)), base)
	if !found || deleted || rootDataOff == 0 {
		fmt.Println("  (no root collection)")
		return nil
	}
	fmt.Printf("  root collection data sector: %d\n", rootDataOff)

	rootDataFrame, err := st.Sizes().FrameSize(sector.TypeData)
	if err != nil {
		return err
	}
	buf, err := st.ReadAt(rootDataOff, rootDataFrame)
	if err != nil {
		return err
	}
	typ, content, err := sector.DecodeFrame(st.Sizes(), buf)
	if err != nil || typ != sector.TypeData {
		return fmt.Errorf("root collection sector is not a Data sector")
	}
	dn, err := sector.DecodeDataNode(st.Sizes(), content)
	if err != nil {
		return err
	}
	fmt.Printf("  payload kind: %v\n", dn.Payload)
	fmt.Printf("  trie root:    %d\n", dn.ChainOff)

	ix := index.New(st, nil, nil)
	live := 0
	it := ix.NewIterator(dn.ChainOff)
	for {
		off, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		_, deleted, found, err := kl.ReadFor(off, 0)
		if err != nil {
			return err
		}
		if found && !deleted {
			live++
		}
	}
	fmt.Printf("  live keys:    %d\n", live)
	return nil
}
