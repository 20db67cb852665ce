// Command sectionctl is the client-facing counterpart to sectionnode: it
// self-encrypts a file into a DataMap and chunk set, persists them through
// the same on-disk chunk store a section elder uses, and reverses the
// process on read. It talks to local storage directly rather than over the
// wire; querying a remote section's elders is sectionnode's job once the
// client query pipeline (PendingQueryTable/QueryTargets) has a transport to
// run over.
package main

import (
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sectionnet/core"
)

var storeDir string

// manifest is the on-disk record sectionctl writes after an upload: enough
// to reassemble the original payload from the chunk store without talking
// to a section.
type manifest struct {
	DataMap  *core.DataMap `json:"data_map"`
	Scope    core.Scope    `json:"scope"`
	OwnerKey [32]byte      `json:"owner_key"`
}

func openStore() (*core.ChunkStore, error) {
	lg := logrus.New()
	lg.SetLevel(logrus.WarnLevel)
	return core.NewChunkStore(&core.StorageConfig{CacheDir: storeDir, CacheSizeEntries: 4096}, lg)
}

func upload(cmd *cobra.Command, args []string) error {
	private, _ := cmd.Flags().GetBool("private")
	out, _ := cmd.Flags().GetString("manifest")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	scope := core.ScopePublic
	var ownerKey [32]byte
	if private {
		scope = core.ScopePrivate
		if _, err := crand.Read(ownerKey[:]); err != nil {
			return fmt.Errorf("generate owner key: %w", err)
		}
	}

	dm, chunks, err := core.SelfEncrypt(data, scope, ownerKey)
	if err != nil {
		return fmt.Errorf("self-encrypt: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	for _, c := range chunks {
		if err := store.Put(c.Address, c.Data); err != nil {
			return fmt.Errorf("put chunk %s: %w", c.Address, err)
		}
	}

	m := manifest{DataMap: dm, Scope: scope, OwnerKey: ownerKey}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if out == "" {
		out = args[0] + ".manifest.json"
	}
	if err := os.WriteFile(out, raw, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "stored %d chunk(s), manifest %s\n", len(chunks), out)
	return nil
}

func read(cmd *cobra.Command, args []string) error {
	offset, _ := cmd.Flags().GetInt("offset")
	length, _ := cmd.Flags().GetInt("length")
	out, _ := cmd.Flags().GetString("output")

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	leaf, err := core.ResolveDataMap(m.DataMap, store.Get)
	if err != nil {
		return fmt.Errorf("resolve data map: %w", err)
	}

	if length <= 0 {
		length = leaf.TotalSize() - offset
	}
	firstIdx, lastIdx, startInFirst, endInLast := core.SeekRange(leaf, offset, length)
	if firstIdx < 0 {
		return fmt.Errorf("read range out of bounds")
	}

	parts := make([][]byte, 0, lastIdx-firstIdx+1)
	for i := firstIdx; i <= lastIdx; i++ {
		info := leaf.Chunks[i]
		ciphertext, err := store.Get(info.DstHash)
		if err != nil {
			return fmt.Errorf("get chunk %d (%s): %w", i, info.DstHash, err)
		}
		plaintext, err := core.DecryptPart(info, ciphertext)
		if err != nil {
			return fmt.Errorf("decrypt chunk %d: %w", i, err)
		}
		parts = append(parts, plaintext)
	}

	data := core.Reassemble(parts, startInFirst, endInLast)

	if out == "" || out == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func calculateAddress(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	addr := core.HashBytes(data)
	fmt.Fprintln(cmd.OutOrStdout(), addr.String())
	return nil
}

var rootCmd = &cobra.Command{Use: "sectionctl", Short: "Self-encrypt, store and retrieve files against a local chunk store"}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Self-encrypt a file and persist its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  upload,
}

var readCmd = &cobra.Command{
	Use:   "read <manifest>",
	Short: "Reassemble a file (or byte range) from its manifest and chunk store",
	Args:  cobra.ExactArgs(1),
	RunE:  read,
}

var addressCmd = &cobra.Command{
	Use:   "calculate-address <file>",
	Short: "Print the SHA3-256 address of a file's bytes (the chunk address of a small public upload)",
	Args:  cobra.ExactArgs(1),
	RunE:  calculateAddress,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeDir, "store", "sectionctl-store", "local chunk store directory")
	uploadCmd.Flags().Bool("private", false, "encrypt under a fresh owner key instead of storing public plaintext")
	uploadCmd.Flags().String("manifest", "", "manifest output path (default: <file>.manifest.json)")
	readCmd.Flags().Int("offset", 0, "byte offset to start reading from")
	readCmd.Flags().Int("length", 0, "number of bytes to read (default: to end of file)")
	readCmd.Flags().StringP("output", "o", "", "output path (default: stdout)")
	rootCmd.AddCommand(uploadCmd, readCmd, addressCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
