// Package snapshot persists the inverted-file index to a single .vwsnap
// file and reads it back. The file keeps the vocabulary size, registry order
// and posting order so a restored index answers queries exactly like the one
// that was saved.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/invertedfile"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/norm"
	"github.com/vmihailenco/msgpack/v5"
)

// MagicBytes identifies a valid .vwsnap file.
const (
	MagicBytes    uint32 = 0x56575350
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 32
	Extension            = ".vwsnap"
)

// Header is the 64-byte header written at the start of every snapshot.
type Header struct {
	Magic          uint32
	Version        uint32
	NumWords       uint32
	NumImages      uint32
	Norm           norm.Norm
	CreatedAt      int64
	RegistryOffset int64
	RegistrySize   int64
	DictOffset     int64
	DictSize       int64
}

// Footer carries checksums and the location of the postings section.
type Footer struct {
	DictChecksum     uint32
	RegistryChecksum uint32
	PostOffset       int64
	PostSize         int64
	HeaderChecksum   uint32
}

// DictEntry locates the posting block of one word. Words without postings
// have no entry.
type DictEntry struct {
	Word       int32 `msgpack:"w"`
	PostOffset int64 `msgpack:"o"`
	PostLen    int   `msgpack:"l"`
	Count      int   `msgpack:"c"`
}

// State is the in-memory content of a snapshot.
type State struct {
	NumWords int
	Norm     norm.Norm
	Images   []string
	Postings [][]invertedfile.Posting
}

// Validate checks the invariants Restore relies on.
func (s *State) Validate() error {
	if s.NumWords <= 0 {
		return fmt.Errorf("snapshot has %d words", s.NumWords)
	}
	if len(s.Postings) != s.NumWords {
		return fmt.Errorf("snapshot has %d posting lists for %d words", len(s.Postings), s.NumWords)
	}
	for word, list := range s.Postings {
		for _, p := range list {
			if p.Image < 0 || int(p.Image) >= len(s.Images) {
				return fmt.Errorf("word %d references image %d of %d", word, p.Image, len(s.Images))
			}
		}
	}
	return nil
}

// Write atomically creates path from state. It writes to a .tmp file first
// and renames on success.
func Write(path string, state *State) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to write snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	if err := writeFile(f, state); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming snapshot file: %w", err)
	}
	return nil
}

// writeFile encodes state into f, syncs and closes it. f is closed on every
// path.
func writeFile(f *os.File, state *State) error {
	if err := encode(f, state); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing snapshot file: %w", err)
	}
	return nil
}

func encode(f *os.File, state *State) error {
	header := Header{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		NumWords:  uint32(state.NumWords),
		NumImages: uint32(len(state.Images)),
		Norm:      state.Norm,
		CreatedAt: time.Now().Unix(),
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.Write(headerBytes); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	header.RegistryOffset = int64(HeaderSize)
	registryData, err := msgpack.Marshal(state.Images)
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	if _, err := f.Write(registryData); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	header.RegistrySize = int64(len(registryData))

	postingsStart := header.RegistryOffset + header.RegistrySize
	offset := int64(0)
	dict := make([]DictEntry, 0)
	for word, list := range state.Postings {
		if len(list) == 0 {
			continue
		}
		data, err := msgpack.Marshal(list)
		if err != nil {
			return fmt.Errorf("marshaling postings for word %d: %w", word, err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("writing postings for word %d: %w", word, err)
		}
		dict = append(dict, DictEntry{
			Word:       int32(word),
			PostOffset: offset,
			PostLen:    len(data),
			Count:      len(list),
		})
		offset += int64(len(data))
	}

	header.DictOffset = postingsStart + offset
	dictData, err := msgpack.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}
	header.DictSize = int64(len(dictData))
	putHeader(headerBytes, header)

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(registryData))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(postingsStart))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(offset))
	binary.LittleEndian.PutUint32(footer[24:28], crc32.ChecksumIEEE(headerBytes))
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		return fmt.Errorf("updating header: %w", err)
	}
	return nil
}

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.NumWords)
	binary.LittleEndian.PutUint32(b[12:16], h.NumImages)
	binary.LittleEndian.PutUint32(b[16:20], uint32(h.Norm))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.RegistryOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.RegistrySize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.DictSize))
}

func parseHeader(b []byte) Header {
	return Header{
		Magic:          binary.LittleEndian.Uint32(b[0:4]),
		Version:        binary.LittleEndian.Uint32(b[4:8]),
		NumWords:       binary.LittleEndian.Uint32(b[8:12]),
		NumImages:      binary.LittleEndian.Uint32(b[12:16]),
		Norm:           norm.Norm(binary.LittleEndian.Uint32(b[16:20])),
		CreatedAt:      int64(binary.LittleEndian.Uint64(b[24:32])),
		RegistryOffset: int64(binary.LittleEndian.Uint64(b[32:40])),
		RegistrySize:   int64(binary.LittleEndian.Uint64(b[40:48])),
		DictOffset:     int64(binary.LittleEndian.Uint64(b[48:56])),
		DictSize:       int64(binary.LittleEndian.Uint64(b[56:64])),
	}
}
