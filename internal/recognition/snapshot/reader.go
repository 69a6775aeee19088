package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/invertedfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Reader gives random access to the sections of a snapshot file. Posting
// blocks are read on demand.
type Reader struct {
	file     *os.File
	filePath string
	size     int64
	header   Header
	footer   Footer
	dict     []DictEntry
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot file: %w", err)
	}
	r, err := newReader(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f *os.File, path string) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat snapshot file: %w", err)
	}
	size := info.Size()
	if size < int64(HeaderSize+FooterSize) {
		return nil, fmt.Errorf("%w: file of %d bytes is too short", apperrors.ErrSnapshotCorrupt, size)
	}

	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	header := parseHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x", apperrors.ErrSnapshotCorrupt, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", apperrors.ErrSnapshotCorrupt, header.Version)
	}

	footerBytes := make([]byte, FooterSize)
	if _, err := f.ReadAt(footerBytes, size-int64(FooterSize)); err != nil {
		return nil, fmt.Errorf("%w: reading footer: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	footer := Footer{
		DictChecksum:     binary.LittleEndian.Uint32(footerBytes[0:4]),
		RegistryChecksum: binary.LittleEndian.Uint32(footerBytes[4:8]),
		PostOffset:       int64(binary.LittleEndian.Uint64(footerBytes[8:16])),
		PostSize:         int64(binary.LittleEndian.Uint64(footerBytes[16:24])),
		HeaderChecksum:   binary.LittleEndian.Uint32(footerBytes[24:28]),
	}
	if crc32.ChecksumIEEE(headerBytes) != footer.HeaderChecksum {
		return nil, fmt.Errorf("%w: header checksum mismatch", apperrors.ErrSnapshotCorrupt)
	}

	r := &Reader{
		file:     f,
		filePath: path,
		size:     size,
		header:   header,
		footer:   footer,
	}
	if err := r.checkSection("registry", header.RegistryOffset, header.RegistrySize); err != nil {
		return nil, err
	}
	if err := r.checkSection("postings", footer.PostOffset, footer.PostSize); err != nil {
		return nil, err
	}
	if err := r.checkSection("dictionary", header.DictOffset, header.DictSize); err != nil {
		return nil, err
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("%w: reading dictionary: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	if crc32.ChecksumIEEE(dictBytes) != footer.DictChecksum {
		return nil, fmt.Errorf("%w: dictionary checksum mismatch", apperrors.ErrSnapshotCorrupt)
	}
	if err := msgpack.Unmarshal(dictBytes, &r.dict); err != nil {
		return nil, fmt.Errorf("%w: parsing dictionary: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	for _, e := range r.dict {
		if e.PostOffset < 0 || e.PostLen < 0 || e.PostOffset > footer.PostSize-int64(e.PostLen) {
			return nil, fmt.Errorf("%w: postings of word %d lie outside the postings section",
				apperrors.ErrSnapshotCorrupt, e.Word)
		}
	}
	return r, nil
}

// checkSection rejects a section that does not lie between the header and
// the footer.
func (r *Reader) checkSection(name string, offset, size int64) error {
	end := r.size - int64(FooterSize)
	if offset < int64(HeaderSize) || size < 0 || offset > end || size > end-offset {
		return fmt.Errorf("%w: %s section [%d, +%d) outside file of %d bytes",
			apperrors.ErrSnapshotCorrupt, name, offset, size, r.size)
	}
	return nil
}

func (r *Reader) Header() Header {
	return r.header
}

// Words returns the number of words that have at least one posting.
func (r *Reader) Words() int {
	return len(r.dict)
}

// Dictionary returns a copy of the dictionary, ordered by word.
func (r *Reader) Dictionary() []DictEntry {
	return append([]DictEntry(nil), r.dict...)
}

// Postings returns the posting list of word, or nil when the word was never
// observed.
func (r *Reader) Postings(word int) ([]invertedfile.Posting, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return int(r.dict[i].Word) >= word
	})
	if idx >= len(r.dict) || int(r.dict[idx].Word) != word {
		return nil, nil
	}
	return r.readPostings(r.dict[idx])
}

// Registry returns the image identifiers in internal index order.
func (r *Reader) Registry() ([]string, error) {
	data := make([]byte, r.header.RegistrySize)
	if _, err := r.file.ReadAt(data, r.header.RegistryOffset); err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	if crc32.ChecksumIEEE(data) != r.footer.RegistryChecksum {
		return nil, fmt.Errorf("%w: registry checksum mismatch", apperrors.ErrSnapshotCorrupt)
	}
	var ids []string
	if err := msgpack.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: parsing registry: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	if len(ids) != int(r.header.NumImages) {
		return nil, fmt.Errorf("%w: registry has %d ids, header says %d",
			apperrors.ErrSnapshotCorrupt, len(ids), r.header.NumImages)
	}
	return ids, nil
}

// Load reads the whole snapshot into memory.
func (r *Reader) Load() (*State, error) {
	ids, err := r.Registry()
	if err != nil {
		return nil, err
	}
	state := &State{
		NumWords: int(r.header.NumWords),
		Norm:     r.header.Norm,
		Images:   ids,
		Postings: make([][]invertedfile.Posting, r.header.NumWords),
	}
	for _, entry := range r.dict {
		if entry.Word < 0 || int(entry.Word) >= state.NumWords {
			return nil, fmt.Errorf("%w: word %d outside vocabulary of %d",
				apperrors.ErrSnapshotCorrupt, entry.Word, state.NumWords)
		}
		postings, err := r.readPostings(entry)
		if err != nil {
			return nil, err
		}
		state.Postings[entry.Word] = postings
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	return state, nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}

func (r *Reader) readPostings(entry DictEntry) ([]invertedfile.Posting, error) {
	data := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(data, r.footer.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings for word %d: %w", entry.Word, err)
	}
	var postings []invertedfile.Posting
	if err := msgpack.Unmarshal(data, &postings); err != nil {
		return nil, fmt.Errorf("%w: parsing postings for word %d: %v", apperrors.ErrSnapshotCorrupt, entry.Word, err)
	}
	if len(postings) != entry.Count {
		return nil, fmt.Errorf("%w: word %d has %d postings, dictionary says %d",
			apperrors.ErrSnapshotCorrupt, entry.Word, len(postings), entry.Count)
	}
	return postings, nil
}

// Read opens path, loads it and closes the file.
func Read(path string) (*State, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Load()
}
