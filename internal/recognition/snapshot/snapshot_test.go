package snapshot

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/invertedfile"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/norm"
	apperrors "github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *State {
	return &State{
		NumWords: 5,
		Norm:     norm.L1,
		Images:   []string{"cat1", "dog1", "cat2"},
		Postings: [][]invertedfile.Posting{
			{{Image: 0, Weight: 0.6}, {Image: 2, Weight: 0.5}},
			{{Image: 0, Weight: 0.4}},
			nil,
			{{Image: 1, Weight: 0.5}, {Image: 2, Weight: 0.5}},
			{{Image: 1, Weight: 0.5}},
		},
	}
}

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index"+Extension)
	state := sampleState()
	require.NoError(t, Write(path, state))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, state, loaded)
}

func TestReaderRandomAccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index"+Extension)
	require.NoError(t, Write(path, sampleState()))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	h := r.Header()
	assert.Equal(t, uint32(5), h.NumWords)
	assert.Equal(t, uint32(3), h.NumImages)
	assert.Equal(t, norm.L1, h.Norm)
	assert.Equal(t, 4, r.Words())

	postings, err := r.Postings(3)
	require.NoError(t, err)
	assert.Equal(t, []invertedfile.Posting{{Image: 1, Weight: 0.5}, {Image: 2, Weight: 0.5}}, postings)

	postings, err = r.Postings(2)
	require.NoError(t, err)
	assert.Nil(t, postings)
}

func TestCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index"+Extension)
	require.NoError(t, Write(path, sampleState()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	badMagic := append([]byte(nil), data...)
	badMagic[0] ^= 0xff
	p := filepath.Join(dir, "magic"+Extension)
	require.NoError(t, os.WriteFile(p, badMagic, 0o644))
	_, err = Read(p)
	assert.ErrorIs(t, err, apperrors.ErrSnapshotCorrupt)

	h := parseHeader(data[:HeaderSize])
	badDict := append([]byte(nil), data...)
	badDict[h.DictOffset] ^= 0xff
	p = filepath.Join(dir, "dict"+Extension)
	require.NoError(t, os.WriteFile(p, badDict, 0o644))
	_, err = Read(p)
	assert.ErrorIs(t, err, apperrors.ErrSnapshotCorrupt)
}

func TestWriteRejectsInconsistentState(t *testing.T) {
	state := sampleState()
	state.Postings[4] = []invertedfile.Posting{{Image: 9, Weight: 1}}
	err := Write(filepath.Join(t.TempDir(), "bad"+Extension), state)
	assert.Error(t, err)

	state = sampleState()
	state.NumWords = 6
	assert.Error(t, state.Validate())
}

func TestCorruptHeaderIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index"+Extension)
	require.NoError(t, Write(path, sampleState()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	cases := map[string]func(b []byte){
		"huge dictionary size": func(b []byte) {
			for i := 56; i < 64; i++ {
				b[i] = 0xff
			}
		},
		"negative registry size": func(b []byte) {
			binary.LittleEndian.PutUint64(b[40:48], uint64(1)<<63)
		},
		"registry past end of file": func(b []byte) {
			binary.LittleEndian.PutUint64(b[32:40], uint64(len(b)))
		},
		"truncated file": nil,
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			damaged := append([]byte(nil), data...)
			if mutate == nil {
				damaged = damaged[:HeaderSize+FooterSize-1]
			} else {
				mutate(damaged)
			}
			p := filepath.Join(dir, "damaged"+Extension)
			require.NoError(t, os.WriteFile(p, damaged, 0o644))

			var readErr error
			require.NotPanics(t, func() { _, readErr = Read(p) })
			assert.ErrorIs(t, readErr, apperrors.ErrSnapshotCorrupt)
		})
	}
}

func TestSectionBoundsCheckedWithoutHeaderChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index"+Extension)
	require.NoError(t, Write(path, sampleState()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Rewrite the header checksum so only the bounds checks stand between a
	// bogus size and the allocation.
	binary.LittleEndian.PutUint64(data[56:64], ^uint64(0))
	footer := data[len(data)-FooterSize:]
	binary.LittleEndian.PutUint32(footer[24:28], crc32.ChecksumIEEE(data[:HeaderSize]))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	var readErr error
	require.NotPanics(t, func() { _, readErr = Read(path) })
	assert.ErrorIs(t, readErr, apperrors.ErrSnapshotCorrupt)
	assert.Contains(t, readErr.Error(), "dictionary section")
}

func TestWriteLeavesNoTempFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory at the target path makes the final rename fail.
	path := filepath.Join(dir, "index"+Extension)
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), nil, 0o644))

	err := Write(path, sampleState())
	require.Error(t, err)
	_, statErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}
