package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/kotae/internal/models"
)

// MemoryIndex is an in-memory vector index using brute-force cosine similarity.
// When a snapshot path is set, Save and Load persist it to a single binary file.
type MemoryIndex struct {
	dimensions int
	snapshot   string
	records    map[string]*Record
	order      []string
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		records:    make(map[string]*Record),
	}, nil
}

// Upsert inserts or replaces records by ID.
func (m *MemoryIndex) Upsert(ctx context.Context, records []Record) error {
	for _, r := range records {
		if len(r.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Vector), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		vec := make([]float32, m.dimensions)
		copy(vec, r.Vector)
		meta := make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		if _, exists := m.records[r.ID]; !exists {
			m.order = append(m.order, r.ID)
		}
		m.records[r.ID] = &Record{ID: r.ID, Vector: vec, Metadata: meta}
	}
	return nil
}

// Query returns the top-k records by cosine similarity.
func (m *MemoryIndex) Query(ctx context.Context, query []float32, k int) ([]Match, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.order) == 0 {
		return nil, nil
	}
	matches := make([]Match, 0, len(m.order))
	for _, id := range m.order {
		r := m.records[id]
		matches = append(matches, Match{ID: id, Score: CosineSimilarity(query, r.Vector), Metadata: r.Metadata})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > len(matches) {
		k = len(matches)
	}
	out := make([]Match, k)
	for i := 0; i < k; i++ {
		meta := make(map[string]interface{}, len(matches[i].Metadata))
		for key, v := range matches[i].Metadata {
			meta[key] = v
		}
		out[i] = Match{ID: matches[i].ID, Score: matches[i].Score, Metadata: meta}
	}
	return out, nil
}

// Delete removes every record whose metadata matches filter.
func (m *MemoryIndex) Delete(ctx context.Context, filter Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	for _, id := range m.order {
		if filter.Matches(m.records[id].Metadata) {
			delete(m.records, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return nil
}

// Stats returns the record count and dimension.
func (m *MemoryIndex) Stats(ctx context.Context) (models.IndexStats, error) {
	return models.IndexStats{Count: m.Size(), Dimension: m.dimensions}, nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// OpenMemoryIndex creates a memory index backed by the snapshot file at path,
// loading it if present. Close writes the snapshot back.
func OpenMemoryIndex(dimensions int, path string) (*MemoryIndex, error) {
	m, err := NewMemoryIndex(dimensions)
	if err != nil {
		return nil, err
	}
	if err := m.Load(path); err != nil {
		return nil, err
	}
	m.snapshot = path
	return m, nil
}

// Close saves the snapshot when the index was opened with one.
func (m *MemoryIndex) Close() error {
	return m.Save(m.snapshot)
}

// Save persists the index to path. Directory is created if needed. Format: dimension (4), n (4),
// then per record: idLen (4), id bytes, metaLen (4), metadata JSON, vector (dimension*4 bytes).
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.order))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, id := range m.order {
		r := m.records[id]
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if err := writeBlock(w, []byte(id)); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if err := writeBlock(w, meta); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(r.Vector)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return w.Flush()
}

// Load reads the index from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	records := make(map[string]*Record, n)
	order := make([]string, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		idBytes, err := readBlock(r)
		if err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		metaBytes, err := readBlock(r)
		if err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		var meta map[string]interface{}
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		id := string(idBytes)
		records[id] = &Record{ID: id, Vector: bytesToFloat32Slice(buf), Metadata: meta}
		order = append(order, id)
	}
	m.mu.Lock()
	m.records = records
	m.order = order
	m.mu.Unlock()
	return nil
}

func writeBlock(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBlock(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
