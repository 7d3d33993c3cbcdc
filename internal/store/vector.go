package store

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// vectorIndex wraps a coder/hnsw graph with string-id mapping and lazy
// deletion. Vectors are normalized for cosine distance; _distance returned
// to callers is the raw cosine distance (smaller = closer).
type vectorIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	dims    int
}

type vectorMeta struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dims    int
}

func newVectorIndex(dims int) *vectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 32
	graph.Ml = 0.25
	return &vectorIndex{
		graph:  graph,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		dims:   dims,
	}
}

// Add inserts or replaces a vector. Replaced ids are lazily deleted: the old
// node stays in the graph but is unmapped and never surfaces in results.
func (v *vectorIndex) Add(id string, vec []float32) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if oldKey, exists := v.idMap[id]; exists {
		delete(v.keyMap, oldKey)
		delete(v.idMap, id)
	}

	key := v.nextKey
	v.nextKey++

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)

	v.graph.Add(hnsw.MakeNode(key, normalized))
	v.idMap[id] = key
	v.keyMap[key] = id
}

// Delete unmaps ids (lazy deletion).
func (v *vectorIndex) Delete(ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		if key, exists := v.idMap[id]; exists {
			delete(v.keyMap, key)
			delete(v.idMap, id)
		}
	}
}

// Hit is one KNN result.
type Hit struct {
	ID       string
	Distance float32
}

// Search returns up to k nearest neighbours by cosine distance.
func (v *vectorIndex) Search(query []float32, k int) []Hit {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph.Len() == 0 || k <= 0 {
		return nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for lazily deleted nodes.
	nodes := v.graph.Search(normalized, k+len(v.keyMap)/8+4)

	hits := make([]Hit, 0, k)
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: id, Distance: v.graph.Distance(normalized, node.Value)})
		if len(hits) == k {
			break
		}
	}
	return hits
}

// Count returns the number of live vectors.
func (v *vectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// Save persists the graph and id mappings atomically (temp file + rename).
func (v *vectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vectors dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := v.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	metaTmp := path + ".meta.tmp"
	mf, err := os.Create(metaTmp)
	if err != nil {
		return err
	}
	meta := vectorMeta{IDMap: v.idMap, NextKey: v.nextKey, Dims: v.dims}
	if err := gob.NewEncoder(mf).Encode(meta); err != nil {
		_ = mf.Close()
		_ = os.Remove(metaTmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		_ = os.Remove(metaTmp)
		return err
	}
	return os.Rename(metaTmp, path+".meta")
}

// Load restores the graph and mappings from disk.
func (v *vectorIndex) Load(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	mf, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("open metadata: %w", err)
	}
	defer mf.Close()

	var meta vectorMeta
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	v.idMap = meta.IDMap
	v.nextKey = meta.NextKey
	v.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		v.keyMap[key] = id
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	// coder/hnsw Import requires an io.ByteReader.
	return v.graph.Import(bufio.NewReader(f))
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// fitDimension pads or truncates a vector to dims so embeddings from models
// with other native dimensions still fit the schema.
func fitDimension(vec []float32, dims int) []float32 {
	if len(vec) == dims {
		return vec
	}
	out := make([]float32, dims)
	copy(out, vec)
	return out
}

// encodeVector serializes a vector as little-endian float32s.
func encodeVector(vec []float32, dims int) []byte {
	vec = fitDimension(vec, dims)
	buf := make([]byte, 4*len(vec))
	for i, x := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// decodeVector deserializes a stored vector, fitting it to dims. Returns
// nil for empty blobs.
func decodeVector(blob []byte, dims int) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return fitDimension(vec, dims)
}
