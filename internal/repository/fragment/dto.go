package fragment

import (
	"encoding/binary"
	"math"
	"strconv"
	"time"

	"github.com/lumora-cloud/ragserve/internal/domain"
)

// fragmentToHash flattens a fragment into Redis hash fields.
func fragmentToHash(f domain.Fragment) map[string]string {
	return map[string]string{
		"__doc_id":  f.DocumentID,
		"__content": f.Content,
		"__vector":  vectorToBytes(f.Embedding),
	}
}

// hashToFragment reconstructs a fragment from hash fields. The embedding is
// not deserialized: snapshot consumers rank lexically and search vectors
// through the index, so hauling vectors back is wasted bandwidth.
func hashToFragment(id string, m map[string]string) domain.Fragment {
	return domain.Fragment{
		ID:         id,
		DocumentID: m["__doc_id"],
		Content:    m["__content"],
	}
}

func documentToHash(doc domain.Document) map[string]string {
	return map[string]string{
		"title":       doc.Title,
		"uploaded_at": doc.UploadedAt.UTC().Format(time.RFC3339),
		"fragments":   strconv.Itoa(doc.Fragments),
	}
}

func hashToDocument(id string, m map[string]string) domain.Document {
	doc := domain.Document{
		ID:    id,
		Title: m["title"],
	}
	if t, err := time.Parse(time.RFC3339, m["uploaded_at"]); err == nil {
		doc.UploadedAt = t
	}
	if n, err := strconv.Atoi(m["fragments"]); err == nil {
		doc.Fragments = n
	}
	return doc
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
