package versioning

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ourstudio-se/oat-db/internal/model"
)

// Canonicalize produces the deterministic serialization of a payload used
// for commit hashing (spec.md §4.1 "Canonicalization"): classes sorted by
// identifier; within a class, properties/relationships/derived sorted by
// identifier; JSON object keys sorted lexicographically (encoding/json
// emits struct fields in declaration order, so the encoded payload is
// decoded into generic maps and re-encoded, which sorts every object's
// keys); numbers/booleans use Go's default encoding, which already
// normalizes trailing zeros and lowercases bools; timestamps are RFC 3339
// UTC.
func Canonicalize(payload *model.View) ([]byte, error) {
	schema := payload.Schema
	classes := append([]model.ClassDefinition(nil), schema.Classes...)
	sort.Slice(classes, func(i, j int) bool { return classes[i].ID < classes[j].ID })
	for i := range classes {
		sortClassMembers(&classes[i])
	}

	instanceIDs := make([]string, 0, len(payload.Instances))
	for id := range payload.Instances {
		instanceIDs = append(instanceIDs, id)
	}
	sort.Strings(instanceIDs)
	instances := make([]*model.Instance, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		instances = append(instances, payload.Instances[id])
	}

	canonical := struct {
		Classes   []model.ClassDefinition `json:"classes"`
		Instances []*model.Instance       `json:"instances"`
	}{Classes: classes, Instances: instances}

	raw, err := json.Marshal(canonical)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

func sortClassMembers(c *model.ClassDefinition) {
	props := append([]model.PropertyDefinition(nil), c.Properties...)
	sort.Slice(props, func(i, j int) bool { return props[i].ID < props[j].ID })
	c.Properties = props

	rels := append([]model.RelationshipDefinition(nil), c.Relationships...)
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
	c.Relationships = rels

	derived := append([]model.DerivedDefinition(nil), c.Derived...)
	sort.Slice(derived, func(i, j int) bool { return derived[i].ID < derived[j].ID })
	c.Derived = derived
}

// HashInputs are the fields the spec says the commit hash depends on:
// "{parent_hash, author, message, canonical_payload}" (spec.md §4.1).
type HashInputs struct {
	ParentHash *string
	Author     string
	Message    string
	Payload    []byte // canonical payload bytes
}

// ComputeHash computes the SHA-256 commit hash (spec.md §3.1, §3.6).
func ComputeHash(in HashInputs) string {
	h := sha256.New()
	if in.ParentHash != nil {
		h.Write([]byte(*in.ParentHash))
	}
	h.Write([]byte{0})
	h.Write([]byte(in.Author))
	h.Write([]byte{0})
	h.Write([]byte(in.Message))
	h.Write([]byte{0})
	h.Write(in.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// CompressPayload gzips the canonical payload for storage (spec.md §4.1
// "Payload storage").
func CompressPayload(canonical []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(canonical); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressPayload reverses CompressPayload and verifies the decompressed
// size matches claimedSize (spec.md §3.6 "compressed payload must
// decompress to claimed size").
func DecompressPayload(compressed []byte, claimedSize int64) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	if int64(len(data)) != claimedSize {
		return nil, fmt.Errorf("decompressed size %d does not match claimed size %d", len(data), claimedSize)
	}
	return data, nil
}

// nowUTC returns the current time truncated to the RFC 3339 UTC
// representation the hash depends on.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
