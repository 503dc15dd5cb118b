package classifier

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
)

// VocabularyFile is the Keras ImageNet index published next to the weights.
const VocabularyFile = "imagenet_class_index.json"

// ClassEntry is one row of the label vocabulary.
type ClassEntry struct {
	ID   string // WordNet id, e.g. n02099712
	Name string // raw class name, e.g. Labrador_retriever
}

// Vocabulary maps output indices to classes.
type Vocabulary struct {
	entries []ClassEntry
}

// NewVocabulary builds a vocabulary where entries[i] labels output index i.
func NewVocabulary(entries []ClassEntry) *Vocabulary {
	return &Vocabulary{entries: append([]ClassEntry(nil), entries...)}
}

// LoadVocabularyFile reads a vocabulary from a JSON file on disk.
func LoadVocabularyFile(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer f.Close()
	return ReadVocabulary(f)
}

// ReadVocabulary parses the {"<index>": ["<wnid>", "<name>"], ...} format.
// Indices must cover 0..n-1 without gaps. A key repeated verbatim is merged
// by the JSON decoder and the last occurrence wins; distinct keys naming the
// same index, such as "1" and "01", are rejected.
func ReadVocabulary(r io.Reader) (*Vocabulary, error) {
	var raw map[string][]string
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("parse vocabulary: no classes")
	}

	entries := make([]ClassEntry, len(raw))
	seen := make([]bool, len(raw))
	for key, pair := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(raw) {
			return nil, fmt.Errorf("parse vocabulary: bad class index %q", key)
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("parse vocabulary: class %d: want [id, name], got %d values", idx, len(pair))
		}
		if seen[idx] {
			return nil, fmt.Errorf("parse vocabulary: duplicate class index %d", idx)
		}
		seen[idx] = true
		entries[idx] = ClassEntry{ID: pair[0], Name: pair[1]}
	}

	return &Vocabulary{entries: entries}, nil
}

func (v *Vocabulary) Len() int {
	return len(v.entries)
}

func (v *Vocabulary) Lookup(idx int) (ClassEntry, bool) {
	if idx < 0 || idx >= len(v.entries) {
		return ClassEntry{}, false
	}
	return v.entries[idx], true
}
