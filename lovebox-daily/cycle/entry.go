package cycle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// signatureSeparator joins sorted items before hashing. Items come from
// line-oriented sources, so a newline cannot appear inside one.
const signatureSeparator = "\n"

// Entry is the persisted state of one selection key.
type Entry struct {
	// Signature is the digest of the sorted, de-duplicated candidate set.
	Signature string `json:"signature" bson:"signature"`
	// Order is the permutation dispensed during the current cycle.
	Order []string `json:"order" bson:"order"`
	// Index is the next position in Order to dispense.
	Index int `json:"index" bson:"index"`
}

// Remaining returns how many items are left in the current cycle.
func (e Entry) Remaining() int {
	if e.Index >= len(e.Order) {
		return 0
	}
	return len(e.Order) - e.Index
}

// Document is the whole store: selection key to entry.
type Document map[string]Entry

// Dedupe drops repeated items, keeping the first occurrence of each.
func Dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// Signature hashes the candidate set independently of its order and
// multiplicity.
func Signature(items []string) string {
	unique := Dedupe(items)
	sorted := make([]string, len(unique))
	copy(sorted, unique)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, signatureSeparator)))
	return hex.EncodeToString(sum[:])
}

// valid reports whether e can keep dispensing for the given unique
// candidate set. An exhausted entry is still valid here; exhaustion is
// handled separately by the selector.
func (e Entry) valid(signature string, unique []string) bool {
	if e.Signature != signature {
		return false
	}
	if len(e.Order) != len(unique) {
		return false
	}
	if e.Index < 0 || e.Index > len(e.Order) {
		return false
	}

	want := make(map[string]bool, len(unique))
	for _, item := range unique {
		want[item] = true
	}
	for _, item := range e.Order {
		if !want[item] {
			return false
		}
		// each candidate may appear once
		delete(want, item)
	}
	return len(want) == 0
}

// rawEntry tracks field presence so a stored entry missing a field is
// distinguishable from one holding zero values.
type rawEntry struct {
	Signature *string   `json:"signature" bson:"signature"`
	Order     *[]string `json:"order" bson:"order"`
	Index     *int      `json:"index" bson:"index"`
}

func (r rawEntry) entry() (Entry, bool) {
	if r.Signature == nil || r.Order == nil || r.Index == nil {
		return Entry{}, false
	}
	return Entry{Signature: *r.Signature, Order: *r.Order, Index: *r.Index}, true
}

// decodeJSONDocument decodes a stored JSON document entry by entry.
// Entries that do not match the schema are left out and reported in
// malformed; a document that is not an object decodes as empty.
func decodeJSONDocument(data []byte) (doc Document, malformed []string) {
	doc = Document{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return doc, nil
	}
	for key, msg := range raw {
		var re rawEntry
		if err := json.Unmarshal(msg, &re); err != nil {
			malformed = append(malformed, key)
			continue
		}
		entry, ok := re.entry()
		if !ok {
			malformed = append(malformed, key)
			continue
		}
		doc[key] = entry
	}
	sort.Strings(malformed)
	return doc, malformed
}
