// Package facematch holds the reference embedding set and the nearest-neighbour matcher that
// turns a face embedding into a known identity.
package facematch

import "strconv"

// unknownField is how missing identity fields are rendered.
const unknownField = "Unknown"

// Identity is the metadata a reference embedding points at. Many embeddings may share one
// Identity (a person usually contributes several training images).
type Identity struct {
	PersonID   int64
	Name       string
	Age        int    // 0 when unknown
	Occupation string // empty when unknown
}

// Key returns the value identities are compared by. Two identities with the same normalized
// name are the same person; a nameless identity is keyed by its PersonID.
func (i *Identity) Key() string {
	if i == nil {
		return ""
	}
	if key := NormalizePersonName(i.Name); key != "" {
		return key
	}
	return "#" + strconv.FormatInt(i.PersonID, 10)
}

// DisplayName returns the name, or "Unknown" for a nil identity.
func (i *Identity) DisplayName() string {
	if i == nil || i.Name == "" {
		return unknownField
	}
	return i.Name
}

// AgeString returns the age as text, or "Unknown" when it was never recorded.
func (i *Identity) AgeString() string {
	if i == nil || i.Age <= 0 {
		return unknownField
	}
	return strconv.Itoa(i.Age)
}

// OccupationString returns the occupation, or "Unknown" when it was never recorded.
func (i *Identity) OccupationString() string {
	if i == nil || i.Occupation == "" {
		return unknownField
	}
	return i.Occupation
}
