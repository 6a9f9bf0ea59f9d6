package memory

import (
	"strings"
	"time"
)

// OwnerKind distinguishes the human profile from persona profiles.
type OwnerKind string

const (
	KindHuman   OwnerKind = "human"
	KindPersona OwnerKind = "persona"
)

// OwnerRef identifies an owner without carrying its record.
type OwnerRef struct {
	Kind OwnerKind `json:"kind"`
	Name string    `json:"name"`
}

func (r OwnerRef) String() string {
	return string(r.Kind) + "/" + r.Name
}

// Owner is the whole-record entity persisted per profile. The store loads
// and saves it atomically; nothing updates individual fields in place.
type Owner struct {
	Kind        OwnerKind `json:"kind"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Aliases     []string  `json:"aliases,omitempty"`

	// PrimaryPersona names the canonical persona for a human owner. Writes
	// authored by it are ground truth and skip change tracking.
	PrimaryPersona string `json:"primary_persona,omitempty"`

	// PrimaryGroup is the visibility group a persona stamps onto human-owned
	// items it creates. Empty means the persona tags items with the wildcard.
	PrimaryGroup string `json:"primary_group,omitempty"`

	Facts  []Fact   `json:"facts,omitempty"`
	Traits []Trait  `json:"traits,omitempty"`
	Topics []Topic  `json:"topics,omitempty"`
	People []Person `json:"people,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Ref returns the owner's identity.
func (o *Owner) Ref() OwnerRef {
	return OwnerRef{Kind: o.Kind, Name: o.Name}
}

// KnownAs reports whether name matches the owner's name or an alias,
// case-insensitively.
func (o *Owner) KnownAs(name string) bool {
	if SameName(o.Name, name) {
		return true
	}
	for _, a := range o.Aliases {
		if SameName(a, name) {
			return true
		}
	}
	return false
}

// ItemNames returns the names of every item of the given type, in bucket order.
func (o *Owner) ItemNames(t DataType) []string {
	var names []string
	switch t {
	case TypeFact:
		for i := range o.Facts {
			names = append(names, o.Facts[i].Name)
		}
	case TypeTrait:
		for i := range o.Traits {
			names = append(names, o.Traits[i].Name)
		}
	case TypeTopic:
		for i := range o.Topics {
			names = append(names, o.Topics[i].Name)
		}
	case TypePerson:
		for i := range o.People {
			names = append(names, o.People[i].Name)
		}
	}
	return names
}

// FindFact returns the fact with the given name, or nil.
func (o *Owner) FindFact(name string) *Fact {
	for i := range o.Facts {
		if SameName(o.Facts[i].Name, name) {
			return &o.Facts[i]
		}
	}
	return nil
}

// FindTrait returns the trait with the given name, or nil.
func (o *Owner) FindTrait(name string) *Trait {
	for i := range o.Traits {
		if SameName(o.Traits[i].Name, name) {
			return &o.Traits[i]
		}
	}
	return nil
}

// FindTopic returns the topic with the given name, or nil.
func (o *Owner) FindTopic(name string) *Topic {
	for i := range o.Topics {
		if SameName(o.Topics[i].Name, name) {
			return &o.Topics[i]
		}
	}
	return nil
}

// FindPerson returns the person with the given name, or nil.
func (o *Owner) FindPerson(name string) *Person {
	for i := range o.People {
		if SameName(o.People[i].Name, name) {
			return &o.People[i]
		}
	}
	return nil
}

// StaticTraitNames returns the names of the owner's static traits.
func (o *Owner) StaticTraitNames() []string {
	var names []string
	for i := range o.Traits {
		if o.Traits[i].Static {
			names = append(names, o.Traits[i].Name)
		}
	}
	return names
}

// RemoveItem deletes the named item from the owner's bucket for the given
// type. Returns true if something was removed. Static traits are never
// removed through this path.
func (o *Owner) RemoveItem(t DataType, name string) bool {
	switch t {
	case TypeFact:
		for i := range o.Facts {
			if SameName(o.Facts[i].Name, name) {
				o.Facts = append(o.Facts[:i], o.Facts[i+1:]...)
				return true
			}
		}
	case TypeTrait:
		for i := range o.Traits {
			if SameName(o.Traits[i].Name, name) && !o.Traits[i].Static {
				o.Traits = append(o.Traits[:i], o.Traits[i+1:]...)
				return true
			}
		}
	case TypeTopic:
		for i := range o.Topics {
			if SameName(o.Topics[i].Name, name) {
				o.Topics = append(o.Topics[:i], o.Topics[i+1:]...)
				return true
			}
		}
	case TypePerson:
		for i := range o.People {
			if SameName(o.People[i].Name, name) {
				o.People = append(o.People[:i], o.People[i+1:]...)
				return true
			}
		}
	}
	return false
}

// NormalizeName trims and collapses inner whitespace in an item name.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
