package sone

import (
	"fmt"

	"github.com/google/uuid"
)

// fieldNamespace seeds field ids: the same fields added in the same order get
// the same ids, so decoding a document twice yields equal profiles.
var fieldNamespace = uuid.MustParse("3d8f5c1e-6a2b-4f7d-9e0c-5b1a7d2e4c6f")

// Field is a custom profile field. The ID survives renames.
type Field struct {
	ID    string
	Name  string
	Value string
}

// Profile holds the descriptive data of an identity.
//
// Birth values of 0 mean "not set". Field names are unique within a profile.
// Every mutating method replaces the field slice instead of writing into it, so a
// copied Profile value never observes mutations made through another copy.
type Profile struct {
	FirstName  string
	MiddleName string
	LastName   string
	BirthDay   int
	BirthMonth int
	BirthYear  int
	AvatarID   string

	fields []Field
}

// Fields returns a copy of the profile's fields in order.
func (p Profile) Fields() []Field {
	return append([]Field(nil), p.fields...)
}

// FieldByName returns the field with the given name.
func (p Profile) FieldByName(name string) (Field, bool) {
	for _, f := range p.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByID returns the field with the given id.
func (p Profile) FieldByID(id string) (Field, bool) {
	for _, f := range p.fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// AddField appends a new, empty field.
func (p *Profile) AddField(name string) (Field, error) {
	if name == "" {
		return Field{}, fmt.Errorf("%w: field name must not be empty", ErrInvalidEntity)
	}
	if _, ok := p.FieldByName(name); ok {
		return Field{}, fmt.Errorf("%w: %q", ErrDuplicateField, name)
	}
	f := Field{ID: p.newFieldID(name), Name: name}
	p.fields = append(p.Fields(), f)
	return f, nil
}

// RenameField changes the name of the field with the given id.
func (p *Profile) RenameField(id, name string) error {
	if other, ok := p.FieldByName(name); ok && other.ID != id {
		return fmt.Errorf("%w: %q", ErrDuplicateField, name)
	}
	return p.updateField(id, func(f *Field) { f.Name = name })
}

// SetFieldValue changes the value of the field with the given id.
func (p *Profile) SetFieldValue(id, value string) error {
	return p.updateField(id, func(f *Field) { f.Value = value })
}

// RemoveField removes the field with the given id. Removing an unknown field is a no-op.
func (p *Profile) RemoveField(id string) {
	fields := make([]Field, 0, len(p.fields))
	for _, f := range p.fields {
		if f.ID != id {
			fields = append(fields, f)
		}
	}
	p.fields = fields
}

// MoveFieldUp swaps the field with its predecessor.
func (p *Profile) MoveFieldUp(id string) error {
	i := p.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: unknown field %s", ErrInvalidEntity, id)
	}
	if i == 0 {
		return nil
	}
	fields := p.Fields()
	fields[i-1], fields[i] = fields[i], fields[i-1]
	p.fields = fields
	return nil
}

// MoveFieldDown swaps the field with its successor.
func (p *Profile) MoveFieldDown(id string) error {
	i := p.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: unknown field %s", ErrInvalidEntity, id)
	}
	if i == len(p.fields)-1 {
		return nil
	}
	fields := p.Fields()
	fields[i+1], fields[i] = fields[i], fields[i+1]
	p.fields = fields
	return nil
}

// newFieldID derives an id from name. A renamed field may already hold the id
// derived from name, in which case the next free variant is used.
func (p *Profile) newFieldID(name string) string {
	seed := name
	for n := 1; ; n++ {
		id := uuid.NewSHA1(fieldNamespace, []byte(seed)).String()
		if _, taken := p.FieldByID(id); !taken {
			return id
		}
		seed = fmt.Sprintf("%s#%d", name, n)
	}
}

func (p *Profile) indexOf(id string) int {
	for i, f := range p.fields {
		if f.ID == id {
			return i
		}
	}
	return -1
}

func (p *Profile) updateField(id string, fn func(*Field)) error {
	i := p.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: unknown field %s", ErrInvalidEntity, id)
	}
	fields := p.Fields()
	fn(&fields[i])
	p.fields = fields
	return nil
}
