package idx

import (
	"encoding/json"
	"reflect"
)

// FieldType is the declared type of a form field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeObject  FieldType = "object"
)

// Field is a single form input descriptor. Fields arrive as part of a
// remediation form and are never mutated by the engine; user input is kept
// separately and merged at assembly time.
type Field struct {
	Name     string
	Label    string
	Type     FieldType
	Value    interface{}
	Visible  bool
	Mutable  bool
	Required bool
	Secret   bool

	// Form holds the nested sub-form of an object field.
	Form *Form

	// Options holds selectable alternatives, each itself a field. Exactly
	// one selected option contributes its nested form to the payload.
	Options []Field

	// Selected marks a server-preselected option.
	Selected bool
}

type fieldJSON struct {
	Name     string          `json:"name"`
	Label    string          `json:"label"`
	Type     FieldType       `json:"type"`
	Value    json.RawMessage `json:"value"`
	Visible  *bool           `json:"visible"`
	Mutable  *bool           `json:"mutable"`
	Required bool            `json:"required"`
	Secret   bool            `json:"secret"`
	Form     *Form           `json:"form"`
	Options  []Field         `json:"options"`
	Selected bool            `json:"selected"`
}

// UnmarshalJSON applies the wire defaults: fields are visible and mutable
// unless the server says otherwise.
func (f *Field) UnmarshalJSON(data []byte) error {
	var w fieldJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	f.Name = w.Name
	f.Label = w.Label
	f.Type = w.Type
	f.Required = w.Required
	f.Secret = w.Secret
	f.Form = w.Form
	f.Options = w.Options
	f.Selected = w.Selected
	f.Visible = w.Visible == nil || *w.Visible
	f.Mutable = w.Mutable == nil || *w.Mutable
	if f.Type == "" {
		f.Type = FieldTypeString
	}
	if len(w.Value) > 0 {
		var v interface{}
		if err := json.Unmarshal(w.Value, &v); err != nil {
			return err
		}
		// Options carry their sub-form inside the value object.
		if m, ok := v.(map[string]interface{}); ok && f.Form == nil {
			if _, hasForm := m["form"]; hasForm {
				var sub struct {
					Form *Form `json:"form"`
				}
				if err := json.Unmarshal(w.Value, &sub); err == nil && sub.Form != nil {
					f.Form = sub.Form
					v = nil
				}
			}
		}
		f.Value = v
	}
	return nil
}

// Form is an ordered sequence of fields, possibly nested.
type Form struct {
	Fields []Field `json:"value"`
}

// Field returns the top-level field with the given name.
func (f *Form) Field(name string) *Field {
	if f == nil {
		return nil
	}
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i]
		}
	}
	return nil
}

// AssembleForm walks the form depth-first and merges user values into a
// payload ready for submission. It is a pure function: neither the form nor
// the values map is modified.
//
// User values are keyed by the dotted path of the field they target, for
// example "credentials.passcode". A value addressed at an options field
// selects the option whose label or value matches it.
//
// Contract violations abort assembly before any network activity:
// values for immutable fields that differ from the server-provided value
// fail with ErrImmutableFieldModified, required mutable fields without a
// value fail with ErrMissingRequiredField, and values of the wrong type
// fail with ErrInvalidFieldValue.
func AssembleForm(form *Form, values map[string]interface{}) (map[string]interface{}, error) {
	if form == nil {
		return map[string]interface{}{}, nil
	}
	out := make(map[string]interface{})
	if err := assembleFields(form.Fields, "", values, out); err != nil {
		return nil, err
	}
	return out, nil
}

func assembleFields(fields []Field, prefix string, values map[string]interface{}, out map[string]interface{}) error {
	for i := range fields {
		if err := assembleField(&fields[i], prefix, values, out); err != nil {
			return err
		}
	}
	return nil
}

func assembleField(f *Field, prefix string, values map[string]interface{}, out map[string]interface{}) error {
	path := fieldPath(prefix, f.Name)

	// Unnamed container fields contribute their children at the current
	// level.
	if f.Name == "" && f.Form != nil {
		return assembleFields(f.Form.Fields, prefix, values, out)
	}

	userValue, hasUserValue := values[path]

	if !f.Mutable {
		if hasUserValue && !reflect.DeepEqual(userValue, f.Value) {
			return immutableModified(path)
		}
		if f.Value != nil {
			out[f.Name] = f.Value
		}
		return nil
	}

	if len(f.Options) > 0 {
		return assembleOptions(f, path, userValue, hasUserValue, values, out)
	}

	if f.Form != nil {
		nested := make(map[string]interface{})
		if err := assembleFields(f.Form.Fields, path, values, nested); err != nil {
			return err
		}
		if len(nested) == 0 {
			if f.Required {
				return missingRequired(path)
			}
			return nil
		}
		out[f.Name] = nested
		return nil
	}

	if hasUserValue {
		coerced, err := coerceValue(f, path, userValue)
		if err != nil {
			return err
		}
		out[f.Name] = coerced
		return nil
	}
	if f.Value != nil {
		out[f.Name] = f.Value
		return nil
	}
	if f.Required {
		return missingRequired(path)
	}
	return nil
}

func assembleOptions(f *Field, path string, userValue interface{}, hasUserValue bool, values map[string]interface{}, out map[string]interface{}) error {
	var selected *Field
	if hasUserValue {
		selected = matchOption(f.Options, userValue)
		if selected == nil {
			return &FormError{Path: path, err: ErrInvalidFieldValue}
		}
	} else {
		for i := range f.Options {
			if f.Options[i].Selected {
				selected = &f.Options[i]
				break
			}
		}
	}
	if selected == nil {
		if f.Required {
			return missingRequired(path)
		}
		return nil
	}

	if selected.Form != nil {
		nested := make(map[string]interface{})
		if err := assembleFields(selected.Form.Fields, path, values, nested); err != nil {
			return err
		}
		out[f.Name] = nested
		return nil
	}
	out[f.Name] = selected.Value
	return nil
}

// matchOption resolves a user-supplied selection against the option list.
// A string matches an option's label or string value; an int selects by
// position.
func matchOption(options []Field, v interface{}) *Field {
	switch sel := v.(type) {
	case string:
		for i := range options {
			if options[i].Label == sel {
				return &options[i]
			}
			if s, ok := options[i].Value.(string); ok && s == sel {
				return &options[i]
			}
		}
	case int:
		if sel >= 0 && sel < len(options) {
			return &options[sel]
		}
	}
	return nil
}

func coerceValue(f *Field, path string, v interface{}) (interface{}, error) {
	switch f.Type {
	case FieldTypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, &FormError{Path: path, err: ErrInvalidFieldValue}
		}
		return b, nil
	case FieldTypeObject:
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, &FormError{Path: path, err: ErrInvalidFieldValue}
		}
		return m, nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, &FormError{Path: path, err: ErrInvalidFieldValue}
		}
		return s, nil
	}
}

func fieldPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return prefix + "." + name
}
