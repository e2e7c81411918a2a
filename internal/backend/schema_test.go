package backend

import "testing"

func TestSchemaValidate_Valid(t *testing.T) {
	s := &Schema{Fields: []Field{
		{Name: "username", Kind: KindString, Required: true},
		{Name: "port", Kind: KindInt, Required: false},
	}}
	errs := s.Validate([]byte(`{"username":"alice","port":443}`))
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestSchemaValidate_MissingRequired(t *testing.T) {
	s := &Schema{Fields: []Field{
		{Name: "username", Kind: KindString, Required: true},
	}}
	errs := s.Validate([]byte(`{}`))
	if len(errs) != 1 || errs[0].Field != "username" {
		t.Fatalf("expected one missing-field error, got %v", errs)
	}
}

func TestSchemaValidate_WrongKind(t *testing.T) {
	s := &Schema{Fields: []Field{
		{Name: "enabled", Kind: KindBool, Required: true},
	}}
	errs := s.Validate([]byte(`{"enabled":"yes"}`))
	if len(errs) != 1 {
		t.Fatalf("expected one kind-mismatch error, got %v", errs)
	}
}

func TestSchemaValidate_InvalidJSON(t *testing.T) {
	s := &Schema{Fields: []Field{{Name: "x", Kind: KindString}}}
	errs := s.Validate([]byte(`not json`))
	if len(errs) != 1 {
		t.Fatalf("expected one json-decode error, got %v", errs)
	}
}

func TestSchemaValidate_OptionalFieldAbsent(t *testing.T) {
	s := &Schema{Fields: []Field{
		{Name: "port", Kind: KindInt, Required: false},
	}}
	errs := s.Validate([]byte(`{}`))
	if len(errs) != 0 {
		t.Fatalf("expected no errors for absent optional field, got %v", errs)
	}
}
