package validation

import (
	"strings"
	"testing"
)

func TestValidateContextName(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"simple", "work", false},
		{"with hyphen", "side-projects", false},
		{"with underscore", "my_notes", false},
		{"with digits", "team42", false},
		{"empty", "", true},
		{"uppercase", "Work", true},
		{"spaces", "my context", true},
		{"slash", "org/work", true},
		{"dot", "work.db", true},
		{"too long", strings.Repeat("a", MaxContextNameLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContextName("name", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContextName(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEntityName(t *testing.T) {
	if err := ValidateEntityName("name", "Acme Corp"); err != nil {
		t.Errorf("ValidateEntityName(valid) error = %v", err)
	}
	if err := ValidateEntityName("name", "   "); err == nil {
		t.Error("ValidateEntityName(whitespace) should fail")
	}
	if err := ValidateEntityName("name", "bad\x00name"); err == nil {
		t.Error("ValidateEntityName(null byte) should fail")
	}
	if err := ValidateEntityName("name", string([]byte{0xff, 0xfe})); err == nil {
		t.Error("ValidateEntityName(invalid UTF-8) should fail")
	}
	if err := ValidateEntityName("name", strings.Repeat("x", MaxEntityNameLength+1)); err == nil {
		t.Error("ValidateEntityName(too long) should fail")
	}
}

func TestCollector(t *testing.T) {
	var c Collector

	if c.HasErrors() {
		t.Error("new collector should have no errors")
	}

	c.Add(nil)
	if c.HasErrors() {
		t.Error("adding nil should not record an error")
	}

	c.Add(&ValidationError{Field: "name", Message: "must not be empty"})
	c.Add(ValidateContextName("other", "BAD"))

	if !c.HasErrors() {
		t.Fatal("collector should have errors")
	}
	if got := len(c.Errors()); got != 2 {
		t.Errorf("Errors() len = %d, want 2", got)
	}
}

func TestCollector_Err(t *testing.T) {
	var c Collector
	if err := c.Err(); err != nil {
		t.Fatalf("clean collector Err() = %v, want nil", err)
	}

	c.Add(&ValidationError{Field: "a", Message: "must not be empty"})
	c.Add(&ValidationError{Field: "b", Message: "must be valid UTF-8"})

	err := c.Err()
	verrs, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("Err() = %T, want *ValidationErrors", err)
	}
	if len(verrs.Errors) != 2 {
		t.Fatalf("aggregated %d errors, want 2", len(verrs.Errors))
	}
	if msg := verrs.Error(); !strings.Contains(msg, "2 validation errors") {
		t.Errorf("Error() = %q, want count prefix", msg)
	}

	single := Collector{}
	single.Add(&ValidationError{Field: "a", Message: "must not be empty"})
	if msg := single.Err().Error(); msg != "a: must not be empty" {
		t.Errorf("single Error() = %q", msg)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "name", Message: "must not be empty"}
	if got := err.Error(); got != "name: must not be empty" {
		t.Errorf("Error() = %q", got)
	}
}
