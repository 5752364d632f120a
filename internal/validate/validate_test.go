package validate

import (
	"errors"
	"testing"
)

func TestRequired(t *testing.T) {
	if _, err := Required("   "); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	v, err := Required("  chest   pain ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "chest pain" {
		t.Errorf("expected collapsed value, got %q", v)
	}
}

func TestText(t *testing.T) {
	fn := Text(2, 5)
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"empty", "", true},
		{"too short", "a", true},
		{"ok", "abc", false},
		{"too long", "abcdef", true},
		{"arabic counts runes", "سعال", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fn(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("Text(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestPersonName(t *testing.T) {
	valid := []string{"Ahmed Ali", "محمد أحمد", "O'Neil-Smith", "J. Doe"}
	for _, in := range valid {
		if _, err := PersonName(in); err != nil {
			t.Errorf("PersonName(%q) unexpected error: %v", in, err)
		}
	}
	invalid := []string{"", "x", "Ahmed 2", "Иван", "name@example"}
	for _, in := range invalid {
		if _, err := PersonName(in); err == nil {
			t.Errorf("PersonName(%q) expected error", in)
		}
	}
}

func TestRoomNumber(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"204", "204", false},
		{"b-12", "B-12", false},
		{"٢٠٤", "204", false},
		{"room 204!", "", true},
		{"12345678901", "", true},
	}
	for _, tt := range tests {
		got, err := RoomNumber(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("RoomNumber(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("RoomNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDate(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"2025-03-14", "2025-03-14", false},
		{"14/03/2025", "2025-03-14", false},
		{"4/3/2025", "2025-03-04", false},
		{"١٤/٠٣/٢٠٢٥", "2025-03-14", false},
		{"tomorrow", "", true},
		{"31/02/2025", "", true},
	}
	for _, tt := range tests {
		got, err := Date(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Date(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Date(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPercent(t *testing.T) {
	if v, err := Percent("85 %"); err != nil || v != "85%" {
		t.Errorf("Percent(85 %%) = %q, %v", v, err)
	}
	if _, err := Percent("101"); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("expected ErrInvalidRate, got %v", err)
	}
}

func TestOneOf(t *testing.T) {
	fn := OneOf([]string{"X-ray", "CT", "MRI"})
	if v, err := fn("2"); err != nil || v != "CT" {
		t.Errorf("numeric choice: got %q, %v", v, err)
	}
	if v, err := fn(" mri "); err != nil || v != "MRI" {
		t.Errorf("label choice: got %q, %v", v, err)
	}
	if _, err := fn("4"); !errors.Is(err, ErrNotAnOption) {
		t.Errorf("out of range: expected ErrNotAnOption, got %v", err)
	}
	if _, err := OneOf(nil)("1"); !errors.Is(err, ErrNoOptions) {
		t.Errorf("empty options: expected ErrNoOptions, got %v", err)
	}
}
