package knol

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		original    string
		translation string
		want        string
	}{
		{"trims and lowercases", "  Hello World \r\n", "Bonjour", "hello world\nbonjour"},
		{"collapses inner whitespace", "hello \t  world", "bonjour\r\nle monde", "hello world\nbonjour le monde"},
		{"empty translation", "こんにちは", "", "こんにちは\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.original, tt.translation); got != tt.want {
				t.Errorf("Expected normalized string to be %q, but got %q", tt.want, got)
			}
		})
	}
}

func TestHash(t *testing.T) {
	t.Run("generates correct hash", func(t *testing.T) {
		// Hash for "hello world\nbonjour le monde"
		expectedHash := "c7e3f8884b8413690338c5db1fd6a3f0d7a34fd614a2dabd9735443d3aeb71eb"
		if hash := Hash("Hello  World", " Bonjour le monde "); hash != expectedHash {
			t.Errorf("Expected hash '%s', but got '%s'", expectedHash, hash)
		}
	})

	t.Run("hash is deterministic", func(t *testing.T) {
		if Hash("Test", "x") != Hash("test ", " X") {
			t.Error("Expected equivalent pairs to hash the same")
		}
	})

	t.Run("sides are not interchangeable", func(t *testing.T) {
		if Hash("ab", "c") == Hash("a", "bc") {
			t.Error("Expected different splits to hash differently")
		}
		if Hash("a", "b") == Hash("b", "a") {
			t.Error("Expected swapped pairs to hash differently")
		}
	})
}
