package metadata

import (
	"strings"
	"testing"
)

// TestParseResponse verifies JSON parsing of valid response.
func TestParseResponse(t *testing.T) {
	metadata, err := parseResponse(`{"summary": "Test summary", "keywords": ["Keyword1", "Keyword2"]}`)
	if err != nil {
		t.Fatalf("Failed to parse valid JSON response: %v", err)
	}

	if metadata.Summary != "Test summary" {
		t.Errorf("Expected summary 'Test summary', got '%s'", metadata.Summary)
	}
	if len(metadata.Keywords) != 2 {
		t.Fatalf("Expected 2 keywords, got %d", len(metadata.Keywords))
	}
	if metadata.Keywords[0] != "Keyword1" || metadata.Keywords[1] != "Keyword2" {
		t.Errorf("Unexpected keywords %v", metadata.Keywords)
	}
}

// TestParseResponse_MissingKeywords verifies keywords default to an empty list.
func TestParseResponse_MissingKeywords(t *testing.T) {
	metadata, err := parseResponse(`{"summary": "Only a summary"}`)
	if err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if metadata.Keywords == nil || len(metadata.Keywords) != 0 {
		t.Errorf("Expected empty keyword list, got %v", metadata.Keywords)
	}
}

// TestParseResponse_Invalid verifies malformed JSON is reported.
func TestParseResponse_Invalid(t *testing.T) {
	if _, err := parseResponse(`not json`); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

// TestTruncateContent verifies truncation works correctly for very long content.
func TestTruncateContent(t *testing.T) {
	g := NewGenerator(nil, "", 0, nil)

	longContent := strings.Repeat("This is a test content. ", 4000) // ~100k chars
	truncated := g.truncateContent(longContent)

	expectedMaxChars := DefaultMaxTokens * 4
	if len(truncated) != expectedMaxChars {
		t.Errorf("Expected truncated length %d, got %d", expectedMaxChars, len(truncated))
	}
	if !strings.HasPrefix(longContent, truncated) {
		t.Error("Truncated content should be a prefix of original content")
	}
}

// TestTruncateContent_Short verifies short content is not truncated.
func TestTruncateContent_Short(t *testing.T) {
	g := NewGenerator(nil, "", 0, nil)

	shortContent := "Short content"
	if truncated := g.truncateContent(shortContent); truncated != shortContent {
		t.Errorf("Short content should not be truncated, got %q", truncated)
	}
}

// TestTruncateContent_Runes verifies multi-byte characters are never split.
func TestTruncateContent_Runes(t *testing.T) {
	g := NewGenerator(nil, "", 1, nil) // 4 characters

	truncated := g.truncateContent("日本語のテキスト")
	if truncated != "日本語の" {
		t.Errorf("Expected first 4 runes, got %q", truncated)
	}
}

func TestNewGenerator_Defaults(t *testing.T) {
	g := NewGenerator(nil, "", 0, nil)
	if g.model != DefaultModel {
		t.Errorf("Expected default model %q, got %q", DefaultModel, g.model)
	}
	if g.maxTokens != DefaultMaxTokens {
		t.Errorf("Expected default max tokens %d, got %d", DefaultMaxTokens, g.maxTokens)
	}
}
