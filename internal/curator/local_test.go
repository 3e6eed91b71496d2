package curator

import "testing"

func TestParseClassificationYes(t *testing.T) {
	shouldStore, reason := parseClassification("YES the user stated a durable preference")
	if !shouldStore {
		t.Error("expected YES to be classified as should-store")
	}
	if reason == "" {
		t.Error("expected a non-empty reason")
	}
}

func TestParseClassificationNo(t *testing.T) {
	shouldStore, _ := parseClassification("NO nothing worth keeping")
	if shouldStore {
		t.Error("expected NO to be classified as should-not-store")
	}
}

func TestParseClassificationCaseInsensitive(t *testing.T) {
	shouldStore, _ := parseClassification("yes, lowercase answer")
	if !shouldStore {
		t.Error("expected a lowercase yes to still be recognized")
	}
}

func TestParseClassificationGarbledDefaultsToNo(t *testing.T) {
	shouldStore, _ := parseClassification("the model said something unexpected")
	if shouldStore {
		t.Error("expected a garbled response to default to should-not-store")
	}
}

func TestParseExtractionValidJSON(t *testing.T) {
	response := `[{"type": "semantic", "content": "likes dark roast coffee", "importance": 0.7, "entities": ["coffee"]}]`
	memories, err := parseExtraction(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(memories))
	}
	if memories[0].MemoryType != MemoryTypeSemantic {
		t.Errorf("expected semantic type, got %v", memories[0].MemoryType)
	}
}

func TestParseExtractionToleratesSurroundingProse(t *testing.T) {
	response := "Here is the extracted JSON:\n[{\"type\": \"episodic\", \"content\": \"asked about deployment\", \"importance\": 0.4, \"entities\": []}]\nDone."
	memories, err := parseExtraction(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(memories) != 1 || memories[0].Content != "asked about deployment" {
		t.Errorf("expected to extract the array despite surrounding prose, got %+v", memories)
	}
}

func TestParseExtractionNoArrayIsError(t *testing.T) {
	if _, err := parseExtraction("no json here at all"); err == nil {
		t.Error("expected an error when no JSON array is present")
	}
}

func TestParseExtractionMalformedJSONIsError(t *testing.T) {
	if _, err := parseExtraction("[{not valid json}]"); err == nil {
		t.Error("expected an error for malformed JSON")
	}
}
