package fingerprint

import "testing"

func TestOf(t *testing.T) {
	// sha256("hello world")
	const want = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got := Of([]byte("hello world")); got != want {
		t.Errorf("Of(hello world) = %s, want %s", got, want)
	}
}

func TestOf_Deterministic(t *testing.T) {
	data := []byte("same bytes, same digest")
	if Of(data) != Of(append([]byte(nil), data...)) {
		t.Error("identical input produced different fingerprints")
	}
	if Of(data) == Of([]byte("same bytes, same digesT")) {
		t.Error("one-byte change did not change the fingerprint")
	}
	if len(Of(nil)) != Size {
		t.Errorf("expected %d hex chars, got %d", Size, len(Of(nil)))
	}
}
