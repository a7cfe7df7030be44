package ingestion

import "testing"

func TestInferID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "catalog view slug",
			url:  "https://www.shl.com/solutions/products/product-catalog/view/java-8-new/",
			want: "java-8-new",
		},
		{
			name: "catalog view slug without trailing slash",
			url:  "https://www.shl.com/products/product-catalog/view/OPQ32r",
			want: "opq32r",
		},
		{
			name: "view is the last segment",
			url:  "https://example.com/catalog/view/",
			want: urlHash("https://example.com/catalog/view/"),
		},
		{
			name: "non-catalog url",
			url:  "https://example.com/assessments/123",
			want: urlHash("https://example.com/assessments/123"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := InferID(tt.url); got != tt.want {
				t.Errorf("InferID(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestURLHash_Normalizes(t *testing.T) {
	t.Parallel()

	a := urlHash("https://Example.com/a/")
	b := urlHash("  https://example.com/a")
	if a != b {
		t.Errorf("hash differs for equivalent URLs: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("hash length = %d, want 32", len(a))
	}
}
