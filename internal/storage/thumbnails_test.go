package storage

import (
	"context"
	"testing"
)

func TestStaticResolver(t *testing.T) {
	tests := []struct {
		name string
		base string
		path string
		want string
	}{
		{"joins base", "https://cdn.example.com/", "/listings/1/a.jpg", "https://cdn.example.com/listings/1/a.jpg"},
		{"absolute passthrough", "https://cdn.example.com", "https://img.example.org/x.png", "https://img.example.org/x.png"},
		{"no base", "", "listings/1/a.jpg", "listings/1/a.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StaticResolver{BaseURL: tt.base}.ThumbnailURL(context.Background(), tt.path)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got=%q want=%q", got, tt.want)
			}
		})
	}
}
