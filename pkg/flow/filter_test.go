package flow

import "testing"

func TestTagFilter_Match(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		tags    []string
		want    bool
	}{
		{"no filters", nil, nil, []string{"any"}, true},
		{"no filters no tags", nil, nil, nil, true},
		{"include match", []string{"smoke"}, nil, []string{"smoke"}, true},
		{"include miss", []string{"smoke"}, nil, []string{"regression"}, false},
		{"include untagged", []string{"smoke"}, nil, nil, false},
		{"exclude match", nil, []string{"slow"}, []string{"smoke", "slow"}, false},
		{"glob include", []string{"smoke*"}, nil, []string{"smoke-login"}, true},
		{"glob exclude", nil, []string{"wip-*"}, []string{"wip-cart"}, false},
		{"exclude wins", []string{"smoke"}, []string{"smoke"}, []string{"smoke"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewTagFilter(tt.include, tt.exclude)
			if err != nil {
				t.Fatalf("NewTagFilter() error = %v", err)
			}
			if got := f.Match(tt.tags); got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.tags, got, tt.want)
			}
		})
	}
}

func TestFilterByTags(t *testing.T) {
	configs := []*TestConfig{
		{ID: "a", Tags: []string{"smoke"}},
		{ID: "b", Tags: []string{"regression"}},
		{ID: "c", Tags: []string{"smoke", "slow"}},
	}

	got, err := FilterByTags(configs, []string{"smoke"}, []string{"slow"})
	if err != nil {
		t.Fatalf("FilterByTags() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("FilterByTags() = %v", got)
	}
}

func TestNewTagFilter_InvalidPattern(t *testing.T) {
	if _, err := NewTagFilter([]string{"[unclosed"}, nil); err == nil {
		t.Error("expected error for invalid glob")
	}
}
