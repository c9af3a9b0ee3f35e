package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestReadIDLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	content := "user1\n\n  user2  \nab#cd\n\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ids, err := readIDLines(path)
	if err != nil {
		t.Fatalf("readIDLines() error = %v", err)
	}
	want := []string{"user1", "user2", "ab#cd"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
}

func TestReadIDLines_MissingFile(t *testing.T) {
	if _, err := readIDLines(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Error("readIDLines() error = nil, want error")
	}
}

func TestFileNameForID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{id: "user1", want: "user1"},
		{id: "ab#cd", want: "ab_cd"},
		{id: "a/b/c", want: "a_b_c"},
		{id: "x#y/z", want: "x_y_z"},
	}

	for _, tt := range tests {
		if got := fileNameForID(tt.id); got != tt.want {
			t.Errorf("fileNameForID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	for _, name := range []string{"run", "rerun", "collect", "version"} {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
