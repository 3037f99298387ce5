package core

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"filecatalog/protocol"
)

func TestListDirectories_ByName(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"zeta", "Alpha", "beta", "mid/inner"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	dirs, err := ListDirectories(openLocal(t, root), protocol.ByName)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, d := range dirs {
		names = append(names, d.Name)
	}
	want := []string{"Alpha", "beta", "mid", "zeta"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
	if got := RenderDirectories(dirs, protocol.ByName); got != "Alpha\nbeta\nmid\nzeta\n" {
		t.Errorf("render = %q", got)
	}
}

func TestListDirectories_ByCreation(t *testing.T) {
	root := t.TempDir()
	// Created in this order; ctime follows creation.
	order := []string{"zz-oldest", "aa-middle", "mm-newest"}
	for _, d := range order {
		if err := os.Mkdir(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	dirs, err := ListDirectories(openLocal(t, root), protocol.ByCreation)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, d := range dirs {
		names = append(names, d.Name)
	}
	if !reflect.DeepEqual(names, order) {
		t.Errorf("names = %v, want %v", names, order)
	}
}

func TestSortDirectories_TieBreakByName(t *testing.T) {
	t0 := time.Date(2024, 2, 3, 4, 5, 6, 0, time.Local)
	dirs := []DirectoryEntry{
		{"c", t0.Add(time.Hour)},
		{"b", t0},
		{"a", t0},
	}
	SortDirectories(dirs, protocol.ByCreation)
	got := RenderDirectories(dirs, protocol.ByCreation)
	want := "a - 2024-02-03 04:05:06\nb - 2024-02-03 04:05:06\nc - 2024-02-03 05:05:06\n"
	if got != want {
		t.Errorf("render = %q, want %q", got, want)
	}
}
