package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
)

func TestLocalWritesOutputFiles(t *testing.T) {
	dir := t.TempDir()
	local, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctx := context.Background()

	result, err := local.Execute(ctx, domain.Action{
		Kind:   "agent.file.create",
		Params: map[string]string{"filename": "poem.txt", "content": "roses are red\n"},
	})
	if err != nil || !result.OK {
		t.Fatalf("create: result = %+v, err = %v", result, err)
	}

	result, err = local.Execute(ctx, domain.Action{
		Kind:   "agent.file.append",
		Params: map[string]string{"filename": "poem.txt", "content": "violets are blue\n"},
	})
	if err != nil || !result.OK {
		t.Fatalf("append: result = %+v, err = %v", result, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "poem.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "roses are red\nviolets are blue\n" {
		t.Fatalf("content = %q", data)
	}
}

func TestLocalSanitizesFilenames(t *testing.T) {
	dir := t.TempDir()
	local, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("new local: %v", err)
	}

	result, err := local.Execute(context.Background(), domain.Action{
		Kind:   "agent.output.write",
		Params: map[string]string{"filename": "../../etc/pass wd", "content": "x"},
	})
	if err != nil || !result.OK {
		t.Fatalf("write: result = %+v, err = %v", result, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if name := entries[0].Name(); name != "pass_wd" {
		t.Fatalf("filename = %q, want %q", name, "pass_wd")
	}
}

func TestLocalDefaultsEmptyFilename(t *testing.T) {
	if got := sanitizeFilename("  ../.. "); got != "output.txt" {
		t.Fatalf("sanitizeFilename = %q, want output.txt", got)
	}
}

func TestLocalRejectsUnsupportedKinds(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	result, err := local.Execute(context.Background(), domain.Action{Kind: "agent.input.click"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.OK {
		t.Fatal("expected unsupported kind to fail")
	}
	if result.Reason == "" {
		t.Fatal("expected failure reason")
	}
}

func TestLocalHonorsContextCancellation(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := local.Execute(ctx, domain.Action{Kind: "agent.log"}); err == nil {
		t.Fatal("expected context error")
	}
}
