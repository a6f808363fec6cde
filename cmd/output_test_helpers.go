package cmd

import (
	"bytes"
	"io"
	"os"
	"testing"
)

// captureOutput returns what fn prints to stdout. The pipe is drained concurrently
// so large JSON listings cannot block fn.
func captureOutput(t testing.TB, fn func()) string {
	t.Helper()
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}

	done := make(chan []byte, 1)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, reader)
		_ = reader.Close()
		done <- buf.Bytes()
	}()

	original := os.Stdout
	os.Stdout = writer
	defer func() {
		os.Stdout = original
	}()

	fn()

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close write pipe: %v", err)
	}
	return string(<-done)
}
