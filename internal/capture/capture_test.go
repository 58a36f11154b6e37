package capture

import (
	"context"
	"testing"
)

func TestStaticSourceEndSignalsDone(t *testing.T) {
	src := NewStaticSource(nil)

	select {
	case <-src.Done():
		t.Fatal("Done fired before End")
	default:
	}

	src.End()
	src.End()

	select {
	case <-src.Done():
	default:
		t.Fatal("Done not closed after End")
	}
}

func TestStaticSourceCloseIsIdempotent(t *testing.T) {
	src := NewStaticSource(nil)

	if _, err := src.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case <-src.Done():
	default:
		t.Fatal("Close must end the stream")
	}
}
