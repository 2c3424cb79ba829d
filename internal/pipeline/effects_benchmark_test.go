package pipeline

import (
	"context"
	"image"
	"testing"

	"github.com/dunamismax/solarprep/internal/domain"
)

func BenchmarkEffectChain(b *testing.B) {
	src := benchmarkFrame(b, 1835, 1835)
	cfg := domain.DefaultEffectConfig()
	cfg.Contrast, cfg.Blur, cfg.Turbulence = true, true, true

	processor, err := NewProcessor(cfg, domain.OutputOptions{})
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := processor.Process(context.Background(), src); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkTiling(b *testing.B) {
	src := benchmarkFrame(b, 1835, 1835)
	processor, err := NewProcessor(domain.DefaultEffectConfig(), domain.OutputOptions{Tile: true, Colorize: true})
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := processor.Process(context.Background(), src); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func benchmarkFrame(b *testing.B, w, h int) *image.Gray {
	b.Helper()

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = uint8((x*255)/w/2 + (y*255)/h/2)
		}
	}
	return img
}
