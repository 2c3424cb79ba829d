package batch

import (
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/dunamismax/solarprep/internal/budget"
	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/pipeline"
)

type memorySource struct {
	mu     sync.Mutex
	images map[string]image.Image
	fail   map[string]error
	opened []string
}

func (s *memorySource) List(context.Context) ([]string, error) {
	names := make([]string, 0, len(s.images)+len(s.fail))
	for name := range s.images {
		names = append(names, name)
	}
	for name := range s.fail {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memorySource) Open(_ context.Context, name string) (image.Image, error) {
	s.mu.Lock()
	s.opened = append(s.opened, name)
	s.mu.Unlock()
	if err, ok := s.fail[name]; ok {
		return nil, err
	}
	return s.images[name], nil
}

func (s *memorySource) openedSorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.opened...)
	sort.Strings(out)
	return out
}

type captureEmitter struct {
	names []string
}

func (e *captureEmitter) Prepare(context.Context) error { return nil }

func (e *captureEmitter) Emit(_ context.Context, name string, img image.Image, _ int) (domain.Output, error) {
	e.names = append(e.names, name)
	b := img.Bounds()
	return domain.Output{Name: name, Width: b.Dx(), Height: b.Dy()}, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func frame(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 256)
	}
	return img
}

func tiledProcessor(t *testing.T) *pipeline.Processor {
	t.Helper()
	p, err := pipeline.NewProcessor(domain.DefaultEffectConfig(), domain.OutputOptions{Tile: true})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p
}

func TestRunnerStopsAtGlobalCap(t *testing.T) {
	src := &memorySource{images: map[string]image.Image{
		"a.png": frame(300, 300),
		"b.png": frame(300, 300),
		"c.png": frame(300, 300),
	}}
	emitter := &captureEmitter{}

	r := NewRunner(quietLogger(), tiledProcessor(t), src, emitter, budget.New(2))
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if want := []string{"a_tile0.jpg", "a_tile1.jpg"}; !reflect.DeepEqual(emitter.names, want) {
		t.Fatalf("expected outputs %v, got %v", want, emitter.names)
	}
	if !summary.Exhausted {
		t.Fatal("expected summary to report an exhausted budget")
	}
	if summary.Produced != 2 {
		t.Fatalf("expected produced=2, got %d", summary.Produced)
	}
	if got := src.openedSorted(); !reflect.DeepEqual(got, []string{"a.png"}) {
		t.Fatalf("expected only a.png to be opened, got %v", got)
	}
}

func TestRunnerCapSpansFiles(t *testing.T) {
	src := &memorySource{images: map[string]image.Image{
		"a.png": frame(300, 300),
		"b.png": frame(300, 300),
		"c.png": frame(300, 300),
	}}
	emitter := &captureEmitter{}

	r := NewRunner(quietLogger(), tiledProcessor(t), src, emitter, budget.New(6))
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{
		"a_tile0.jpg", "a_tile1.jpg", "a_tile2.jpg", "a_tile3.jpg",
		"b_tile0.jpg", "b_tile1.jpg",
	}
	if !reflect.DeepEqual(emitter.names, want) {
		t.Fatalf("expected outputs %v, got %v", want, emitter.names)
	}
	if !summary.Exhausted || summary.Produced != 6 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := src.openedSorted(); !reflect.DeepEqual(got, []string{"a.png", "b.png"}) {
		t.Fatalf("expected c.png never to be opened, got %v", got)
	}
}

// sharedCounter stands in for a budget held by several processes: the
// remaining count comes from the shared total, not from this holder.
type sharedCounter struct {
	max   int64
	used  *int64
	taken int64
}

func (b *sharedCounter) Take(context.Context) (bool, error) {
	if *b.used >= b.max {
		return false, nil
	}
	*b.used++
	b.taken++
	return true, nil
}

func (b *sharedCounter) Taken() int64 { return b.taken }

func (b *sharedCounter) Remaining(context.Context) (int64, error) {
	return max(0, b.max-*b.used), nil
}

func threeFrames() *memorySource {
	return &memorySource{images: map[string]image.Image{
		"a.png": frame(300, 300),
		"b.png": frame(300, 300),
		"c.png": frame(300, 300),
	}}
}

func TestRunnerSharedBudgetStopsBeforeNextFile(t *testing.T) {
	var used int64
	src := threeFrames()
	emitter := &captureEmitter{}

	r := NewRunner(quietLogger(), tiledProcessor(t), src, emitter, &sharedCounter{max: 4, used: &used})
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(emitter.names) != 4 || !summary.Exhausted {
		t.Fatalf("expected 4 outputs and an exhausted budget, got %v %+v", emitter.names, summary)
	}
	if got := src.openedSorted(); !reflect.DeepEqual(got, []string{"a.png"}) {
		t.Fatalf("expected only a.png to be opened, got %v", got)
	}
}

func TestRunnerSharedBudgetSpentElsewhere(t *testing.T) {
	used := int64(4)
	src := threeFrames()

	r := NewRunner(quietLogger(), tiledProcessor(t), src, &captureEmitter{}, &sharedCounter{max: 4, used: &used})
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Produced != 0 || !summary.Exhausted {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := src.openedSorted(); len(got) != 0 {
		t.Fatalf("expected no file to be opened, got %v", got)
	}
}

func TestRunnerZeroBudgetOpensNothing(t *testing.T) {
	src := threeFrames()
	emitter := &captureEmitter{}

	summary, err := NewRunner(quietLogger(), tiledProcessor(t), src, emitter, budget.New(0)).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(emitter.names) != 0 || !summary.Exhausted {
		t.Fatalf("expected no outputs, got %v %+v", emitter.names, summary)
	}
	if got := src.openedSorted(); len(got) != 0 {
		t.Fatalf("expected no file to be opened, got %v", got)
	}
}

type failingRemaining struct{ sharedCounter }

func (failingRemaining) Remaining(context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestRunnerBudgetBackendErrorAbortsRun(t *testing.T) {
	var used int64
	b := &failingRemaining{sharedCounter{max: 4, used: &used}}

	_, err := NewRunner(quietLogger(), tiledProcessor(t), threeFrames(), &captureEmitter{}, b).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "output budget") {
		t.Fatalf("expected a budget error, got %v", err)
	}
}

func TestRunnerSkipsFailedFiles(t *testing.T) {
	src := &memorySource{
		images: map[string]image.Image{
			"a.png": frame(20, 20),
			"c.png": frame(20, 20),
		},
		fail: map[string]error{"b.png": errors.New("truncated header")},
	}
	emitter := &captureEmitter{}

	p, err := pipeline.NewProcessor(domain.DefaultEffectConfig(), domain.OutputOptions{})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	summary, err := NewRunner(quietLogger(), p, src, emitter, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if want := []string{"a.png", "c.png"}; !reflect.DeepEqual(emitter.names, want) {
		t.Fatalf("expected outputs %v, got %v", want, emitter.names)
	}
	if summary.Failed != 1 || summary.Produced != 2 || summary.Exhausted {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Files[1].Name != "b.png" || summary.Files[1].OK() {
		t.Fatalf("expected b.png to be recorded as failed, got %+v", summary.Files[1])
	}
}

func TestRunnerParallelKeepsOrder(t *testing.T) {
	images := map[string]image.Image{}
	for _, name := range []string{"f00.png", "f01.png", "f02.png", "f03.png", "f04.png", "f05.png", "f06.png", "f07.png"} {
		images[name] = frame(300, 300)
	}

	run := func(workers int) []string {
		emitter := &captureEmitter{}
		r := NewRunner(quietLogger(), tiledProcessor(t), &memorySource{images: images}, emitter, budget.New(10), WithWorkers(workers))
		summary, err := r.Run(context.Background())
		if err != nil {
			t.Fatalf("run workers=%d: %v", workers, err)
		}
		if summary.Produced != 10 || !summary.Exhausted {
			t.Fatalf("workers=%d: unexpected summary produced=%d exhausted=%v", workers, summary.Produced, summary.Exhausted)
		}
		return emitter.names
	}

	sequential := run(1)
	parallel := run(4)
	if !reflect.DeepEqual(sequential, parallel) {
		t.Fatalf("expected identical emission order\nsequential: %v\nparallel:   %v", sequential, parallel)
	}
	if sequential[9] != "f02_tile1.jpg" {
		t.Fatalf("expected the tenth unit to be f02_tile1.jpg, got %s", sequential[9])
	}
}

func TestRunnerDirectoryRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	in := filepath.Join(tmp, "in")
	out := filepath.Join(tmp, "out", "nested")
	if err := os.MkdirAll(in, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writePNG(t, filepath.Join(in, "sun_001.png"), frame(40, 30))
	writePNG(t, filepath.Join(in, "sun_002.png"), frame(40, 30))
	if err := os.WriteFile(filepath.Join(in, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	if err := os.WriteFile(filepath.Join(in, "broken.png"), []byte("not a png"), 0o644); err != nil {
		t.Fatalf("write broken: %v", err)
	}

	req := domain.RunRequest{
		Source:      in,
		Destination: out,
		Effects:     domain.DefaultEffectConfig(),
		Output:      domain.OutputOptions{Colorize: true},
	}
	req.Effects.Contrast = true

	r, err := Build(quietLogger(), req, Deps{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Produced != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	f, err := os.Open(filepath.Join(out, "sun_001.png"))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 30 {
		t.Fatalf("unexpected output bounds %v", img.Bounds())
	}
	r0, g0, b0, _ := img.At(5, 5).RGBA()
	if r0 != g0 || g0 != b0 {
		t.Fatalf("expected identical channels, got %d %d %d", r0, g0, b0)
	}
}

func TestBuildRejectsBadKernelBeforeListing(t *testing.T) {
	req := domain.RunRequest{
		Source:      filepath.Join(t.TempDir(), "does-not-exist"),
		Destination: t.TempDir(),
		Effects:     domain.DefaultEffectConfig(),
	}
	req.Effects.KernelSize = 4

	if _, err := Build(quietLogger(), req, Deps{}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuildRequiresStorageForObjectLocations(t *testing.T) {
	req := domain.RunRequest{
		Source:      "s3://frames",
		Destination: t.TempDir(),
		Effects:     domain.DefaultEffectConfig(),
	}
	if _, err := Build(quietLogger(), req, Deps{}); !errors.Is(err, ErrUnsupportedSource) {
		t.Fatalf("expected ErrUnsupportedSource, got %v", err)
	}
}

func TestUnitName(t *testing.T) {
	if got := UnitName("frame.tiff", 3, true); got != "frame_tile3.jpg" {
		t.Fatalf("expected frame_tile3.jpg, got %s", got)
	}
	if got := UnitName("frame.tiff", 0, false); got != "frame.tiff" {
		t.Fatalf("expected frame.tiff, got %s", got)
	}
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}
