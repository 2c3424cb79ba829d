package prep

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/imagefs"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func writeImage(t *testing.T, path string, img image.Image) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := imagefs.Save(path, img, 100); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
}

func readImage(t *testing.T, path string) image.Image {
	t.Helper()
	img, err := imagefs.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	return img
}

func TestMaskCornersPaintsAllFourCorners(t *testing.T) {
	img := MaskCorners(solid(20, 10, color.White), 3)

	black := color.NRGBA{A: 0xff}
	for _, p := range []image.Point{{0, 0}, {19, 0}, {0, 9}, {19, 9}, {2, 2}, {17, 7}} {
		if got := img.NRGBAAt(p.X, p.Y); got != black {
			t.Fatalf("expected black at %v, got %v", p, got)
		}
	}
	for _, p := range []image.Point{{3, 3}, {10, 0}, {0, 5}, {16, 6}} {
		if got := img.NRGBAAt(p.X, p.Y); got.R != 0xff {
			t.Fatalf("expected white at %v, got %v", p, got)
		}
	}
}

func TestMaskCornersLargerThanImage(t *testing.T) {
	img := MaskCorners(solid(4, 4, color.White), 260)
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			t.Fatal("expected the whole image to be masked")
		}
	}
}

func TestMaskCornersDir(t *testing.T) {
	tmp := t.TempDir()
	in, out := filepath.Join(tmp, "in"), filepath.Join(tmp, "out")
	writeImage(t, filepath.Join(in, "a.jpg"), solid(40, 40, color.White))
	writeImage(t, filepath.Join(in, "skip.png"), solid(40, 40, color.White))

	summary, err := MaskCornersDir(context.Background(), quietLogger(), in, out, 8)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}
	if summary.Produced != 1 || len(summary.Files) != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	r, _, _, _ := readImage(t, filepath.Join(out, "a.jpg")).At(1, 1).RGBA()
	if r>>8 > 16 {
		t.Fatalf("expected a dark corner, got %d", r>>8)
	}

	if _, err := MaskCornersDir(context.Background(), quietLogger(), in, out, 0); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestWhiteRatio(t *testing.T) {
	img := solid(10, 10, color.NRGBA{R: 100, G: 100, B: 100, A: 0xff})
	for x := 0; x < 10; x++ {
		for y := 0; y < 3; y++ {
			img.Set(x, y, color.White)
		}
	}
	// Two channels above threshold is not enough.
	img.Set(0, 9, color.NRGBA{R: 250, G: 250, B: 10, A: 0xff})

	if got := WhiteRatio(img, DefaultBlowoutThreshold); got != 30 {
		t.Fatalf("expected 30%%, got %v", got)
	}
	if !IsBlownOut(img, DefaultBlowoutOptions()) {
		t.Fatal("expected 30% white to count as blown out")
	}
	if IsBlownOut(img, BlowoutOptions{Threshold: 230, Percentage: 30}) {
		t.Fatal("expected the ratio to need to exceed the percentage")
	}
}

func TestScanBlowout(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "b_dark.png"), solid(8, 8, color.NRGBA{R: 20, G: 20, B: 20, A: 0xff}))
	writeImage(t, filepath.Join(dir, "a_bright.png"), solid(8, 8, color.White))
	writeImage(t, filepath.Join(dir, "c_dark.jpg"), solid(8, 8, color.NRGBA{R: 40, G: 40, B: 40, A: 0xff}))
	if err := os.WriteFile(filepath.Join(dir, "d_broken.png"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	report, err := ScanBlowout(context.Background(), quietLogger(), dir, DefaultBlowoutOptions())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if want := []string{"b_dark.png", "c_dark.jpg", "d_broken.png"}; !reflect.DeepEqual(report.Kept, want) {
		t.Fatalf("expected kept %v, got %v", want, report.Kept)
	}
	if want := []string{"a_bright.png"}; !reflect.DeepEqual(report.Blown, want) {
		t.Fatalf("expected blown %v, got %v", want, report.Blown)
	}
	if report.Summary.Failed != 1 {
		t.Fatalf("expected one failed file, got %+v", report.Summary)
	}

	list := filepath.Join(dir, "lists", "keep.txt")
	if err := WriteList(list, report.Kept); err != nil {
		t.Fatalf("write list: %v", err)
	}
	data, err := os.ReadFile(list)
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	if string(data) != "b_dark.png\nc_dark.jpg\nd_broken.png\n" {
		t.Fatalf("unexpected list %q", data)
	}
}

func TestCropCenterDir(t *testing.T) {
	tmp := t.TempDir()
	in, out := filepath.Join(tmp, "in"), filepath.Join(tmp, "out")
	writeImage(t, filepath.Join(in, "big.png"), solid(30, 20, color.White))
	writeImage(t, filepath.Join(in, "small.png"), solid(6, 4, color.White))

	summary, err := CropCenterDir(context.Background(), quietLogger(), in, out, 10, 8)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if summary.Produced != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if b := readImage(t, filepath.Join(out, "big.png")).Bounds(); b.Dx() != 10 || b.Dy() != 8 {
		t.Fatalf("expected 10x8, got %v", b)
	}
	if b := readImage(t, filepath.Join(out, "small.png")).Bounds(); b.Dx() != 6 || b.Dy() != 4 {
		t.Fatalf("expected a small frame to keep its size, got %v", b)
	}
}

func TestToRGBKeepsGrayLevels(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	gray.SetGray(0, 0, color.Gray{Y: 17})
	gray.SetGray(1, 0, color.Gray{Y: 200})

	rgb := ToRGB(gray)
	if got := rgb.RGBAAt(1, 0); got != (color.RGBA{R: 200, G: 200, B: 200, A: 0xff}) {
		t.Fatalf("unexpected pixel %v", got)
	}
}

func TestGrayToRGBDir(t *testing.T) {
	tmp := t.TempDir()
	in, out := filepath.Join(tmp, "in"), filepath.Join(tmp, "out")
	writeImage(t, filepath.Join(in, "g.jpg"), image.NewGray(image.Rect(0, 0, 8, 8)))

	summary, err := GrayToRGBDir(context.Background(), quietLogger(), in, out)
	if err != nil {
		t.Fatalf("gray2rgb: %v", err)
	}
	if summary.Produced != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, ok := readImage(t, filepath.Join(out, "g.jpg")).(*image.Gray); ok {
		t.Fatal("expected a three channel output")
	}
}

func TestFlattenPNG(t *testing.T) {
	clear := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	flat := FlattenPNG(clear)
	if r, g, b, _ := flat.At(0, 0).RGBA(); r != 0xffff || g != 0xffff || b != 0xffff {
		t.Fatalf("expected transparent pixels to become white, got %d %d %d", r, g, b)
	}

	deep := image.NewGray16(image.Rect(0, 0, 1, 1))
	deep.SetGray16(0, 0, color.Gray16{Y: 0x8040})
	gray, ok := FlattenPNG(deep).(*image.Gray)
	if !ok {
		t.Fatal("expected 16 bit gray to stay single channel")
	}
	if gray.GrayAt(0, 0).Y != 0x80 {
		t.Fatalf("expected 0x80, got %#x", gray.GrayAt(0, 0).Y)
	}
}

func TestPNGToJPEGDir(t *testing.T) {
	tmp := t.TempDir()
	in, out := filepath.Join(tmp, "in"), filepath.Join(tmp, "out")
	if err := os.MkdirAll(in, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(filepath.Join(in, "frame.png"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, solid(5, 5, color.NRGBA{R: 10, A: 0x80})); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()

	summary, err := PNGToJPEGDir(context.Background(), quietLogger(), in, out, Quality)
	if err != nil {
		t.Fatalf("png2jpg: %v", err)
	}
	if summary.Produced != 1 || summary.Files[0].Outputs[0].Name != "frame.jpg" {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, err := os.Stat(filepath.Join(out, "frame.jpg")); err != nil {
		t.Fatalf("expected frame.jpg: %v", err)
	}
}

func TestPairImages(t *testing.T) {
	a := solid(4, 3, color.White)
	b := solid(2, 5, color.NRGBA{R: 0xff, A: 0xff})

	paired := PairImages(a, b)
	if got := paired.Bounds(); got.Dx() != 6 || got.Dy() != 3 {
		t.Fatalf("expected 6x3, got %v", got)
	}
	if got := paired.NRGBAAt(0, 0); got.G != 0xff {
		t.Fatalf("expected a on the left, got %v", got)
	}
	if got := paired.NRGBAAt(5, 2); got.R != 0xff || got.G != 0 {
		t.Fatalf("expected b on the right, got %v", got)
	}
}

func TestPairDir(t *testing.T) {
	tmp := t.TempDir()
	dirA, dirB, out := filepath.Join(tmp, "a"), filepath.Join(tmp, "b"), filepath.Join(tmp, "out")
	writeImage(t, filepath.Join(dirA, "x1.png"), solid(4, 4, color.White))
	writeImage(t, filepath.Join(dirA, "x2.png"), solid(4, 4, color.White))
	writeImage(t, filepath.Join(dirB, "y1.png"), solid(4, 4, color.Black))
	writeImage(t, filepath.Join(dirB, "y2.png"), solid(4, 4, color.Black))

	summary, err := PairDir(context.Background(), quietLogger(), dirA, dirB, out)
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if want := []string{"paired_x1.jpg", "paired_x2.jpg"}; !reflect.DeepEqual(outputNames(summary), want) {
		t.Fatalf("expected %v, got %v", want, outputNames(summary))
	}
	if b := readImage(t, filepath.Join(out, "paired_x1.jpg")).Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Fatalf("expected 8x4, got %v", b)
	}

	writeImage(t, filepath.Join(dirB, "y3.png"), solid(4, 4, color.Black))
	if _, err := PairDir(context.Background(), quietLogger(), dirA, dirB, out); !errors.Is(err, ErrPairCountMismatch) {
		t.Fatalf("expected ErrPairCountMismatch, got %v", err)
	}
}

func TestFFmpegList(t *testing.T) {
	in := strings.NewReader("frame_001.jpg\n\n  frame_002.jpg  \n")
	var out bytes.Buffer

	n, err := FFmpegList(in, &out)
	if err != nil {
		t.Fatalf("ffmpeg list: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
	if want := "file 'frame_001.jpg'\nfile 'frame_002.jpg'\n"; out.String() != want {
		t.Fatalf("expected %q, got %q", want, out.String())
	}
}

func TestFFmpegListFile(t *testing.T) {
	tmp := t.TempDir()
	in := filepath.Join(tmp, "names.txt")
	if err := os.WriteFile(in, []byte("a.jpg\nb.jpg"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	n, err := FFmpegListFile(in, filepath.Join(tmp, "out", "list.txt"))
	if err != nil || n != 2 {
		t.Fatalf("expected 2 entries, got %d, %v", n, err)
	}
	if _, err := FFmpegListFile(filepath.Join(tmp, "missing.txt"), filepath.Join(tmp, "x.txt")); err == nil {
		t.Fatal("expected an error for a missing list")
	}
}

func outputNames(s domain.Summary) []string {
	var names []string
	for _, o := range s.Outputs() {
		names = append(names, o.Name)
	}
	return names
}
