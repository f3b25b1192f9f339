package ocr

import (
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/docflow/internal/common"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	run   func(name string, args []string) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if f.run == nil {
		return nil, nil, nil
	}
	out, err := f.run(name, args)
	return out, nil, err
}

type fakeEngine struct {
	ready   bool
	pages   map[string]Page
	active  int32
	maxSeen int32
	delay   time.Duration
}

func (f *fakeEngine) Ready() bool { return f.ready }

func (f *fakeEngine) Extract(_ context.Context, imagePath string) (Page, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(f.delay)
	if p, ok := f.pages[filepath.Base(imagePath)]; ok {
		p.ImagePath = imagePath
		return p, nil
	}
	return Page{ImagePath: imagePath}, nil
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
}

const groundingSample = "<|ref|>text<|/ref|><|det|>[[100, 200, 500, 250]]<|/det|>\nИНН 7701234567\n\n\n\n" +
	"<|ref|>table<|/ref|><|det|>[[0,0,1000,1000]]<|/det|>\n| Товар | Кол-во |\n"

func TestParseGrounding(t *testing.T) {
	blocks := ParseGrounding(groundingSample, 2000, 1000)
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	want := []float64{200, 200, 1000, 250}
	for i, v := range want {
		if blocks[0].BBox[i] != v {
			t.Errorf("bbox[0] = %v, want %v", blocks[0].BBox, want)
			break
		}
	}
	if blocks[0].Label != "text" || blocks[0].Content != "ИНН 7701234567" {
		t.Errorf("block 0 = %+v", blocks[0])
	}
	if blocks[1].ID != 1 || blocks[1].BBox[2] != 2000 || blocks[1].Content != "| Товар | Кол-во |" {
		t.Errorf("block 1 = %+v", blocks[1])
	}
	if got := ParseGrounding("plain text, no tags", 100, 100); len(got) != 0 {
		t.Errorf("untagged text produced %d blocks", len(got))
	}
}

func TestCleanMarkdown(t *testing.T) {
	got := CleanMarkdown(groundingSample)
	want := "ИНН 7701234567\n\n| Товар | Кол-во |"
	if got != want {
		t.Errorf("CleanMarkdown() = %q, want %q", got, want)
	}
}

func TestLoadOutputTextPrefersLargestFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "small.txt"), []byte("tiny"), 0o644); err != nil {
		t.Fatal(err)
	}
	payload := `{"markdown": "from json", "padding": "` + strings.Repeat("x", 64) + `"}`
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "result.json"), []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := loadOutputText(dir); got != "from json" {
		t.Errorf("loadOutputText() = %q, want %q", got, "from json")
	}
	if got := loadOutputText(t.TempDir()); got != "" {
		t.Errorf("empty dir = %q", got)
	}
}

func TestDeepSeekEngineExtract(t *testing.T) {
	img := filepath.Join(t.TempDir(), "scan.png")
	writePNG(t, img, 2000, 1000)

	t.Run("stdout", func(t *testing.T) {
		runner := &fakeRunner{run: func(string, []string) ([]byte, error) { return []byte(groundingSample), nil }}
		e := &DeepSeekEngine{cfg: Config{Command: "deepseek-ocr", OutputDir: t.TempDir(), CleanMarkdown: true}, runner: runner, ready: true, logger: discardLogger()}
		page, err := e.Extract(context.Background(), img)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if page.Width != 2000 || page.Height != 1000 || len(page.Blocks) != 2 {
			t.Errorf("page = %+v", page)
		}
		if strings.Contains(page.Markdown, "<|ref|>") {
			t.Errorf("markdown not cleaned: %q", page.Markdown)
		}
		if !strings.Contains(page.Raw, "<|ref|>") {
			t.Errorf("raw lost tags: %q", page.Raw)
		}
	})

	t.Run("output file", func(t *testing.T) {
		runner := &fakeRunner{run: func(_ string, args []string) ([]byte, error) {
			out := args[len(args)-1]
			return nil, os.WriteFile(filepath.Join(out, "result.mmd"), []byte(groundingSample), 0o644)
		}}
		e := &DeepSeekEngine{cfg: Config{Command: "deepseek-ocr", OutputDir: t.TempDir()}, runner: runner, ready: true, logger: discardLogger()}
		page, err := e.Extract(context.Background(), img)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if len(page.Blocks) != 2 || page.Markdown != page.Raw {
			t.Errorf("page = %+v", page)
		}
	})

	t.Run("not ready", func(t *testing.T) {
		e := &DeepSeekEngine{runner: &fakeRunner{}, logger: discardLogger()}
		if _, err := e.Extract(context.Background(), img); !errors.Is(err, common.ErrEngineUnavailable) {
			t.Errorf("error = %v, want ErrEngineUnavailable", err)
		}
	})
}

func TestExtractorPDF(t *testing.T) {
	src := filepath.Join(t.TempDir(), "invoice.pdf")
	if err := os.WriteFile(src, []byte("not really a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{run: func(name string, args []string) ([]byte, error) {
		if name != "pdftoppm" {
			return nil, errors.New("unexpected command " + name)
		}
		prefix := args[len(args)-1]
		for _, n := range []string{"1", "2", "10"} {
			if err := os.WriteFile(prefix+"-"+n+".png", nil, 0o644); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}}
	engine := &fakeEngine{ready: true, pages: map[string]Page{
		"page-1.png":  {Markdown: "first", Raw: "r1", Width: 10, Height: 20, Blocks: ParseGrounding(groundingSample, 1000, 1000)},
		"page-2.png":  {Markdown: "second", Raw: "r2"},
		"page-10.png": {Markdown: "tenth", Blocks: ParseGrounding(groundingSample, 1000, 1000)[:1]},
	}}
	x := NewExtractor(engine, runner, ExtractorConfig{WorkDir: t.TempDir()}, discardLogger())

	doc, err := x.Extract(context.Background(), src)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	defer doc.Cleanup()

	if want := "first" + PageSeparator + "second" + PageSeparator + "tenth"; doc.OCR.RawText != want {
		t.Errorf("RawText = %q, want %q", doc.OCR.RawText, want)
	}
	if doc.OCR.RawTextRaw != "r1"+PageSeparator+"r2" {
		t.Errorf("RawTextRaw = %q", doc.OCR.RawTextRaw)
	}
	if len(doc.PageImages) != 3 || filepath.Base(doc.PageImages[2]) != "page-10.png" {
		t.Errorf("PageImages = %v", doc.PageImages)
	}
	blocks := doc.OCR.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(blocks))
	}
	for i, b := range blocks {
		if b.ID != i {
			t.Errorf("block %d has id %d", i, b.ID)
		}
	}
	if doc.OCR.JSONContent.Width != 10 || doc.OCR.JSONContent.Height != 20 {
		t.Errorf("dimensions = %dx%d", doc.OCR.JSONContent.Width, doc.OCR.JSONContent.Height)
	}
	if got := runner.calls[0]; got[1] != "-r" || got[2] != "200" {
		t.Errorf("pdftoppm args = %v", got)
	}

	workDir := filepath.Dir(doc.PageImages[0])
	if err := doc.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Errorf("work dir still present: %v", err)
	}
}

func TestExtractorWordConvertsFirst(t *testing.T) {
	src := filepath.Join(t.TempDir(), "contract.docx")
	if err := os.WriteFile(src, []byte("docx"), 0o644); err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{run: func(name string, args []string) ([]byte, error) {
		switch name {
		case "soffice":
			outdir := args[len(args)-2]
			return nil, os.WriteFile(filepath.Join(outdir, "contract.pdf"), []byte("pdf"), 0o644)
		case "pdftoppm":
			return nil, os.WriteFile(args[len(args)-1]+"-1.png", nil, 0o644)
		}
		return nil, errors.New("unexpected")
	}}
	engine := &fakeEngine{ready: true, pages: map[string]Page{"page-1.png": {Markdown: "text"}}}
	x := NewExtractor(engine, runner, ExtractorConfig{WorkDir: t.TempDir()}, discardLogger())

	doc, err := x.Extract(context.Background(), src)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	defer doc.Cleanup()
	if len(runner.calls) != 2 || runner.calls[0][0] != "soffice" || runner.calls[1][0] != "pdftoppm" {
		t.Errorf("calls = %v", runner.calls)
	}
	if doc.OCR.RawText != "text" || len(doc.PageImages) != 1 {
		t.Errorf("doc = %+v", doc)
	}
}

func TestExtractorRejects(t *testing.T) {
	x := NewExtractor(&fakeEngine{ready: false}, &fakeRunner{}, ExtractorConfig{}, discardLogger())
	if _, err := x.Extract(context.Background(), "a.png"); !errors.Is(err, common.ErrEngineUnavailable) {
		t.Errorf("not ready: error = %v", err)
	}
	x = NewExtractor(&fakeEngine{ready: true}, &fakeRunner{}, ExtractorConfig{}, discardLogger())
	if _, err := x.Extract(context.Background(), "notes.heic"); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("unsupported: error = %v", err)
	}
}

func TestSerializedAllowsOneCallAtATime(t *testing.T) {
	engine := &fakeEngine{ready: true, delay: 5 * time.Millisecond}
	s := NewSerialized(engine)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Extract(context.Background(), "x.png")
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&engine.maxSeen); got != 1 {
		t.Errorf("max concurrent calls = %d, want 1", got)
	}
}
