package ocr

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/entity"
)

func TestNeedsOCRThreshold(t *testing.T) {
	cases := []struct {
		text string
		min  int
		want bool
	}{
		{"", 10, true},
		{"   \n\t ", 10, true},
		{"123456789", 10, true},
		{"1234567890", 10, false}, // exactly the threshold
		{"12345 67890", 10, false},
		{"12345\n6789", 10, true},
		{"anything", 0, false},
	}
	for _, tc := range cases {
		if got := NeedsOCR(tc.text, tc.min); got != tc.want {
			t.Errorf("NeedsOCR(%q, %d) = %v, want %v", tc.text, tc.min, got, tc.want)
		}
	}
}

type fakeRunner struct {
	mu     sync.Mutex
	args   []string
	stdout string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.args = append([]string{name}, args...)
	f.mu.Unlock()
	return []byte(f.stdout), []byte("stderr text"), f.err
}

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t1000\t800\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t20\t50\t12\t96.5\tHello\n" +
	"5\t1\t1\t1\t1\t2\t70\t20\t60\t12\t91.5\tworld\n" +
	"5\t1\t1\t1\t2\t1\t10\t40\t40\t12\t90\tsecond\n" +
	"5\t1\t1\t2\t1\t1\t10\t80\t40\t12\t82\tnext\n" +
	"5\t1\t1\t2\t1\t2\t60\t80\t10\t12\t-1\t \n"

func TestParseTSV(t *testing.T) {
	tokens, text, mean := parseTSV([]byte(sampleTSV))
	if len(tokens) != 4 {
		t.Fatalf("tokens = %d, want 4", len(tokens))
	}
	if text != "Hello world\nsecond\n\nnext" {
		t.Fatalf("text = %q", text)
	}
	if want := (96.5 + 91.5 + 90 + 82) / 4 / 100; mean < want-1e-9 || mean > want+1e-9 {
		t.Fatalf("mean = %f, want %f", mean, want)
	}
	first := tokens[0]
	if first.Text != "Hello" || first.Box != (entity.BoundingBox{X: 10, Y: 20, Width: 50, Height: 12}) {
		t.Fatalf("first token = %+v", first)
	}
}

func TestTesseractRecognizeTSV(t *testing.T) {
	r := &fakeRunner{stdout: sampleTSV}
	eng := NewTesseract(TesseractConfig{Lang: "eng", PSM: 6, TSV: true}, r, nil)

	res, err := eng.Recognize(context.Background(), Image{Data: []byte("png"), Format: "png"})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if !strings.HasPrefix(res.Text, "Hello world") || len(res.Tokens) != 4 {
		t.Fatalf("result = %+v", res)
	}
	if res.Confidence <= 0 || res.Confidence > 1 {
		t.Fatalf("confidence = %f", res.Confidence)
	}
	joined := strings.Join(r.args, " ")
	for _, want := range []string{"tesseract", "stdout", "-l eng", "--psm 6", "tsv"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestTesseractPlainText(t *testing.T) {
	r := &fakeRunner{stdout: "Invoice 42\n-----\nTotal due\n"}
	eng := NewTesseract(TesseractConfig{}, r, nil)
	res, err := eng.Recognize(context.Background(), Image{Data: []byte("x")})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if strings.Contains(res.Text, "-----") {
		t.Fatalf("box noise not removed: %q", res.Text)
	}
	if strings.Contains(strings.Join(r.args, " "), "tsv") {
		t.Fatal("plain mode should not request tsv")
	}
}

type fakeEngine struct {
	name        string
	recognizeFn func(ctx context.Context, img Image) (entity.OCRResult, error)
}

func (f *fakeEngine) Name() string { return f.name }
func (f *fakeEngine) Recognize(ctx context.Context, img Image) (entity.OCRResult, error) {
	return f.recognizeFn(ctx, img)
}

func TestRunWrapsFailures(t *testing.T) {
	slow := &fakeEngine{name: "slow", recognizeFn: func(ctx context.Context, _ Image) (entity.OCRResult, error) {
		<-ctx.Done()
		return entity.OCRResult{}, ctx.Err()
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Run(ctx, slow, Image{Data: []byte{1}, PageIndex: 4})
	var f *common.OCRFailure
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want OCRFailure", err)
	}
	if !f.Timeout || f.Page != 4 || f.Engine != "slow" {
		t.Fatalf("failure = %+v", f)
	}

	_, err = Run(context.Background(), slow, Image{})
	if !errors.As(err, &f) || !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("empty image err = %v", err)
	}

	panicky := &fakeEngine{name: "panicky", recognizeFn: func(context.Context, Image) (entity.OCRResult, error) {
		panic("segfault in disguise")
	}}
	_, err = Run(context.Background(), panicky, Image{Data: []byte{1}})
	if !errors.As(err, &f) || f.Timeout {
		t.Fatalf("panic err = %v", err)
	}
}

func TestRunClampsConfidence(t *testing.T) {
	e := &fakeEngine{name: "e", recognizeFn: func(context.Context, Image) (entity.OCRResult, error) {
		return entity.OCRResult{Text: "x", Confidence: 1.7}, nil
	}}
	res, err := Run(context.Background(), e, Image{Data: []byte{1}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Confidence != 1 || res.Engine != "e" {
		t.Fatalf("res = %+v", res)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	e := &fakeEngine{name: "e", recognizeFn: func(context.Context, Image) (entity.OCRResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return entity.OCRResult{Text: "ok"}, nil
	}}
	pool := NewPool(e, 2, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Recognize(context.Background(), Image{Data: []byte{1}}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	block := make(chan struct{})
	e := &fakeEngine{name: "e", recognizeFn: func(context.Context, Image) (entity.OCRResult, error) {
		<-block
		return entity.OCRResult{}, nil
	}}
	pool := NewPool(e, 1, nil)
	go func() { _, _ = pool.Recognize(context.Background(), Image{Data: []byte{1}}) }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := pool.Recognize(ctx, Image{Data: []byte{1}}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	close(block)
}

func TestPoolPageTimeoutStartsAfterSlot(t *testing.T) {
	release := make(chan struct{})
	e := &fakeEngine{name: "e", recognizeFn: func(ctx context.Context, img Image) (entity.OCRResult, error) {
		if img.PageIndex == 0 {
			<-release
		}
		return entity.OCRResult{Text: "ok"}, nil
	}}
	pool := NewPool(e, 1, nil)
	go func() { _, _ = pool.Recognize(context.Background(), Image{Data: []byte{1}, PageIndex: 0}) }()
	time.Sleep(10 * time.Millisecond)
	time.AfterFunc(80*time.Millisecond, func() { close(release) })

	// queued far longer than its own timeout, then recognized instantly
	res, err := Run(context.Background(), pool, Image{Data: []byte{1}, PageIndex: 1, Timeout: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("queued page failed: %v", err)
	}
	if res.Text != "ok" {
		t.Fatalf("res = %+v", res)
	}
}

func TestPoolPageTimeoutFires(t *testing.T) {
	e := &fakeEngine{name: "slow", recognizeFn: func(ctx context.Context, _ Image) (entity.OCRResult, error) {
		<-ctx.Done()
		return entity.OCRResult{}, errors.New("signal: killed")
	}}
	pool := NewPool(e, 1, nil)
	if !AppliesTimeout(pool) {
		t.Fatal("pool should apply the page timeout")
	}
	_, err := Run(context.Background(), pool, Image{Data: []byte{1}, PageIndex: 2, Timeout: 10 * time.Millisecond})
	var f *common.OCRFailure
	if !errors.As(err, &f) || !f.Timeout || f.Page != 2 {
		t.Fatalf("err = %v, want timed out OCRFailure", err)
	}
}

func TestRunAppliesTimeoutForPlainEngine(t *testing.T) {
	e := &fakeEngine{name: "plain", recognizeFn: func(ctx context.Context, _ Image) (entity.OCRResult, error) {
		<-ctx.Done()
		return entity.OCRResult{}, ctx.Err()
	}}
	if AppliesTimeout(e) {
		t.Fatal("plain engine should not apply the page timeout")
	}
	_, err := Run(context.Background(), e, Image{Data: []byte{1}, Timeout: 10 * time.Millisecond})
	var f *common.OCRFailure
	if !errors.As(err, &f) || !f.Timeout {
		t.Fatalf("err = %v, want timed out OCRFailure", err)
	}
}

func TestHeuristicConfidence(t *testing.T) {
	if heuristicConfidence("") != 0 {
		t.Fatal("empty text should score 0")
	}
	good := heuristicConfidence("The quick brown fox jumps over the lazy dog")
	noise := heuristicConfidence("~ |; ,' .. -_ ^")
	if good <= noise {
		t.Fatalf("word-like text (%f) should outscore noise (%f)", good, noise)
	}
}

func TestNewSelectsEngine(t *testing.T) {
	pool, err := New(common.OCRConfig{Engine: "none", PoolSize: 1}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if pool.Name() != "none" {
		t.Fatalf("engine = %s", pool.Name())
	}
	if _, err := New(common.OCRConfig{Engine: "abbyy"}, nil, nil); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}
