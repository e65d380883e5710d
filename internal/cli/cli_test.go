package cli

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nalgeon/be"

	"imgbatch/internal/convert"
	"imgbatch/internal/resize"
)

type converterFunc func(ctx context.Context, req convert.Request) (convert.Response, error)

func (f converterFunc) Convert(ctx context.Context, req convert.Request) (convert.Response, error) {
	return f(ctx, req)
}

type failingLister struct{}

func (failingLister) Formats(context.Context) (convert.Formats, error) {
	return convert.Formats{}, errors.New("connection refused")
}

func writeInputs(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		be.Err(t, os.WriteFile(p, []byte("img-"+n), 0o600), nil)
		paths = append(paths, p)
	}
	return paths
}

func TestBuildPolicy(t *testing.T) {
	p, err := buildPolicy(convertOptions{})
	be.Err(t, err, nil)
	be.Equal(t, p.Mode(), resize.ModeNone)

	p, err = buildPolicy(convertOptions{percent: 50})
	be.Err(t, err, nil)
	be.Equal(t, *p.Parameters().ResizePercent, 50)

	p, err = buildPolicy(convertOptions{width: 640, keepAspect: true})
	be.Err(t, err, nil)
	params := p.Parameters()
	be.Equal(t, *params.Width, 640)
	be.True(t, params.Height == nil)
	be.True(t, *params.MaintainAspectRatio)

	_, err = buildPolicy(convertOptions{percent: 50, height: 10})
	be.Err(t, err, "cannot be combined")
}

func TestRunConvertWritesArchive(t *testing.T) {
	paths := writeInputs(t, "x.png", "y.png")
	outDir := t.TempDir()
	var quality []int
	conv := converterFunc(func(_ context.Context, req convert.Request) (convert.Response, error) {
		quality = append(quality, req.Quality)
		return convert.Response{Data: []byte("jpg:" + req.Filename)}, nil
	})

	var out bytes.Buffer
	err := runConvert(context.Background(), &out, conv, paths, convertOptions{
		source: "all", target: "jpg", quality: 70, outDir: outDir, plain: true,
	})
	be.Err(t, err, nil)
	be.Equal(t, quality, []int{70, 70})
	be.True(t, strings.Contains(out.String(), "2 / 2"))

	zr, err := zip.OpenReader(filepath.Join(outDir, "converted_images.zip"))
	be.Err(t, err, nil)
	defer zr.Close()
	be.Equal(t, len(zr.File), 2)
	be.Equal(t, zr.File[0].Name, "x.jpg")
}

func TestRunConvertFailureKeepsConvertedOutput(t *testing.T) {
	paths := writeInputs(t, "x.png", "y.png")
	outDir := t.TempDir()
	conv := converterFunc(func(_ context.Context, req convert.Request) (convert.Response, error) {
		if req.Filename == "y.png" {
			return convert.Response{}, &convert.ServiceError{StatusCode: 422, Detail: "unsupported"}
		}
		return convert.Response{Data: []byte("ok")}, nil
	})

	var out bytes.Buffer
	err := runConvert(context.Background(), &out, conv, paths, convertOptions{
		source: "all", target: "jpg", outDir: outDir, plain: true,
	})
	be.Err(t, err, "Error converting y.png: unsupported")

	data, readErr := os.ReadFile(filepath.Join(outDir, "x.jpg"))
	be.Err(t, readErr, nil)
	be.Equal(t, string(data), "ok")
	be.True(t, strings.Contains(out.String(), "1 / 2"))
}

func TestRunConvertValidation(t *testing.T) {
	paths := writeInputs(t, "x.png")
	conv := converterFunc(func(context.Context, convert.Request) (convert.Response, error) {
		t.Fatalf("converter must not be called")
		return convert.Response{}, nil
	})
	var out bytes.Buffer

	err := runConvert(context.Background(), &out, conv, paths, convertOptions{source: "jpg", target: "png", plain: true})
	be.Err(t, err, "no valid image files")

	err = runConvert(context.Background(), &out, conv, paths, convertOptions{target: "heic", plain: true})
	be.Err(t, err, "not an output format")

	err = runConvert(context.Background(), &out, conv, []string{"missing.png"}, convertOptions{target: "png", plain: true})
	be.Err(t, err, "read missing.png")
}

func TestPrintFormatsFallsBack(t *testing.T) {
	var out bytes.Buffer
	printFormats(context.Background(), &out, failingLister{})
	be.True(t, strings.Contains(out.String(), "built-in"))
	be.True(t, strings.Contains(out.String(), "WEBP"))
}

func TestLoadConfigAppliesEnv(t *testing.T) {
	t.Setenv("IMGBATCH_CONVERTER_URL", "http://converter:9000")
	cfgPath := filepath.Join(t.TempDir(), "config.yml")
	be.Err(t, os.WriteFile(cfgPath, []byte("port: 8181\n"), 0o600), nil)

	loaded, err := loadConfig(cfgPath)
	be.Err(t, err, nil)
	be.Equal(t, loaded.Port, 8181)
	be.Equal(t, loaded.Converter.URL, "http://converter:9000")
}

func TestSetupLogging(t *testing.T) {
	be.Err(t, setupLogging("debug"), nil)
	be.True(t, zerologDebug())
	be.Err(t, setupLogging("info"), nil)
	be.True(t, !zerologDebug())
	be.Err(t, setupLogging("loud"), "invalid log level")
}

type uiFunc func() (tea.Model, error)

func (f uiFunc) Run() (tea.Model, error) { return f() }

func useProgressUI(t *testing.T, build func(m tea.Model) progressUI) {
	t.Helper()
	prev := newProgressUI
	newProgressUI = build
	t.Cleanup(func() { newProgressUI = prev })
}

func runConvertAsync(t *testing.T, conv convert.Converter, paths []string, opts convertOptions) error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		var out bytes.Buffer
		done <- runConvert(context.Background(), &out, conv, paths, opts)
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("runConvert still blocked after 5s")
		return nil
	}
}

func names(n int) []string {
	out := make([]string, 0, n)
	for i := range n {
		out = append(out, fmt.Sprintf("img%02d.png", i))
	}
	return out
}

func TestRunConvertInteractiveFallsBackWhenDisplayFails(t *testing.T) {
	useProgressUI(t, func(tea.Model) progressUI {
		return uiFunc(func() (tea.Model, error) {
			return nil, errors.New("could not open a new TTY")
		})
	})
	paths := writeInputs(t, names(10)...)
	outDir := t.TempDir()
	var calls atomic.Int32
	conv := converterFunc(func(_ context.Context, req convert.Request) (convert.Response, error) {
		calls.Add(1)
		return convert.Response{Data: []byte(req.Filename)}, nil
	})

	err := runConvertAsync(t, conv, paths, convertOptions{source: "all", target: "jpg", outDir: outDir})
	be.Err(t, err, nil)
	be.Equal(t, calls.Load(), int32(10))

	zr, err := zip.OpenReader(filepath.Join(outDir, "converted_images.zip"))
	be.Err(t, err, nil)
	defer zr.Close()
	be.Equal(t, len(zr.File), 10)
}

func TestRunConvertInteractiveQuitStopsBatch(t *testing.T) {
	// the display takes one update and quits, as it does on Ctrl+C
	useProgressUI(t, func(m tea.Model) progressUI {
		return uiFunc(func() (tea.Model, error) {
			next, _ := m.Update(m.Init()())
			return next, nil
		})
	})
	paths := writeInputs(t, names(10)...)
	outDir := t.TempDir()
	var calls atomic.Int32
	conv := converterFunc(func(ctx context.Context, req convert.Request) (convert.Response, error) {
		if calls.Add(1) == 1 {
			return convert.Response{Data: []byte("first")}, nil
		}
		<-ctx.Done()
		return convert.Response{}, ctx.Err()
	})

	err := runConvertAsync(t, conv, paths, convertOptions{source: "all", target: "jpg", outDir: outDir})
	be.True(t, err != nil)
	be.True(t, calls.Load() <= 2)

	data, readErr := os.ReadFile(filepath.Join(outDir, "img00.jpg"))
	be.Err(t, readErr, nil)
	be.Equal(t, string(data), "first")
}
