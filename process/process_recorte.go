package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"recorte/models"
	"recorte/pkg/crop"
	"recorte/pkg/ocr"
	"recorte/pkg/render"
)

// Global DB handle for helper funcs (nil in dry-run mode)
var db *gorm.DB

// global flags (parsed in main)
var (
	verbose bool
	dryRun  bool
)

// preload cache so reprocessing a folder does not re-query per file
type preloadState struct {
	extByFile map[string]*models.Extraction // fileName -> extraction
	mu        sync.RWMutex
}

func newPreloadState() *preloadState {
	return &preloadState{extByFile: make(map[string]*models.Extraction, 1024)}
}

func (ps *preloadState) get(name string) (*models.Extraction, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	e, ok := ps.extByFile[name]
	return e, ok
}

func (ps *preloadState) put(e *models.Extraction) {
	ps.mu.Lock()
	ps.extByFile[e.FileName] = e
	ps.mu.Unlock()
}

func mustInitDBFromEnv() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatalf("DB_DSN must be set in environment to run this tool")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	return gdb
}

// Main: applies an exported crop config to a directory of invoice PDFs,
// records the OCR extraction per file, optional watch mode.
func main() {
	configFlag := flag.String("config", "", "path to an exported crop config JSON (required)")
	dirFlag := flag.String("dir", "uploads/invoices", "directory to scan for invoice PDFs")
	watch := flag.Bool("watch", false, "Watch directory for new files")
	workers := flag.Int("workers", 0, "Worker pool size (default NumCPU)")
	flag.BoolVar(&dryRun, "dry-run", false, "Skip all DB writes; just render/OCR and print results")
	flag.BoolVar(&verbose, "verbose", false, "Verbose per-file logging")
	flag.Parse()

	if *configFlag == "" {
		log.Fatalf("-config is required (export one via POST /invoices/:id/export)")
	}
	data, err := os.ReadFile(*configFlag)
	if err != nil {
		log.Fatalf("read config: %v", err)
	}
	cfg, err := crop.Parse(data)
	if err != nil {
		log.Fatalf("invalid config %s: %v", *configFlag, err)
	}
	log.Printf("Loaded config label=%s page=%d dpi=%d region=%+v", cfg.Label, cfg.Page, cfg.DPI, cfg.Coordinates)

	if !dryRun {
		db = mustInitDBFromEnv()
	}

	w := *workers
	if w <= 0 {
		w = runtime.NumCPU()
	}

	ps := newPreloadState()
	if !dryRun {
		preloadExtractions(cfg, ps)
	}

	if *watch {
		if err := watchDirectory(*dirFlag, cfg, ps, w); err != nil {
			log.Fatalf("watch failed: %v", err)
		}
		return
	}

	files := listPDFFiles(*dirFlag)
	log.Printf("Found %d candidate files in %s", len(files), *dirFlag)
	runWorkerPool(*dirFlag, cfg, ps, files, w, nil)
}

func preloadExtractions(cfg crop.Config, ps *preloadState) {
	var rows []models.Extraction
	if err := db.Where("distributor = ?", distributorName(cfg)).Find(&rows).Error; err != nil {
		log.Printf("preload warning: %v", err)
		return
	}
	for i := range rows {
		ps.put(&rows[i])
	}
	if verbose {
		log.Printf("Preloaded %d existing extractions", len(rows))
	}
}

func distributorName(cfg crop.Config) string {
	d := strings.TrimSpace(cfg.Label)
	if d == "" {
		d = "config"
	}
	return d
}

// processSingleFile renders, crops and OCRs one PDF, then upserts the
// Extraction row (skipped in dry-run).
func processSingleFile(dir, name string, cfg crop.Config, ps *preloadState) {
	fullPath := filepath.Join(dir, name)

	page, err := render.RenderPage(fullPath, cfg.PageIndex(), cfg.DPI)
	if err != nil {
		log.Printf("%s: render failed: %v", name, err)
		return
	}
	rect, err := crop.Normalize(cfg.Coordinates, page.Bounds().Dx(), page.Bounds().Dy())
	if err != nil {
		// configured region lies outside this file's page; nothing to extract
		log.Printf("%s: crop region empty for page %dx%d, skipping", name, page.Bounds().Dx(), page.Bounds().Dy())
		return
	}
	cropped := imaging.Crop(page, rect.Bounds())

	res, err := ocr.ExtractLines(cropped)
	if err != nil {
		log.Printf("%s: ocr failed: %v", name, err)
		return
	}
	if verbose || dryRun {
		log.Printf("%s: %d lines avg_conf=%.2f first=%q", name, len(res.Lines), res.AvgConfidence, res.Lines[0].Text)
	}
	if dryRun {
		return
	}

	if existing, ok := ps.get(name); ok {
		existing.Text = res.Text
		existing.Confidence = res.AvgConfidence
		existing.LineCount = len(res.Lines)
		existing.PageIndex = cfg.PageIndex()
		existing.DPI = cfg.DPI
		if err := db.Save(existing).Error; err != nil {
			log.Printf("%s: update failed: %v", name, err)
		}
		return
	}
	ext := models.Extraction{
		FileName:    name,
		Distributor: distributorName(cfg),
		PageIndex:   cfg.PageIndex(),
		DPI:         cfg.DPI,
		Text:        res.Text,
		Confidence:  res.AvgConfidence,
		LineCount:   len(res.Lines),
	}
	if err := db.Create(&ext).Error; err != nil {
		log.Printf("%s: insert failed: %v", name, err)
		return
	}
	ps.put(&ext)
}

func listPDFFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !isSupportedExt(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func isSupportedExt(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

func watchDirectory(dir string, cfg crop.Config, ps *preloadState, workers int) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Printf("Watching %s (debounced) ...", dir)

	fileCh := make(chan string, 256)
	go func() {
		// simple debounce map of pending files so half-written PDFs settle first
		pending := map[string]time.Time{}
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					close(fileCh)
					return
				}
				if ev.Op&fsnotify.Create == fsnotify.Create {
					name := filepath.Base(ev.Name)
					if !isSupportedExt(name) {
						continue
					}
					pending[name] = time.Now()
				}
			case <-ticker.C:
				now := time.Now()
				for name, t := range pending {
					if now.Sub(t) > 300*time.Millisecond { // stable
						fileCh <- name
						delete(pending, name)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					close(fileCh)
					return
				}
				log.Printf("watch error: %v", err)
			}
		}
	}()

	// Use worker pool for watch events too
	go runWorkerPool(dir, cfg, ps, nil, workers, fileCh)
	// block forever (Ctrl+C to exit)
	select {}
}

// runWorkerPool fans initial files plus any extra channel into a fixed pool.
func runWorkerPool(dir string, cfg crop.Config, ps *preloadState, initial []string, workers int, extraCh <-chan string) {
	fileCh := make(chan string, 1024)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range fileCh {
				processSingleFile(dir, name, cfg, ps)
			}
		}()
	}
	for _, name := range initial {
		fileCh <- name
	}
	if extraCh != nil {
		for name := range extraCh {
			fileCh <- name
		}
	}
	close(fileCh)
	wg.Wait()
}
