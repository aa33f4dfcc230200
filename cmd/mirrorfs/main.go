package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"mirrorfs/internal/config"
	"mirrorfs/internal/fuseview"
	"mirrorfs/internal/logging"
	"mirrorfs/internal/mirror"
	"mirrorfs/internal/storage"

	"github.com/fatih/color"
)

var logger = logging.GetLogger()

// stringList collects repeatable flag values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var watch stringList
	sourcePath := flag.String("source", "", "Source directory used as backing storage")
	mountPoint := flag.String("mount", "", "Mount point for the FUSE view (optional)")
	configPath := flag.String("config", "", "Config file path (default: ./"+config.DefaultFileName+" if present)")
	useMemory := flag.Bool("mem", false, "Mirror into an in-memory scratch backend seeded from -source")
	list := flag.Bool("list", false, "Print the snapshot and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Var(&watch, "watch", "Filter expression over \"path\" to watch (repeatable)")
	flag.Parse()

	cfg := loadConfig(*configPath)
	if *sourcePath == "" {
		*sourcePath = cfg.Source
	}
	if *mountPoint == "" {
		*mountPoint = cfg.Mount
	}
	watch = append(watch, cfg.Watch...)

	applyLogLevel(cfg.LogLevel, *verbose)

	logger.Info("Starting mirrorfs...")
	logger.Debug("Source path: %s", *sourcePath)
	logger.Debug("Mount point: %s", *mountPoint)

	if *sourcePath == "" {
		logger.Error("A source directory is required (flag -source or config file)")
		os.Exit(1)
	}

	ctx := context.Background()
	root, err := openBackend(ctx, filepath.Clean(*sourcePath), *useMemory)
	if err != nil {
		logger.Error("Failed to open backing storage: %v", err)
		os.Exit(1)
	}

	store := mirror.New(root)
	logger.Info("Walking backing storage...")
	if err := store.Initialize(ctx); err != nil {
		logger.Error("Failed to initialize store: %v", err)
		os.Exit(1)
	}

	if *list {
		printSnapshot(store)
		return
	}

	for _, src := range watch {
		f, compileErr := mirror.CompileFilter(src)
		if compileErr != nil {
			logger.Error("Bad watch expression: %v", compileErr)
			os.Exit(1)
		}
		store.AddListener(newPrinter(src), f)
		logger.Info("Watching: %s", src)
	}
	if len(watch) == 0 {
		store.AddListener(newPrinter("*"), nil)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if *mountPoint != "" {
		cleanMount := filepath.Clean(*mountPoint)
		view := fuseview.New(store)
		if err := view.Mount(cleanMount); err != nil {
			logger.Error("Mount failed: %v", err)
			os.Exit(1)
		}
		logger.Info("View mounted and ready")

		sig := <-sigChan
		logger.Info("Received signal %v", sig)
		if err := view.Unmount(cleanMount); err != nil {
			logger.Error("Unmount error: %v", err)
		}
		logger.Info("Clean shutdown complete")
		return
	}

	logger.Info("Watching for changes (no mount point given), Ctrl-C to exit")
	sig := <-sigChan
	logger.Info("Received signal %v", sig)
}

// loadConfig reads the config file. An explicit path must exist; the
// default path is optional.
func loadConfig(path string) *config.Config {
	explicit := path != ""
	if !explicit {
		path = config.DefaultFileName
	}

	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) && !explicit {
			return &config.Config{}
		}
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	logger.Debug("Loaded config from %s", path)
	return cfg
}

func applyLogLevel(level string, verbose bool) {
	switch level {
	case "ERROR":
		logger.SetLevel(logging.LevelError)
	case "WARN":
		logger.SetLevel(logging.LevelWarn)
	case "INFO":
		logger.SetLevel(logging.LevelInfo)
	case "DEBUG":
		logger.SetLevel(logging.LevelDebug)
	case "TRACE":
		logger.SetLevel(logging.LevelTrace)
	}
	if verbose {
		logger.SetLevel(logging.LevelDebug)
	}
}

// openBackend opens the OS-backed root, or an in-memory scratch copy of it
// when mem is set. Mutations against the scratch copy never touch the
// source directory.
func openBackend(ctx context.Context, source string, mem bool) (storage.DirectoryHandle, error) {
	osRoot, err := storage.NewOSDirectory(source)
	if err != nil {
		return nil, err
	}
	if !mem {
		return osRoot, nil
	}

	logger.Info("Seeding in-memory scratch backend from %s", source)
	memRoot := storage.NewMemory()
	dirs := map[string]storage.DirectoryHandle{mirror.Root: memRoot}

	err = mirror.Walk(ctx, osRoot, func(path string, h storage.Handle) error {
		if mirror.IsRoot(path) {
			return nil
		}
		parent := dirs[mirror.Parent(path)]

		if mirror.IsDirectory(h) {
			d, dirErr := parent.Dir(ctx, h.Name(), true)
			if dirErr != nil {
				return dirErr
			}
			dirs[path] = d
			return nil
		}

		src, ok := h.(storage.FileHandle)
		if !ok {
			return fmt.Errorf("seed %s: file handle expected", path)
		}
		data, readErr := src.Content(ctx)
		if readErr != nil {
			return readErr
		}
		dst, createErr := parent.File(ctx, h.Name(), true)
		if createErr != nil {
			return createErr
		}
		w, openErr := dst.OpenWritable(ctx)
		if openErr != nil {
			return openErr
		}
		if _, writeErr := w.Write(data); writeErr != nil {
			w.Close()
			return writeErr
		}
		return w.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("seed scratch backend: %w", err)
	}
	return memRoot, nil
}

// printSnapshot dumps the store's current mapping, directories first in
// color, and exits.
func printSnapshot(store *mirror.Store) {
	snap := store.Snapshot(nil)

	paths := make([]string, 0, len(snap))
	for path := range snap {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	dirColor := color.New(color.FgBlue, color.Bold)
	for _, path := range paths {
		display := path
		if mirror.IsRoot(path) {
			display = "/"
		}
		if mirror.IsDirectory(snap[path]) {
			dirColor.Println(display)
		} else {
			fmt.Println(display)
		}
	}
}

// printer is the watch listener, printing each changed path.
type printer struct {
	label string
	out   *color.Color
}

func newPrinter(label string) mirror.Listener {
	return &printer{label: label, out: color.New(color.FgCyan)}
}

func (p *printer) PathsChanged(paths []string) {
	if paths == nil {
		p.out.Printf("[%s] full resync\n", p.label)
		return
	}
	for _, path := range paths {
		p.out.Printf("[%s] changed: %s\n", p.label, path)
	}
}
