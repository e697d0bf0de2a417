package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ktr0731/go-fuzzyfinder"
	"github.com/mattn/go-isatty"

	"github.com/alvarorichard/anidl/internal/config"
	dl "github.com/alvarorichard/anidl/internal/download"
	"github.com/alvarorichard/anidl/internal/downloader"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
	"github.com/alvarorichard/anidl/internal/version"
	"github.com/alvarorichard/anidl/pkg/anidl"
)

type flags struct {
	site, episode, host, out, config string
	links, headful, debug           bool
}

func main() {
	os.Exit(run())
}

func run() int {
	startAll := time.Now()

	var f flags
	flag.StringVar(&f.site, "site", "", "site domain to search")
	flag.StringVar(&f.episode, "episode", "", "episodes to download, e.g. 3 or 1-5,7")
	flag.StringVar(&f.host, "host", "", "preferred host family")
	flag.StringVar(&f.out, "out", "", "download directory")
	flag.StringVar(&f.config, "config", config.DefaultPath(), "path to config.yaml")
	flag.BoolVar(&f.links, "links", false, "only print download links")
	flag.BoolVar(&f.headful, "headful", false, "show the browser window")
	flag.BoolVar(&f.debug, "debug", false, "enable debug mode")
	versionFlag := flag.Bool("version", false, "show version information")
	helpFlag := flag.Bool("help", false, "show help message")
	altHelpFlag := flag.Bool("h", false, "show help message")
	flag.Parse()

	if *versionFlag || version.HasVersionArg() {
		version.ShowVersion()
		return 0
	}
	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if *helpFlag || *altHelpFlag || query == "" {
		util.Helper()
		return 0
	}

	cfg, err := config.Load(f.config)
	if err != nil {
		fmt.Fprintln(os.Stderr, util.ErrorHandler(err))
		return 1
	}
	applyFlags(cfg, f)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, util.ErrorHandler(err))
		return 1
	}

	util.SetDebugMode(cfg.Debug)
	util.PerfEnabled = cfg.Debug
	util.InitLogger()
	util.Debug("starting", "version", version.Version, "config", f.config)

	// interrupt cancels every stage; the deferred Close tears the browser down
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reporter anidl.Reporter = &downloader.LogReporter{}
	if !cfg.Debug && isatty.IsTerminal(os.Stderr.Fd()) {
		reporter = &downloader.TUIReporter{Output: os.Stderr}
	}
	client, err := anidl.NewClient(cfg, anidl.WithReporter(reporter))
	if err != nil {
		fmt.Fprintln(os.Stderr, util.ErrorHandler(err))
		return 1
	}
	defer func() {
		if err := client.Close(); err != nil {
			util.Warn("failed to close store", "err", err)
		}
		util.Debugf("[PERF] total run %v", time.Since(startAll))
		util.GetPerfTracker().LogReport()
	}()

	if err := download(ctx, client, cfg, f, query); err != nil {
		if errors.Is(err, context.Canceled) {
			util.Warn("interrupted")
			return 130
		}
		fmt.Fprintln(os.Stderr, util.ErrorHandler(err))
		return 1
	}
	return 0
}

func applyFlags(cfg *config.Config, f flags) {
	if f.site != "" {
		cfg.DefaultSite = f.site
	}
	if f.host != "" {
		cfg.PreferredHost = f.host
	}
	if f.out != "" {
		cfg.DownloadDir = f.out
	}
	if f.headful {
		cfg.Headful = true
	}
	if f.debug {
		cfg.Debug = true
	}
}

func download(ctx context.Context, client *anidl.Client, cfg *config.Config, f flags, query string) error {
	results, err := client.Search(ctx, query, cfg.DefaultSite)
	if err != nil {
		return err
	}
	anime, err := pick(results, func(r anidl.SearchResult) string { return r.Title })
	if err != nil {
		return err
	}
	util.Info("Selected", "title", anime.Title, "link", anime.Link)

	episodes, err := client.ListEpisodes(ctx, anime.Link)
	if err != nil {
		return err
	}
	selected, err := chooseEpisodes(episodes, f.episode)
	if err != nil {
		return err
	}

	if f.links {
		for _, ep := range selected {
			links, err := client.GetDownloadLinks(ctx, ep.Link)
			if err != nil {
				util.Warn("skipping episode", "episode", ep.Number, "err", err)
				continue
			}
			for _, l := range links {
				fmt.Printf("%s\t%s\t%s\n", ep.Number, l.Host, l.URL)
			}
		}
		return nil
	}

	report, err := dl.Run(ctx, client, anime.Title, selected)
	for _, o := range report.Saved() {
		fmt.Println(util.Success(fmt.Sprintf("Episode %s saved to %s", o.Episode.Number, o.Path)))
	}
	if err != nil {
		return err
	}
	if failed := report.Failed(); len(failed) > 0 {
		numbers := make([]string, len(failed))
		for i, o := range failed {
			numbers[i] = o.Episode.Number
		}
		if len(failed) == len(report.Outcomes) {
			return failed[0].Err
		}
		util.Warn("some episodes were not downloaded", "episodes", strings.Join(numbers, ","))
	}
	return nil
}

// chooseEpisodes parses a selection such as "1-5,7", or asks for a single
// episode when none was given
func chooseEpisodes(episodes []models.Episode, selection string) ([]models.Episode, error) {
	if strings.TrimSpace(selection) == "" {
		ep, err := pick(episodes, func(e models.Episode) string { return "Episode " + e.Number })
		if err != nil {
			return nil, err
		}
		return []models.Episode{ep}, nil
	}
	return dl.ParseSelection(selection, episodes)
}

// pick returns the only item, or asks the user to choose one
func pick[T any](items []T, label func(T) string) (T, error) {
	var zero T
	switch len(items) {
	case 0:
		return zero, errors.New("nothing to choose from")
	case 1:
		return items[0], nil
	}
	idx, err := fuzzyfinder.Find(items, func(i int) string { return label(items[i]) })
	if err != nil {
		return zero, fmt.Errorf("selection aborted: %w", err)
	}
	return items[idx], nil
}
