// Package main provides the entry point for the bookvoice CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bookvoice/bookvoice/internal/audiofile"
	"github.com/bookvoice/bookvoice/internal/book"
	"github.com/bookvoice/bookvoice/internal/document"
	"github.com/bookvoice/bookvoice/pkg/synth"
	"github.com/bookvoice/bookvoice/pkg/synth/engines"
	"github.com/bookvoice/bookvoice/pkg/synth/perf"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	outDir     string
	voiceID    string
	adapter    string
	rate       float64
	workers    int
	noCache    bool
	strategy   string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "bookvoice FILE",
		Short: "Turn markdown books into audiobooks",
		Long: "\nBookvoice reads a markdown document, splits it into chapters and " +
			"sentences, and narrates it through pluggable speech synthesis backends " +
			"with automatic retry and fallback.",
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.ExactArgs(1),
		PersistentPreRun: func(*cobra.Command, []string) {
			if debug || viper.GetBool("debug") {
				log.SetLevel(log.DebugLevel)
			}
		},
		RunE: execute,
	}

	adaptersCmd = &cobra.Command{
		Use:   "adapters",
		Short: "List registered synthesis adapters and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, err := buildManager()
			if err != nil {
				return err
			}
			defer m.CleanupAll()

			info := m.Registry().RegistrationInfo()
			names := m.RegisteredAdapters()
			for _, name := range names {
				reg := info[name]
				caps := reg.Adapter.Capabilities()
				state := "unavailable"
				if reg.Available {
					state = "available"
				}
				fmt.Printf("%-10s %s quality=%.0f offline=%v languages=%v\n",
					name, state, caps.QualityScore, caps.Offline, caps.Languages)
			}
			return nil
		},
	}

	voicesCmd = &cobra.Command{
		Use:   "voices",
		Short: "List the voices offered by every adapter",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, err := buildManager()
			if err != nil {
				return err
			}
			defer m.CleanupAll()

			voices := m.SupportedVoices()
			names := make([]string, 0, len(voices))
			for n := range voices {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, name := range names {
				for _, v := range voices[name] {
					fmt.Printf("%-10s %-14s %-20s %s\n", name, v.ID, v.Name, v.Language)
				}
			}
			return nil
		},
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Probe every adapter and report its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := buildManager()
			if err != nil {
				return err
			}
			defer m.CleanupAll()

			results := m.HealthCheckAll(cmd.Context())
			names := make([]string, 0, len(results))
			for n := range results {
				names = append(names, n)
			}
			sort.Strings(names)
			unhealthy := 0
			for _, name := range names {
				res := results[name]
				fmt.Printf("%-10s %-10s %v %s\n", name, res.Status, res.ResponseTime.Round(time.Millisecond), res.Message)
				if !res.Healthy() {
					unhealthy++
				}
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d adapter(s) unhealthy", unhealthy)
			}
			return nil
		},
	}

	metricsCmd = &cobra.Command{
		Use:   "metrics",
		Short: "Probe adapters and show their performance snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := buildManager()
			if err != nil {
				return err
			}
			defer m.CleanupAll()

			// Health probes feed the monitor, so even a fresh process
			// has latency data to show.
			m.HealthCheckAll(cmd.Context())

			snaps := m.PerformanceMetrics()
			names := make([]string, 0, len(snaps))
			for n := range snaps {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, name := range names {
				s := snaps[name]
				fmt.Printf("%-10s requests=%d errors=%.0f%% avg_response=%v level=%s\n",
					name, s.Requests, s.ErrorRate, s.AvgResponseTime.Round(time.Millisecond), s.AlertLevel)
			}
			for _, a := range m.PerformanceAlerts() {
				fmt.Printf("alert: %s %s %v\n", a.Adapter, a.Level, a.Causes)
			}
			return nil
		},
	}

	manCmd = &cobra.Command{
		Use:    "man",
		Short:  "Generate man page",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			manPage, err := mcobra.NewManPage(1, rootCmd)
			if err != nil {
				return fmt.Errorf("unable to generate man page: %w", err)
			}
			manPage = manPage.WithSection("Copyright", "Released under the MIT License.")
			fmt.Println(manPage.Build(roff.NewDocument()))
			return nil
		},
	}
)

// buildManager assembles the synthesis manager with the built-in adapters
// registered from the effective configuration.
func buildManager() (*synth.Manager, error) {
	cfg, err := synth.LoadConfig()
	if err != nil {
		return nil, err
	}
	if strategy != "" {
		cfg.SelectionStrategy = strategy
	}
	if adapter != "" {
		cfg.DefaultAdapter = adapter
	}

	m, err := synth.NewManager(cfg)
	if err != nil {
		return nil, err
	}

	if err := m.RegisterAdapter("espeak", engines.NewEspeakAdapter(engines.EspeakConfig{
		Binary: viper.GetString("espeak.binary"),
		Voice:  viper.GetString("espeak.voice"),
	})); err != nil {
		return nil, err
	}
	if err := m.RegisterAdapter("gtts", engines.NewGTTSAdapter(engines.GTTSConfig{
		Language: viper.GetString("gtts.language"),
		TLD:      viper.GetString("gtts.tld"),
		Slow:     viper.GetBool("gtts.slow"),
	})); err != nil {
		return nil, err
	}
	return m, nil
}

func execute(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", args[0], err)
	}

	bk, err := document.NewParser().Parse(source)
	if err != nil {
		return fmt.Errorf("unable to parse %s: %w", args[0], err)
	}
	if bk.Words == 0 {
		return fmt.Errorf("%s contains no narratable text", args[0])
	}
	log.Info("book parsed",
		"title", bk.Title, "chapters", len(bk.Chapters), "words", bk.Words)

	m, err := buildManager()
	if err != nil {
		return err
	}
	defer m.CleanupAll()

	var cache *audiofile.Cache
	if !noCache {
		dir := viper.GetString("cache.dir")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err == nil {
				dir = filepath.Join(home, ".cache", "bookvoice")
			}
		}
		if dir != "" {
			maxMB := viper.GetInt64("cache.max_size_mb")
			cache, err = audiofile.NewCache(dir, maxMB<<20)
			if err != nil {
				log.Warn("audio cache disabled", "error", err)
				cache = nil
			} else {
				defer cache.Close()
			}
		}
	}

	builder := book.NewBuilder(m, cache, book.Options{
		OutDir:  outDir,
		Adapter: adapter,
		Voice:   synth.VoiceSpec{ID: voiceID},
		Rate:    rate,
		Workers: workers,
	})

	start := time.Now()
	results, err := builder.Build(cmd.Context(), bk)
	if err != nil {
		return err
	}

	var total time.Duration
	for _, res := range results {
		total += res.Duration
	}
	log.Info("audiobook complete",
		"chapters", len(results), "audio", total.Round(time.Second),
		"elapsed", time.Since(start).Round(time.Second), "out", outDir)

	reportPerformance(m, bk)
	return nil
}

// reportPerformance validates the run against the per-category targets and
// logs recommendations for anything that missed them.
func reportPerformance(m *synth.Manager, bk *document.Book) {
	for name, snap := range m.PerformanceMetrics() {
		if snap.TotalWords == 0 || snap.AvgRate <= 0 {
			continue
		}
		report := perf.Validate(perf.Sample{
			Words:         int(snap.TotalWords),
			SynthesisTime: time.Duration(float64(snap.TotalWords) / snap.AvgRate * float64(time.Second)),
			Memory:        snap.AvgMemory,
			Quality:       qualityOf(m, name),
			Category:      perf.CategoryForWords(bk.Words),
		}, perf.DefaultTargets())

		log.Debug("adapter performance",
			"adapter", name, "score", report.Score,
			"rate", fmt.Sprintf("%.1f wps", snap.AvgRate),
			"errors", fmt.Sprintf("%.0f%%", snap.ErrorRate))
		for _, rec := range report.Recommendations {
			log.Warn("performance recommendation", "adapter", name, "action", rec)
		}
	}
}

func qualityOf(m *synth.Manager, name string) float64 {
	if reg, ok := m.Registry().Get(name); ok {
		return reg.Adapter.Capabilities().QualityScore
	}
	return 0
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")
	rootCmd.Flags().StringVarP(&outDir, "out", "o", "audiobook", "output directory for chapter files")
	rootCmd.Flags().StringVarP(&voiceID, "voice", "v", "", "voice id (see 'bookvoice voices')")
	rootCmd.Flags().StringVarP(&adapter, "adapter", "a", "", "preferred adapter (see 'bookvoice adapters')")
	rootCmd.Flags().Float64VarP(&rate, "rate", "r", 1.0, "speaking rate multiplier (0.5 to 2.0)")
	rootCmd.Flags().IntVarP(&workers, "workers", "j", 2, "concurrent synthesis workers")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the rendered audio cache")
	rootCmd.Flags().StringVar(&strategy, "strategy", "", "adapter selection strategy (default/best-quality/round-robin)")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("out", rootCmd.Flags().Lookup("out"))
	_ = viper.BindPFlag("voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("rate", rootCmd.Flags().Lookup("rate"))
	_ = viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))

	viper.SetDefault("cache.max_size_mb", 500)
	viper.SetDefault("espeak.binary", "espeak-ng")
	viper.SetDefault("espeak.voice", "en-us")
	viper.SetDefault("gtts.language", "en")
	viper.SetDefault("gtts.tld", "com")
	viper.SetDefault("gtts.slow", false)

	rootCmd.AddCommand(adaptersCmd, voicesCmd, healthCmd, metricsCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "bookvoice")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "bookvoice")}, dirs...)
	}
	if c := os.Getenv("BOOKVOICE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("bookvoice")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("bookvoice")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}
	if len(dirs) > 0 {
		configFile = filepath.Join(dirs[0], "bookvoice.yml")
	}
}
