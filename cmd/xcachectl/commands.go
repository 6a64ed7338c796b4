package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/tilecache/pkg/config/xconf"
	"github.com/omeyang/tilecache/pkg/lifecycle/xrun"
	"github.com/omeyang/tilecache/pkg/storage/xcache"
	"github.com/omeyang/tilecache/pkg/storage/xcachemgr"
)

const (
	defaultAddr           = ":8080"
	defaultAdminURL       = "http://127.0.0.1:8080"
	defaultRequestTimeout = 10 * time.Second
	shutdownTimeout       = 10 * time.Second
)

// usageError 表示参数错误，退出码为 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func createCommands() []*cli.Command {
	return []*cli.Command{
		createEstimateCommand(),
		createProbeCommand(),
		createServeCommand(),
		createInfoCommand(),
		createClearCommand(),
	}
}

// =============================================================================
// estimate
// =============================================================================

func createEstimateCommand() *cli.Command {
	return &cli.Command{
		Name:  "estimate",
		Usage: "按系统内存估算缓存容量",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "size-each",
				Usage: "单个条目的预估字节数",
				Value: xcache.DefaultTileSize,
			},
			&cli.IntFlag{
				Name:  "portion",
				Usage: "内存反比例，0 表示使用配置值",
			},
			&cli.IntFlag{
				Name:  "max-items",
				Usage: "容量上限，0 表示不限制",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			portion := cmd.Int("portion")
			if portion == 0 {
				portion = settings.Portion
			}
			if portion < 0 || cmd.Int("max-items") < 0 {
				return usagef("portion and max-items must not be negative")
			}
			return cmdEstimate(cmd.Root().Writer, xcache.SystemEstimator(),
				cmd.Int64("size-each"), portion, cmd.Int("max-items"))
		},
	}
}

func cmdEstimate(w io.Writer, e xcache.Estimator, sizeEach int64, portion, maxItems int) error {
	capacity := e.Capacity(sizeEach, portion, maxItems)
	_, err := fmt.Fprintf(w, "capacity: %d (memory: %d bytes, portion: 1/%d, size each: %d bytes)\n",
		capacity, e.Memory, portion, sizeEach)
	return err
}

// =============================================================================
// probe
// =============================================================================

func createProbeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "探测配置的远端缓存服务",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			return cmdProbe(ctx, cmd.Root().Writer, settings)
		},
	}
}

func cmdProbe(ctx context.Context, w io.Writer, s xcachemgr.Settings) error {
	var (
		store   xcache.RemoteStore
		address string
	)
	switch s.Backend {
	case xcachemgr.FamilyRedis:
		rs, err := xcache.DialRedis(s.Redis)
		if err != nil {
			return fmt.Errorf("redis at %s: %w", s.Redis.URL, err)
		}
		store, address = rs, s.Redis.URL
	case xcachemgr.FamilyMemcached:
		store, address = xcache.DialMemcached(s.Memcached), s.Memcached.URL
	default:
		_, err := fmt.Fprintf(w, "%s: in-process cache, nothing to probe\n", s.Backend)
		return err
	}
	defer store.Close()

	if err := xcache.Probe(ctx, store, xcache.WithProbe(s.ProbeTimeout, 0)); err != nil {
		return fmt.Errorf("%s at %s: %w", s.Backend, address, err)
	}
	_, err := fmt.Fprintf(w, "%s at %s: ok\n", s.Backend, address)
	return err
}

// =============================================================================
// serve
// =============================================================================

func createServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "运行缓存管理 HTTP 接口",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "监听地址",
				Value: defaultAddr,
			},
			&cli.StringSliceFlag{
				Name:  "cache",
				Usage: "注册的共享字节缓存名称，可重复",
				Value: []string{"tileCache"},
			},
			&cli.DurationFlag{
				Name:  "report-interval",
				Usage: "记录缓存用量的间隔，0 表示不记录",
				Value: time.Minute,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.String("log-level"))
			if err != nil {
				return err
			}
			m, err := xcachemgr.New(settings, xcachemgr.WithLogger(logger))
			if err != nil {
				return err
			}
			if err := registerCaches(ctx, m, cmd.StringSlice("cache")); err != nil {
				return errors.Join(err, m.Close(ctx))
			}
			server := &http.Server{
				Addr:              cmd.String("addr"),
				Handler:           xcachemgr.AdminHandler(m),
				ReadHeaderTimeout: 5 * time.Second,
			}
			err = serve(ctx, logger, m, server, cmd.Duration("report-interval"))
			return errors.Join(err, m.Close(context.WithoutCancel(ctx)))
		},
	}
}

// registerCaches 为每个名称注册一个共享字节缓存。
func registerCaches(ctx context.Context, m *xcachemgr.Manager, names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		_, err := xcachemgr.GetOrRegister(ctx, m, name, xcachemgr.CacheSpec[[]byte]{
			Shared: true,
			Codec:  xcache.BytesCodec{},
			Sizer:  func(b []byte) int64 { return int64(len(b)) },
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func serve(ctx context.Context, logger *slog.Logger, m *xcachemgr.Manager, server xrun.Server, interval time.Duration) error {
	services := []xrun.Service{xrun.HTTPServer(server, shutdownTimeout)}
	if interval > 0 {
		services = append(services, xrun.Ticker(interval, func(ctx context.Context) error {
			reportUsage(ctx, logger, m)
			return nil
		}))
	}

	logger.Info("xcachectl: serving cache admin", slog.Any("caches", m.Names()))
	err := xrun.Run(ctx, []xrun.Option{xrun.WithLogger(logger), xrun.WithName("xcachectl")}, services...)
	if errors.Is(err, xrun.ErrSignal) {
		return nil
	}
	return err
}

func reportUsage(ctx context.Context, logger *slog.Logger, m *xcachemgr.Manager) {
	for name, info := range m.Info() {
		logger.InfoContext(ctx, "xcachectl: cache usage",
			slog.String("cache", name),
			slog.Int("used", info.Used),
			slog.Int("capacity", info.Capacity))
	}
}

// =============================================================================
// info / clear
// =============================================================================

func adminFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "管理接口地址",
			Value: defaultAdminURL,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "请求超时时间",
			Value: defaultRequestTimeout,
		},
	}
}

func createInfoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "查询运行中服务的缓存容量和条目数",
		Flags: adminFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client := &http.Client{Timeout: cmd.Duration("timeout")}
			return cmdInfo(ctx, cmd.Root().Writer, client, cmd.String("addr"))
		},
	}
}

func cmdInfo(ctx context.Context, w io.Writer, client *http.Client, addr string) error {
	var info map[string]xcachemgr.CacheInfo
	if err := doAdmin(ctx, client, http.MethodGet, addr, "/cache", nil, &info); err != nil {
		return err
	}
	return printInfo(w, info)
}

func createClearCommand() *cli.Command {
	flags := append(adminFlags(), &cli.StringFlag{
		Name:  "name",
		Usage: "只清空指定缓存",
	})
	return &cli.Command{
		Name:  "clear",
		Usage: "清空运行中服务的全部或指定缓存",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client := &http.Client{Timeout: cmd.Duration("timeout")}
			return cmdClear(ctx, cmd.Root().Writer, client, cmd.String("addr"), cmd.String("name"))
		},
	}
}

func cmdClear(ctx context.Context, w io.Writer, client *http.Client, addr, name string) error {
	query := url.Values{}
	if name != "" {
		query.Set("name", name)
	}
	var report xcachemgr.Report
	if err := doAdmin(ctx, client, http.MethodPut, addr, "/cache/clear", query, &report); err != nil {
		return err
	}
	for _, n := range sortedNames(report.Before) {
		if _, err := fmt.Fprintf(w, "%s: %d -> %d\n", n, report.Before[n].Used, report.After[n].Used); err != nil {
			return err
		}
	}
	return nil
}

func doAdmin(ctx context.Context, client *http.Client, method, addr, path string, query url.Values, out any) error {
	base, err := url.Parse(addr)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return usagef("invalid admin address %q", addr)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + path
	base.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, base.String(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, body.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printInfo(w io.Writer, info map[string]xcachemgr.CacheInfo) error {
	if len(info) == 0 {
		_, err := fmt.Fprintln(w, "no in-process caches")
		return err
	}
	for _, name := range sortedNames(info) {
		if _, err := fmt.Fprintf(w, "%s: %d/%d\n", name, info[name].Used, info[name].Capacity); err != nil {
			return err
		}
	}
	return nil
}

func sortedNames(m map[string]xcachemgr.CacheInfo) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// =============================================================================
// 公共辅助
// =============================================================================

// loadSettings 读取 --config 指定的配置文件；未指定时按独立运行处理。
func loadSettings(cmd *cli.Command) (xcachemgr.Settings, error) {
	cfg := xconf.Empty()
	if path := cmd.String("config"); path != "" {
		loaded, err := xconf.New(path)
		if err != nil {
			if errors.Is(err, xconf.ErrUnsupportedFormat) || errors.Is(err, os.ErrNotExist) {
				return xcachemgr.Settings{}, usagef("config %s: %v", path, err)
			}
			return xcachemgr.Settings{}, err
		}
		cfg = loaded
	}
	return xcachemgr.ParseSettings(cfg, cmd.String("section")), nil
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, usagef("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}
