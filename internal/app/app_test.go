package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crop-sell-advisor/internal/config"
	"crop-sell-advisor/internal/model"
	"crop-sell-advisor/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:      config.DriverSQLite,
			DSN:         "file:" + filepath.Join(t.TempDir(), "app.db"),
			AutoMigrate: true,
		},
		Source:      config.SourceConfig{RequestTimeout: time.Second, FetchLimit: 100},
		Weather:     config.WeatherConfig{DefaultCity: "Delhi", RequestTimeout: time.Second},
		Acquisition: config.AcquisitionConfig{CacheMaxAge: 24 * time.Hour},
		Forecast:    config.ForecastConfig{DaysAhead: 7, Confidence: 0.75},
		Crops:       config.CropsConfig{Tracked: []string{"wheat", "onion"}},
		Alerting:    config.AlertingConfig{Channels: []string{"log"}},
		Export:      config.ExportConfig{MaxDataPoints: 1000},
	}
}

func openTestStore(t *testing.T, cfg *config.Config) storage.Backend {
	t.Helper()
	store, err := storage.Open(context.Background(), cfg.Database)
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestBuildRule(t *testing.T) {
	a := NewApp(testConfig(t), zerolog.Nop())

	rule, err := a.buildRule(AlertOptions{Crop: "Wheat", Kind: "above", Threshold: "2500"})
	if err != nil {
		t.Fatalf("合法规则不应报错: %v", err)
	}
	if rule.Kind != model.AlertAbove || rule.ThresholdPrice == nil || rule.ThresholdPrice.String() != "2500" {
		t.Fatalf("ABOVE 规则应使用价格阈值: %+v", rule)
	}
	if len(rule.Channels) != 1 || rule.Channels[0] != "log" || !rule.Active {
		t.Fatalf("应使用默认渠道并激活: %+v", rule)
	}

	rule, err = a.buildRule(AlertOptions{Crop: "onion", Kind: "CHANGE", Threshold: "5"})
	if err != nil || rule.ThresholdPercent == nil || rule.ThresholdPrice != nil {
		t.Fatalf("CHANGE 规则应使用百分比阈值: %+v %v", rule, err)
	}

	for _, opts := range []AlertOptions{
		{Crop: "wheat", Kind: "sideways", Threshold: "1"},
		{Crop: "wheat", Kind: "below", Threshold: "abc"},
		{Crop: "wheat", Kind: "below", Threshold: "-5"},
		{Crop: "", Kind: "below", Threshold: "5"},
	} {
		if _, err := a.buildRule(opts); !errors.Is(err, model.ErrInvalidRule) {
			t.Fatalf("%+v 应被拒绝, 实际 %v", opts, err)
		}
	}
}

func TestAddAlertPersists(t *testing.T) {
	cfg := testConfig(t)
	a := NewApp(cfg, zerolog.Nop())
	ctx := context.Background()

	created, err := a.AddAlert(ctx, AlertOptions{UserID: 7, Crop: "Tomato", Kind: "below", Threshold: "900"})
	if err != nil {
		t.Fatalf("创建规则失败: %v", err)
	}
	if err := a.SetAlertActive(ctx, created.ID.String(), false); err != nil {
		t.Fatalf("停用规则失败: %v", err)
	}

	store := openTestStore(t, cfg)
	rule, err := store.GetRule(ctx, created.ID)
	if err != nil {
		t.Fatalf("读取规则失败: %v", err)
	}
	if rule.Crop != "tomato" || rule.UserID != 7 || rule.Active {
		t.Fatalf("规则未正确持久化: %+v", rule)
	}
	if err := a.SetAlertActive(ctx, "not-a-uuid", true); err == nil {
		t.Fatal("非法 id 应报错")
	}
}

func TestAddWatchDefaults(t *testing.T) {
	cfg := testConfig(t)
	a := NewApp(cfg, zerolog.Nop())
	ctx := context.Background()

	if err := a.AddWatch(ctx, WatchOptions{UserID: 3, Crop: "Onion", RiskTolerance: "LOW"}); err != nil {
		t.Fatalf("保存关注失败: %v", err)
	}
	if err := a.AddWatch(ctx, WatchOptions{UserID: 3, Crop: "onion", RiskTolerance: "reckless"}); err == nil {
		t.Fatal("非法风险偏好应报错")
	}

	watches, err := openTestStore(t, cfg).ListWatches(ctx)
	if err != nil || len(watches) != 1 {
		t.Fatalf("期望 1 条关注, 实际 %d %v", len(watches), err)
	}
	w := watches[0]
	if w.City != "Delhi" || w.RiskTolerance != model.ToleranceLow || len(w.Channels) != 1 {
		t.Fatalf("关注应补齐默认城市与渠道: %+v", w)
	}
}

func TestBackfillDryRunNeedsNoDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.DSN = ""
	a := NewApp(cfg, zerolog.Nop())

	if err := a.Backfill(context.Background(), BackfillOptions{Days: 10, DryRun: true, Workers: 2}); err != nil {
		t.Fatalf("dry-run 回填不应报错: %v", err)
	}
	if err := a.Backfill(context.Background(), BackfillOptions{Days: 10}); err == nil {
		t.Fatal("未配置数据库时真实回填应报错")
	}
}

func TestBackfillPersistsSyntheticWindow(t *testing.T) {
	cfg := testConfig(t)
	a := NewApp(cfg, zerolog.Nop())
	ctx := context.Background()

	if err := a.Backfill(ctx, BackfillOptions{Crops: []string{"Rice"}, Days: 5}); err != nil {
		t.Fatalf("回填失败: %v", err)
	}
	// synthetic-only windows are not cached
	count, err := openTestStore(t, cfg).CountPrices(ctx, "rice")
	if err != nil || count != 0 {
		t.Fatalf("纯合成数据不应写库, 实际 %d %v", count, err)
	}
}

func TestExportCSVIncludesForecast(t *testing.T) {
	cfg := testConfig(t)
	a := NewApp(cfg, zerolog.Nop())
	ctx := context.Background()

	today := model.Day(time.Now().UTC())
	var series model.Series
	for i := 0; i < 10; i++ {
		series = append(series, model.PricePoint{
			Crop:   "wheat",
			Date:   today.AddDate(0, 0, -9+i),
			Price:  2000 + float64(i)*10,
			Market: "Khanna",
			Source: model.SourceReal,
		})
	}
	if _, err := openTestStore(t, cfg).UpsertPrices(ctx, series); err != nil {
		t.Fatalf("写入价格失败: %v", err)
	}

	path := filepath.Join(t.TempDir(), "out", "wheat.csv")
	if err := a.Export(ctx, ExportOptions{Crop: "wheat", Days: 30, DaysAhead: 3, CSVPath: path}); err != nil {
		t.Fatalf("导出失败: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("打开 CSV 失败: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("解析 CSV 失败: %v", err)
	}
	if len(records) != 1+10+3 {
		t.Fatalf("期望 1 行表头 + 10 历史 + 3 预测, 实际 %d", len(records))
	}
	if records[1][0] != series[0].DayKey() || records[1][1] != "2000.00" || records[1][3] != "real" {
		t.Fatalf("首行历史数据不符: %v", records[1])
	}
	last := records[len(records)-1]
	if last[0] != today.AddDate(0, 0, 3).Format(model.DateLayout) || last[4] != "true" || last[5] != "0.75" {
		t.Fatalf("末行应为第 3 天预测: %v", last)
	}
	if last[1] != "2120.00" {
		t.Fatalf("线性预测应延续每天 +10 的趋势, 实际 %s", last[1])
	}
}

func TestExportRequiresTarget(t *testing.T) {
	a := NewApp(testConfig(t), zerolog.Nop())
	if err := a.Export(context.Background(), ExportOptions{Crop: "wheat", Days: 10}); err == nil {
		t.Fatal("未指定 --csv/--png 时应报错")
	}
}

func TestDownsampleSeriesKeepsEnds(t *testing.T) {
	series := make(model.Series, 100)
	for i := range series {
		series[i] = model.PricePoint{Price: float64(i)}
	}
	out := downsampleSeries(series, 10)
	if len(out) != 10 || out[0].Price != 0 || out[9].Price != 99 {
		t.Fatalf("降采样应保留首尾: %d %v %v", len(out), out[0].Price, out[len(out)-1].Price)
	}
	if len(downsampleSeries(series[:5], 10)) != 5 {
		t.Fatal("点数不足时不应降采样")
	}
}
