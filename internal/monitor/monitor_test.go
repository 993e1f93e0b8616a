package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crop-sell-advisor/internal/acquire"
	"crop-sell-advisor/internal/advisor"
	"crop-sell-advisor/internal/alerting"
	"crop-sell-advisor/internal/model"
	"crop-sell-advisor/internal/scheduler"
	"crop-sell-advisor/internal/storage"
)

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store, err := storage.OpenSQLite(ctx, "file:"+filepath.Join(t.TempDir(), "monitor.db"))
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("建表失败: %v", err)
	}
	return store
}

type stubAnalyzer struct {
	decisions map[string]model.Decision
	mu        sync.Mutex
	requests  []advisor.Request
}

func (s *stubAnalyzer) Analyze(_ context.Context, req advisor.Request) model.Decision {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.decisions[req.Crop]
}

type stubAcquirer struct {
	failing map[string]bool
	calls   atomic.Int32
}

func (s *stubAcquirer) Acquire(_ context.Context, crop string, days int, _ bool) (acquire.Result, error) {
	s.calls.Add(1)
	if s.failing[crop] {
		return acquire.Result{}, errors.New("disk full")
	}
	return acquire.Result{Tier: model.TierSynthetic, SyntheticDays: days}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func seedWatches(t *testing.T, store *storage.SQLiteStore, watches ...model.Watch) {
	t.Helper()
	for _, w := range watches {
		if err := store.UpsertWatch(context.Background(), w); err != nil {
			t.Fatalf("写入关注失败: %v", err)
		}
	}
}

func TestDailyAnalysisNotifiesActionableDecisions(t *testing.T) {
	store := newStore(t)
	seedWatches(t, store,
		model.Watch{UserID: 1, Crop: "wheat", City: "Karnal", RiskTolerance: model.ToleranceLow, Channels: []string{"log"}},
		model.Watch{UserID: 1, Crop: "onion", Channels: []string{"log"}},
		model.Watch{UserID: 2, Crop: "rice", Channels: []string{"log"}},
		model.Watch{UserID: 2, Crop: "potato", Channels: []string{"log"}},
	)
	analyzer := &stubAnalyzer{decisions: map[string]model.Decision{
		"wheat":  {Crop: "wheat", Action: model.ActionSellNow, Confidence: 0.7, Risk: model.RiskHigh},
		"onion":  {Crop: "onion", Action: model.ActionWait, Confidence: 0.6, Risk: model.RiskLow},
		"rice":   {Crop: "rice", Action: model.ActionHold, Confidence: 0.9, Risk: model.RiskMedium},
		"potato": {Crop: "potato", Action: model.ActionHold, Risk: model.RiskUnknown, Reasoning: "Analysis failed: boom"},
	}}
	notifier := &recordingNotifier{}
	svc := New(Deps{Analyzer: analyzer, Watches: store, Notifier: notifier, Audit: store}, Options{}, zerolog.Nop())

	report, err := svc.DailyAnalysis(context.Background())
	if err == nil {
		t.Fatal("有分析失败时应返回汇总错误")
	}
	if report.Analyzed != 4 || report.Notified != 1 || report.Failed != 1 {
		t.Fatalf("统计不正确: %+v", report)
	}
	if len(notifier.notes) != 1 || notifier.notes[0].Crop != "wheat" || notifier.notes[0].Priority != alerting.PriorityUrgent {
		t.Fatalf("只应为小麦发送紧急推荐: %+v", notifier.notes)
	}

	for _, req := range analyzer.requests {
		if req.Crop == "wheat" && (req.City != "Karnal" || req.Preferences == nil || req.Preferences.RiskTolerance != model.ToleranceLow) {
			t.Fatalf("分析请求应携带用户偏好: %+v", req)
		}
	}

	recs, _ := store.ListRecentNotifications(context.Background(), 10)
	if len(recs) != 1 || recs[0].Kind != model.NotificationRecommendation || !recs[0].Delivered {
		t.Fatalf("推荐通知应被审计: %+v", recs)
	}
}

func TestCollectPricesCoversTrackedAndWatchedCrops(t *testing.T) {
	store := newStore(t)
	seedWatches(t, store, model.Watch{UserID: 1, Crop: "Maize", Channels: []string{"log"}})
	acq := &stubAcquirer{failing: map[string]bool{"rice": true}}
	svc := New(Deps{Acquirer: acq, Watches: store}, Options{TrackedCrops: []string{"wheat", "rice", "Wheat"}, BatchLimit: 2}, zerolog.Nop())

	report, err := svc.CollectPrices(context.Background())
	if err == nil {
		t.Fatal("单个作物失败时应返回汇总错误")
	}
	if report.Crops != 3 || acq.calls.Load() != 3 {
		t.Fatalf("应去重后采集 3 个作物, 实际 %d (调用 %d)", report.Crops, acq.calls.Load())
	}
	if len(report.Failed) != 1 || report.Failed[0] != "rice" {
		t.Fatalf("失败列表不正确: %v", report.Failed)
	}
	if report.Tiers["maize"] != model.TierSynthetic || report.Tiers["wheat"] != model.TierSynthetic {
		t.Fatalf("其余作物应采集成功: %v", report.Tiers)
	}
}

func TestRegisterJobsAndRunNow(t *testing.T) {
	store := newStore(t)
	price := decimal.NewFromInt(100)
	if _, err := store.CreateRule(context.Background(), model.AlertRule{UserID: 1, Crop: "wheat", Kind: model.AlertAbove, ThresholdPrice: &price, Channels: []string{"log"}, Active: true}); err != nil {
		t.Fatalf("创建规则失败: %v", err)
	}
	if _, err := store.UpsertPrices(context.Background(), model.Series{{Crop: "wheat", Date: model.Day(time.Now()), Price: 2400, Market: "Khanna", Source: model.SourceReal}}); err != nil {
		t.Fatalf("写入价格失败: %v", err)
	}

	notifier := &recordingNotifier{}
	gate := alerting.NewGate(store, store, notifier, store, alerting.GateOptions{}, zerolog.Nop())
	sched := scheduler.New(scheduler.Options{}, zerolog.Nop())
	svc := New(Deps{Scheduler: sched, Gate: gate, Acquirer: &stubAcquirer{}}, Options{TrackedCrops: []string{"wheat"}}, zerolog.Nop())

	if err := svc.RegisterJobs(map[string]string{JobAlertSweep: "*/5 * * * *"}); err != nil {
		t.Fatalf("注册任务失败: %v", err)
	}
	jobs := sched.Jobs()
	if len(jobs) != 3 || jobs[0].ID != JobAlertSweep || jobs[0].Spec != "*/5 * * * *" || jobs[1].Spec != DefaultSchedules[JobDailyAnalysis] {
		t.Fatalf("任务注册不正确: %+v", jobs)
	}

	if err := svc.RunJob(context.Background(), JobAlertSweep); err != nil {
		t.Fatalf("手动执行 sweep 失败: %v", err)
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("sweep 应触发一次告警, 实际 %d", len(notifier.notes))
	}
	if err := svc.RunJob(context.Background(), JobPriceCollection); err != nil {
		t.Fatalf("手动执行价格采集失败: %v", err)
	}
	if err := svc.RunJob(context.Background(), JobDailyAnalysis); err == nil {
		t.Fatal("未配置分析器时每日分析应报错")
	}
	if err := svc.RunJob(context.Background(), "nope"); !errors.Is(err, scheduler.ErrUnknownJob) {
		t.Fatalf("未知任务应返回 ErrUnknownJob, 实际 %v", err)
	}
}
