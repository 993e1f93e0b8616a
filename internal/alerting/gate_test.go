package alerting

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crop-sell-advisor/internal/model"
	"crop-sell-advisor/internal/storage"
)

var sweepNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store, err := storage.OpenSQLite(ctx, "file:"+filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("建表失败: %v", err)
	}
	return store
}

func seedPrices(t *testing.T, store *storage.SQLiteStore, crop string, tag model.SourceTag, prices map[int]float64) {
	t.Helper()
	var series model.Series
	for offset, price := range prices {
		series = append(series, model.PricePoint{
			Crop:   crop,
			Date:   model.Day(sweepNow).AddDate(0, 0, offset),
			Price:  price,
			Market: "Khanna",
			Source: tag,
		})
	}
	if _, err := store.UpsertPrices(context.Background(), series); err != nil {
		t.Fatalf("写入价格失败: %v", err)
	}
}

func createRule(t *testing.T, store *storage.SQLiteStore, kind model.AlertKind, threshold string, lastTriggered *time.Time) model.AlertRule {
	t.Helper()
	ctx := context.Background()
	value := decimal.RequireFromString(threshold)
	rule := model.AlertRule{UserID: 1, Crop: "wheat", Kind: kind, Channels: []string{ChannelLog}, Active: true}
	if kind == model.AlertChange {
		rule.ThresholdPercent = &value
	} else {
		rule.ThresholdPrice = &value
	}
	rule, err := store.CreateRule(ctx, rule)
	if err != nil {
		t.Fatalf("创建规则失败: %v", err)
	}
	if lastTriggered != nil {
		if ok, err := store.ClaimAlertTrigger(ctx, rule.ID, *lastTriggered, time.Hour); err != nil || !ok {
			t.Fatalf("预置触发时间失败: %v %v", ok, err)
		}
		if rule, err = store.GetRule(ctx, rule.ID); err != nil {
			t.Fatalf("读取规则失败: %v", err)
		}
	}
	return rule
}

func newGate(store *storage.SQLiteStore, notifier Notifier, opts GateOptions) *Gate {
	return NewGate(store, store, notifier, store, opts, testLogger())
}

func TestCooldownSuppressesWithinHour(t *testing.T) {
	store := newStore(t)
	seedPrices(t, store, "wheat", model.SourceReal, map[int]float64{0: 2500})
	recent := sweepNow.Add(-30 * time.Minute)
	rule := createRule(t, store, model.AlertAbove, "2400", &recent)
	notifier := &countingNotifier{}

	out, err := newGate(store, notifier, GateOptions{}).Evaluate(context.Background(), rule, sweepNow)
	if err != nil {
		t.Fatalf("评估失败: %v", err)
	}
	if out.State != StateSuppressed || out.Event != nil {
		t.Fatalf("30 分钟前触发过的规则应被抑制, 实际 %s", out.State)
	}
	if notifier.calls.Load() != 0 {
		t.Fatal("冷却期内不应发送通知")
	}
}

func TestCooldownElapsedTriggersOnce(t *testing.T) {
	store := newStore(t)
	seedPrices(t, store, "wheat", model.SourceReal, map[int]float64{0: 2500})
	old := sweepNow.Add(-2 * time.Hour)
	rule := createRule(t, store, model.AlertAbove, "2400", &old)
	notifier := &countingNotifier{}
	gate := newGate(store, notifier, GateOptions{})

	out, err := gate.Evaluate(context.Background(), rule, sweepNow)
	if err != nil || out.State != StateTriggered || out.Event == nil {
		t.Fatalf("冷却结束后应触发: %s %v", out.State, err)
	}
	if out.Event.Message != "Price ₹2500.00 is above your threshold of ₹2400.00" {
		t.Fatalf("告警消息不正确: %q", out.Event.Message)
	}
	if notifier.calls.Load() != 1 {
		t.Fatalf("应恰好发送一次, 实际 %d", notifier.calls.Load())
	}

	stored, _ := store.GetRule(context.Background(), rule.ID)
	if stored.LastTriggeredAt == nil || !stored.LastTriggeredAt.Equal(sweepNow) {
		t.Fatalf("last_triggered_at 应更新为当前时间: %v", stored.LastTriggeredAt)
	}

	// stale snapshot: the store still rejects the second claim
	again, _ := gate.Evaluate(context.Background(), rule, sweepNow.Add(time.Minute))
	if again.State != StateSuppressed || notifier.calls.Load() != 1 {
		t.Fatalf("同一冷却窗口内不应再次触发: %s", again.State)
	}
}

func TestBelowAndNotMet(t *testing.T) {
	store := newStore(t)
	seedPrices(t, store, "wheat", model.SourceReal, map[int]float64{-1: 2300, 0: 2350})
	gate := newGate(store, &countingNotifier{}, GateOptions{})

	below := createRule(t, store, model.AlertBelow, "2400", nil)
	out, _ := gate.Evaluate(context.Background(), below, sweepNow)
	if out.State != StateTriggered || out.Event.Message != "Price ₹2350.00 is below your threshold of ₹2400.00" {
		t.Fatalf("BELOW 应触发: %s", out.State)
	}

	above := createRule(t, store, model.AlertAbove, "2400", nil)
	if out, _ := gate.Evaluate(context.Background(), above, sweepNow); out.State != StateNotMet {
		t.Fatalf("价格未超过阈值不应触发, 实际 %s", out.State)
	}
}

func TestChangeRule(t *testing.T) {
	store := newStore(t)
	seedPrices(t, store, "wheat", model.SourceReal, map[int]float64{-5: 1000, -1: 2000, 0: 2100})
	gate := newGate(store, &countingNotifier{}, GateOptions{})

	rule := createRule(t, store, model.AlertChange, "5", nil)
	out, _ := gate.Evaluate(context.Background(), rule, sweepNow)
	if out.State != StateTriggered {
		t.Fatalf("涨幅 5%% 应触发 CHANGE, 实际 %s", out.State)
	}
	if out.Event.Message != "Price increased by 5.0% (₹2100.00)" {
		t.Fatalf("CHANGE 消息不正确: %q", out.Event.Message)
	}
	if out.Event.ChangePct == nil || !out.Event.ChangePct.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("涨幅应为 5%%: %v", out.Event.ChangePct)
	}
}

func TestChangeRuleNeedsTwoDates(t *testing.T) {
	store := newStore(t)
	seedPrices(t, store, "wheat", model.SourceReal, map[int]float64{-3: 1000, 0: 2000})
	rule := createRule(t, store, model.AlertChange, "1", nil)

	out, _ := newGate(store, &countingNotifier{}, GateOptions{}).Evaluate(context.Background(), rule, sweepNow)
	if out.State != StateNotMet {
		t.Fatalf("24 小时内只有一个观测点时不应触发, 实际 %s", out.State)
	}
}

func TestSyntheticPricesIgnoredByDefault(t *testing.T) {
	store := newStore(t)
	seedPrices(t, store, "wheat", model.SourceSynthetic, map[int]float64{0: 9999})
	rule := createRule(t, store, model.AlertAbove, "2400", nil)

	out, _ := newGate(store, &countingNotifier{}, GateOptions{}).Evaluate(context.Background(), rule, sweepNow)
	if out.State != StateNoData {
		t.Fatalf("仅有合成价格时应视为无数据, 实际 %s", out.State)
	}
	out, _ = newGate(store, &countingNotifier{}, GateOptions{IncludeSynthetic: true}).Evaluate(context.Background(), rule, sweepNow)
	if out.State != StateTriggered {
		t.Fatalf("开启 include_synthetic 后应触发, 实际 %s", out.State)
	}
}

func TestDeliveryFailureStillAdvancesCooldown(t *testing.T) {
	store := newStore(t)
	seedPrices(t, store, "wheat", model.SourceReal, map[int]float64{0: 2600})
	rule := createRule(t, store, model.AlertAbove, "2400", nil)
	failing := &countingNotifier{err: context.DeadlineExceeded}

	out, err := newGate(store, failing, GateOptions{}).Evaluate(context.Background(), rule, sweepNow)
	if err != nil || out.State != StateTriggered || out.DeliveryErr == nil {
		t.Fatalf("发送失败应记录在结果中: %s %v %v", out.State, out.DeliveryErr, err)
	}
	stored, _ := store.GetRule(context.Background(), rule.ID)
	if stored.LastTriggeredAt == nil {
		t.Fatal("发送失败时冷却时间仍应推进")
	}
	recs, _ := store.ListRecentNotifications(context.Background(), 10)
	if len(recs) != 1 || recs[0].Delivered || recs[0].Error == nil {
		t.Fatalf("失败的通知应被审计: %+v", recs)
	}
	if recs[0].Priority != string(PriorityHigh) {
		t.Fatalf("偏离阈值超过 100 应为 high 优先级, 实际 %s", recs[0].Priority)
	}
}

func TestConcurrentSweepsFireOnce(t *testing.T) {
	store := newStore(t)
	seedPrices(t, store, "wheat", model.SourceReal, map[int]float64{0: 2500})
	createRule(t, store, model.AlertAbove, "2400", nil)
	notifier := &countingNotifier{}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		triggered int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := newGate(store, notifier, GateOptions{}).Sweep(context.Background(), sweepNow)
			if err != nil {
				t.Errorf("sweep 失败: %v", err)
				return
			}
			mu.Lock()
			triggered += res.Triggered
			mu.Unlock()
		}()
	}
	wg.Wait()

	if triggered != 1 || notifier.calls.Load() != 1 {
		t.Fatalf("并发 sweep 应只触发一次: triggered=%d sent=%d", triggered, notifier.calls.Load())
	}
}

func TestSweepCountsOutcomes(t *testing.T) {
	store := newStore(t)
	seedPrices(t, store, "wheat", model.SourceReal, map[int]float64{0: 2500})
	createRule(t, store, model.AlertAbove, "2400", nil)
	createRule(t, store, model.AlertBelow, "2400", nil)
	inactive := createRule(t, store, model.AlertAbove, "1", nil)
	if err := store.SetRuleActive(context.Background(), inactive.ID, false); err != nil {
		t.Fatalf("停用规则失败: %v", err)
	}

	res, err := newGate(store, &countingNotifier{}, GateOptions{}).Sweep(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("sweep 失败: %v", err)
	}
	if res.Checked != 2 || res.Triggered != 1 || len(res.Events) != 1 {
		t.Fatalf("统计不正确: %+v", res)
	}
}
